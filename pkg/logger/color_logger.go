package logger

import (
	"log"

	"github.com/fatih/color"
)

type ColorLogger struct {
	*log.Logger
}

type Color int

const (
	ColorBlack Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
)

var palette = map[Color]*color.Color{
	ColorBlack:   color.New(color.FgBlack),
	ColorRed:     color.New(color.FgRed),
	ColorGreen:   color.New(color.FgGreen),
	ColorYellow:  color.New(color.FgYellow),
	ColorBlue:    color.New(color.FgBlue),
	ColorMagenta: color.New(color.FgMagenta),
}

func NewColorLogger(lg *log.Logger) *ColorLogger {
	c := ColorLogger{
		lg,
	}
	return &c
}

func (c *ColorLogger) Printcf(col Color, format string, args ...interface{}) {
	c.Print(paint(col).Sprintf(format, args...))
}

func (c *ColorLogger) Printc(col Color, s string) {
	c.Print(paint(col).Sprint(s))
}

func paint(col Color) *color.Color {
	if p, ok := palette[col]; ok {
		return p
	}
	return palette[ColorBlack]
}
