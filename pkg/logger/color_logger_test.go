package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func TestColorLogger_Printcf(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	buf := bytes.Buffer{}
	clg := NewColorLogger(log.New(&buf, "test --> ", 0))

	clg.Printcf(ColorGreen, "watch %s got %d events", "root", 3)
	clg.Printc(Color(42), "unknown color falls back")

	require.Equal(t, "test --> watch root got 3 events\ntest --> unknown color falls back\n", buf.String())
}
