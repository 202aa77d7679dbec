package mediarepo

import (
	"path/filepath"
	"strings"
)

type MediaType int

const (
	Unknown MediaType = iota
	Image
	Video
)

func (m MediaType) String() string {
	switch m {
	case Image:
		return "image"
	case Video:
		return "video"
	}
	return "unknown"
}

var (
	imageExtensions = map[string]struct{}{
		"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "tif": {}, "tiff": {},
		"bmp": {}, "heic": {}, "heif": {}, "webp": {},
	}
	rawExtensions = map[string]struct{}{
		"cr2": {}, "cr3": {}, "nef": {}, "arw": {}, "dng": {}, "orf": {},
		"raf": {}, "rw2": {}, "pef": {}, "srw": {},
	}
	videoExtensions = map[string]struct{}{
		"mov": {}, "mp4": {}, "m4v": {}, "avi": {}, "mts": {}, "m2ts": {},
		"mkv": {}, "3gp": {}, "mpg": {}, "mpeg": {}, "wmv": {},
	}
)

// TypeOf classifies a path by its extension. Raw camera formats count as
// images only when includeRaw is set.
func TypeOf(path string, includeRaw bool) MediaType {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return Unknown
	}
	if _, ok := imageExtensions[ext]; ok {
		return Image
	}
	if _, ok := rawExtensions[ext]; ok && includeRaw {
		return Image
	}
	if _, ok := videoExtensions[ext]; ok {
		return Video
	}
	return Unknown
}
