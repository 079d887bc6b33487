package library

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Kind classifies a file for indexing.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindOther Kind = "other"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true, ".avif": true, ".dng": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".3gp": true,
}

// Detect returns the Kind for the given file path based on extension.
func Detect(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return KindImage
	case videoExts[ext]:
		return KindVideo
	default:
		return KindOther
	}
}

// imageMeta is what can be learned from an image file's headers.
type imageMeta struct {
	Width   int
	Height  int
	TakenAt *time.Time
}

// probeImage reads pixel dimensions from the image header (no full decode)
// and the EXIF capture time. Unknown formats and missing EXIF leave the
// corresponding fields zero.
func probeImage(path string) imageMeta {
	var meta imageMeta

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}

	if _, err := f.Seek(0, 0); err != nil {
		return meta
	}
	x, err := exif.Decode(f)
	if err != nil {
		return meta // no EXIF, not an error
	}
	if t, err := x.DateTime(); err == nil && !t.IsZero() {
		meta.TakenAt = &t
	}
	return meta
}
