package meta

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path"
	"strings"
)

// ImageInfo is what cover handling needs to know about an image.
type ImageInfo struct {
	Format   string
	MIMEType string
	Width    int
	Height   int
}

// InspectImage reads only the image header.
func InspectImage(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("inspect image: %w", err)
	}
	return ImageInfo{
		Format:   format,
		MIMEType: "image/" + format,
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// Extension returns the file extension used for a stored cover.
func (i ImageInfo) Extension() string {
	switch i.Format {
	case "jpeg":
		return "jpg"
	case "":
		return "img"
	default:
		return i.Format
	}
}

var coverBaseNames = []string{"cover", "folder", "front"}

// CoverRank reports whether a member name looks like a directory cover and
// its preference (lower is better). Only jpg/jpeg/png files qualify.
func CoverRank(name string) (int, bool) {
	base := strings.ToLower(path.Base(name))
	ext := path.Ext(base)
	switch ext {
	case ".jpg", ".jpeg", ".png":
	default:
		return 0, false
	}
	stem := strings.TrimSuffix(base, ext)
	for i, candidate := range coverBaseNames {
		if stem == candidate {
			return i, true
		}
	}
	return 0, false
}
