// Package meta detects audio containers by signature and reads their tags and
// embedded cover art.
package meta

// Variant is the closed set of containers the sniffer recognises.
type Variant int

const (
	Unknown Variant = iota
	MP3
	FLAC
	OGG
)

func (v Variant) String() string {
	switch v {
	case MP3:
		return "mp3"
	case FLAC:
		return "flac"
	case OGG:
		return "ogg"
	default:
		return "unknown"
	}
}

// MimeType is the content type stored with the blob.
func (v Variant) MimeType() string {
	switch v {
	case MP3:
		return "audio/mpeg"
	case FLAC:
		return "audio/flac"
	case OGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Picture is an embedded or directory cover image.
type Picture struct {
	Data     []byte
	MIMEType string
	Format   string // jpeg, png, gif; empty when the bytes could not be inspected
	Width    int
	Height   int
}

// Metadata is the tag set every variant yields.
type Metadata struct {
	Variant     Variant
	Title       string
	TrackNumber int // -1 when absent
	Album       string
	Artist      string
	Genre       string
	Cover       *Picture
}
