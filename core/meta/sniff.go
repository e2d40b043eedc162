package meta

import (
	"bytes"

	"github.com/dhowden/tag"
)

// Parser reads tags for one variant.
type Parser interface {
	Variant() Variant
	Parse(content []byte, name string) Metadata
}

var parsers = map[Variant]Parser{
	MP3:  id3Parser{},
	FLAC: vorbisParser{variant: FLAC},
	OGG:  vorbisParser{variant: OGG},
}

// Identify picks the parser by content signature. The file name is never
// consulted. ok is false for content no variant recognises.
func Identify(content []byte) (Parser, bool) {
	v := sniff(content)
	if v == Unknown {
		return nil, false
	}
	return parsers[v], true
}

func sniff(content []byte) Variant {
	_, fileType, err := tag.Identify(bytes.NewReader(content))
	if err == nil {
		switch fileType {
		case tag.MP3:
			return MP3
		case tag.FLAC:
			return FLAC
		case tag.OGG:
			return OGG
		}
	}
	if isMPEGAudioFrame(content) {
		return MP3
	}
	return Unknown
}

// isMPEGAudioFrame checks for an MPEG audio frame header at offset 0, which is
// how an MP3 without any ID3 tag starts.
func isMPEGAudioFrame(b []byte) bool {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	sampleRate := (b[2] >> 2) & 0x03
	return version != 0x01 && layer != 0x00 && bitrate != 0x0F && sampleRate != 0x03
}
