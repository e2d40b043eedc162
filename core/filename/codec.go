// Package filename recovers mis-decoded file names and brings them into NFC
// before they are used as logical paths.
package filename

import (
	"unicode/utf8"

	"tunevault/logger"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

type legacyEncoding struct {
	name string
	enc  encoding.Encoding
}

// Upload names arrive as UTF-8 bytes that some client decoded with a legacy
// code page. Order matters: the first clean round trip wins.
var uploadEncodings = []legacyEncoding{
	{name: "latin-1", enc: charmap.ISO8859_1},
	{name: "cp1251", enc: charmap.Windows1251},
}

// Normalize returns raw with mojibake undone when possible, in NFC.
func Normalize(raw string) string {
	name := raw
	for _, le := range uploadEncodings {
		if fixed, ok := redecode(raw, le.enc); ok {
			name = fixed
			if fixed != raw {
				logger.Debug("filename recovered",
					logger.String("encoding", le.name),
					logger.String("from", raw),
					logger.String("to", fixed))
			}
			break
		}
	}
	if name == raw {
		logger.Debug("filename kept", logger.String("name", raw))
	}
	return norm.NFC.String(name)
}

// redecode turns s back into the bytes enc would have produced and reads them
// as UTF-8. It fails unless the bytes are valid UTF-8 and decode back to s.
func redecode(s string, enc encoding.Encoding) (string, bool) {
	b, err := enc.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(b) {
		return "", false
	}
	back, err := enc.NewDecoder().String(b)
	if err != nil || back != s {
		return "", false
	}
	return b, true
}

// RecoverArchiveName decodes a raw archive member name. unreliable reports
// that the archive did not declare UTF-8 for the entry. Names that are already
// valid UTF-8 are kept; otherwise the bytes are read as DOS Cyrillic (CP866)
// when that yields Cyrillic letters, and as CP437, the zip default, when not.
func RecoverArchiveName(raw string, unreliable bool) string {
	if !unreliable || utf8.ValidString(raw) {
		return norm.NFC.String(raw)
	}

	if name, ok := decodeLegacy(raw, charmap.CodePage866); ok && hasCyrillic(name) {
		logger.Debug("archive member name recovered",
			logger.String("encoding", "cp866"),
			logger.String("to", name))
		return norm.NFC.String(name)
	}

	name, ok := decodeLegacy(raw, charmap.CodePage437)
	if !ok {
		name = string([]rune(raw)) // invalid bytes become U+FFFD
	}
	logger.Debug("archive member name kept", logger.String("name", name))
	return norm.NFC.String(name)
}

func decodeLegacy(raw string, enc encoding.Encoding) (string, bool) {
	s, err := enc.NewDecoder().String(raw)
	if err != nil {
		return "", false
	}
	back, err := enc.NewEncoder().String(s)
	if err != nil || back != raw {
		return "", false
	}
	return s, true
}

func hasCyrillic(s string) bool {
	for _, r := range s {
		if r >= 'А' && r <= 'я' {
			return true
		}
	}
	return false
}
