package meta

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"tunevault/logger"

	"github.com/dhowden/tag"
)

// Raw tag keys that carry the track number, by tag family.
var trackNumberKeys = []string{"TRCK", "TRK", "tracknumber", "track"}

type id3Parser struct{}

func (id3Parser) Variant() Variant { return MP3 }

func (id3Parser) Parse(content []byte, name string) Metadata {
	md := Metadata{Variant: MP3, TrackNumber: NoTrackNumber}
	m, err := tag.ReadFrom(bytes.NewReader(content))
	if err != nil {
		// A broken ID3v2 frame still leaves any ID3v1 trailer readable.
		if v1, v1err := tag.ReadID3v1Tags(bytes.NewReader(content)); v1err == nil {
			logger.Debug("id3v2 unreadable, using id3v1", logger.String("name", name), logger.ErrorField(err))
			fill(&md, m1Fields(v1), name)
			return md
		}
		// frame-synced MP3 without tags
		logger.Debug("no readable tags", logger.String("name", name), logger.ErrorField(err))
		md.Title = TitleFromPath(name)
		return md
	}

	fill(&md, tagFields(m), name)
	if p := m.Picture(); p != nil && len(p.Data) > 0 {
		pic := &Picture{Data: p.Data, MIMEType: p.MIMEType}
		if info, err := InspectImage(p.Data); err == nil {
			pic.Format, pic.Width, pic.Height = info.Format, info.Width, info.Height
			if pic.MIMEType == "" {
				pic.MIMEType = info.MIMEType
			}
		}
		md.Cover = pic
	}
	return md
}

// vorbisParser serves FLAC and OGG (Vorbis or Opus); both carry Vorbis
// comments and the same two cover encodings.
type vorbisParser struct {
	variant Variant
}

func (p vorbisParser) Variant() Variant { return p.variant }

func (p vorbisParser) Parse(content []byte, name string) Metadata {
	md := Metadata{Variant: p.variant, TrackNumber: NoTrackNumber}
	m, err := tag.ReadFrom(bytes.NewReader(content))
	if err == nil {
		fill(&md, tagFields(m), name)
		md.Cover = firstValidPicture(coverCandidates(m))
		return md
	}

	// tag gives up on the whole header when one picture is malformed, so
	// re-read the comments without decoding any picture up front.
	block, berr := readVorbisBlock(content, p.variant)
	if berr != nil {
		logger.Warn("vorbis comments unreadable",
			logger.String("name", name),
			logger.String("variant", p.variant.String()),
			logger.ErrorField(err))
		md.Title = TitleFromPath(name)
		return md
	}
	logger.Debug("vorbis comments read leniently",
		logger.String("name", name),
		logger.String("variant", p.variant.String()),
		logger.ErrorField(err))
	fill(&md, commentFields(block.comments), name)
	md.Cover = firstValidPicture(block.coverCandidates())
	return md
}

// fields are the text tags common to every tag family.
type fields struct {
	title, album, artist, genre, trackNumber string
}

func tagFields(m tag.Metadata) fields {
	return fields{
		title:       m.Title(),
		album:       m.Album(),
		artist:      m.Artist(),
		genre:       m.Genre(),
		trackNumber: rawTrackNumber(m.Raw()),
	}
}

// m1Fields drops a zero ID3v1 track byte, which means "no track".
func m1Fields(m tag.Metadata) fields {
	f := tagFields(m)
	if f.trackNumber == "0" {
		f.trackNumber = ""
	}
	return f
}

func commentFields(c map[string]string) fields {
	f := fields{
		title:       c["title"],
		album:       c["album"],
		artist:      c["artist"],
		genre:       c["genre"],
		trackNumber: c["tracknumber"],
	}
	if f.trackNumber == "" {
		f.trackNumber = c["track"]
	}
	return f
}

func fill(md *Metadata, f fields, name string) {
	md.Title = strings.TrimSpace(f.title)
	if md.Title == "" {
		md.Title = TitleFromPath(name)
	}
	md.Album = strings.TrimSpace(f.album)
	md.Artist = strings.TrimSpace(f.artist)
	md.Genre = strings.TrimSpace(f.genre)
	md.TrackNumber = ParseTrackNumber(f.trackNumber)
}

func rawTrackNumber(raw map[string]interface{}) string {
	for _, key := range trackNumberKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

type pictureCandidate struct {
	source string
	data   func() ([]byte, error)
	mime   string
}

// coverCandidates lists the picture block first, then the legacy base64
// COVERART/COVERARTMIME pair.
func coverCandidates(m tag.Metadata) []pictureCandidate {
	var out []pictureCandidate
	if p := m.Picture(); p != nil {
		data := p.Data
		out = append(out, pictureCandidate{
			source: "picture",
			data:   func() ([]byte, error) { return data, nil },
			mime:   p.MIMEType,
		})
	}

	raw := m.Raw()
	encoded, _ := raw["coverart"].(string)
	mime, _ := raw["coverartmime"].(string)
	return append(out, legacyCoverArt(encoded, mime)...)
}

// coverCandidates lists FLAC PICTURE blocks, then METADATA_BLOCK_PICTURE, then
// the legacy COVERART pair. Each is decoded only when tried.
func (b *vorbisBlock) coverCandidates() []pictureCandidate {
	var out []pictureCandidate
	for _, body := range b.pictures {
		out = append(out, pictureBlockCandidate("picture", func() ([]byte, error) { return body, nil }))
	}
	if encoded := b.comments["metadata_block_picture"]; encoded != "" {
		out = append(out, pictureBlockCandidate("metadata_block_picture", func() ([]byte, error) {
			return base64.StdEncoding.DecodeString(encoded)
		}))
	}
	return append(out, legacyCoverArt(b.comments["coverart"], b.comments["coverartmime"])...)
}

func legacyCoverArt(encoded, mime string) []pictureCandidate {
	if encoded == "" {
		return nil
	}
	return []pictureCandidate{{
		source: "coverart",
		data:   func() ([]byte, error) { return base64.StdEncoding.DecodeString(encoded) },
		mime:   mime,
	}}
}

// pictureBlockCandidate unwraps a PICTURE block body. The block's own MIME
// type is not carried; firstValidPicture takes it from the decoded image.
func pictureBlockCandidate(source string, raw func() ([]byte, error)) pictureCandidate {
	return pictureCandidate{
		source: source,
		data: func() ([]byte, error) {
			b, err := raw()
			if err != nil {
				return nil, err
			}
			data, _, err := parsePictureBlock(b)
			return data, err
		},
	}
}

// firstValidPicture returns the first candidate that decodes to an image.
// Malformed candidates are skipped without error.
func firstValidPicture(candidates []pictureCandidate) *Picture {
	for _, c := range candidates {
		data, err := c.data()
		if err != nil || len(data) == 0 {
			logger.Debug("cover candidate skipped", logger.String("source", c.source), logger.ErrorField(err))
			continue
		}
		info, err := InspectImage(data)
		if err != nil {
			logger.Debug("cover candidate skipped", logger.String("source", c.source), logger.ErrorField(err))
			continue
		}
		mime := c.mime
		if mime == "" || !strings.HasPrefix(mime, "image/") {
			mime = info.MIMEType
		}
		return &Picture{Data: data, MIMEType: mime, Format: info.Format, Width: info.Width, Height: info.Height}
	}
	return nil
}
