package meta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	flacCommentBlock = 4
	flacPictureBlock = 6

	// The comment header is the second packet of both Vorbis and Opus streams.
	oggHeaderPackets = 2
)

var (
	vorbisCommentPrefix = []byte("\x03vorbis")
	opusTagsPrefix      = []byte("OpusTags")

	errNoComments = errors.New("no vorbis comment header")
)

// vorbisBlock is what a lenient walk of a FLAC or Ogg stream recovers: the
// comment fields keyed in lower case and the raw bodies of FLAC PICTURE blocks.
// Nothing in it is decoded beyond the comment list, so a broken picture cannot
// take the text tags down with it.
type vorbisBlock struct {
	comments map[string]string
	pictures [][]byte
}

func readVorbisBlock(content []byte, v Variant) (*vorbisBlock, error) {
	switch v {
	case FLAC:
		return readFLACBlocks(content)
	case OGG:
		return readOggComments(content)
	}
	return nil, fmt.Errorf("%s carries no vorbis comments", v)
}

// readFLACBlocks steps over metadata blocks by their declared length. A block
// running past the end of content is cut short rather than rejected.
func readFLACBlocks(content []byte) (*vorbisBlock, error) {
	if !bytes.HasPrefix(content, []byte("fLaC")) {
		return nil, errors.New("missing fLaC marker")
	}
	out := &vorbisBlock{comments: make(map[string]string)}
	found := false
	for off := 4; off+4 <= len(content); {
		header := content[off]
		n := int(content[off+1])<<16 | int(content[off+2])<<8 | int(content[off+3])
		start := off + 4
		end := start + n
		if end > len(content) {
			end = len(content)
		}
		switch header & 0x7F {
		case flacCommentBlock:
			if err := parseComments(content[start:end], out.comments); err == nil {
				found = true
			}
		case flacPictureBlock:
			out.pictures = append(out.pictures, content[start:end])
		}
		if header&0x80 != 0 {
			break
		}
		off = end
	}
	if !found {
		return nil, errNoComments
	}
	return out, nil
}

// readOggComments reassembles the leading packets of the stream and parses the
// Vorbis or Opus comment header. Page checksums are not verified.
func readOggComments(content []byte) (*vorbisBlock, error) {
	var packet []byte
	packets := 0
	for off := 0; off+27 <= len(content); {
		if !bytes.Equal(content[off:off+4], []byte("OggS")) {
			return nil, errors.New("lost ogg page sync")
		}
		segments := int(content[off+26])
		p := off + 27 + segments
		if p > len(content) {
			break
		}
		for _, size := range content[off+27 : off+27+segments] {
			end := p + int(size)
			if end > len(content) {
				end = len(content)
			}
			packet = append(packet, content[p:end]...)
			p = end
			if size == 255 {
				continue
			}

			var body []byte
			switch {
			case bytes.HasPrefix(packet, vorbisCommentPrefix):
				body = packet[len(vorbisCommentPrefix):]
			case bytes.HasPrefix(packet, opusTagsPrefix):
				body = packet[len(opusTagsPrefix):]
			}
			if body != nil {
				out := &vorbisBlock{comments: make(map[string]string)}
				if err := parseComments(body, out.comments); err != nil {
					return nil, err
				}
				return out, nil
			}
			packet = nil
			packets++
			if packets >= oggHeaderPackets {
				return nil, errNoComments
			}
		}
		off = p
	}
	return nil, errNoComments
}

// parseComments reads a Vorbis comment list into dst. Entries without '=' are
// skipped, and a list cut short keeps the entries read so far. Only a missing
// vendor header is an error.
func parseComments(b []byte, dst map[string]string) error {
	r := leReader{b: b}
	vendorLen, ok := r.u32()
	if !ok {
		return errors.New("truncated vendor length")
	}
	if _, ok := r.take(int(vendorLen)); !ok {
		return errors.New("truncated vendor string")
	}
	count, ok := r.u32()
	if !ok {
		return nil
	}
	for i := uint32(0); i < count; i++ {
		n, ok := r.u32()
		if !ok {
			return nil
		}
		entry, ok := r.take(int(n))
		if !ok {
			return nil
		}
		key, value, ok := strings.Cut(string(entry), "=")
		if !ok {
			continue
		}
		dst[strings.ToLower(key)] = value
	}
	return nil
}

type leReader struct {
	b   []byte
	off int
}

func (r *leReader) u32() (uint32, bool) {
	if r.off+4 > len(r.b) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, true
}

func (r *leReader) take(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, false
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, true
}

// parsePictureBlock extracts the image bytes and MIME type from a FLAC PICTURE
// block body, which is also the payload of METADATA_BLOCK_PICTURE.
func parsePictureBlock(b []byte) ([]byte, string, error) {
	off := 0
	next := func() (uint32, bool) {
		if off+4 > len(b) {
			return 0, false
		}
		v := binary.BigEndian.Uint32(b[off:])
		off += 4
		return v, true
	}
	skip := func(n uint32) bool {
		if uint64(off)+uint64(n) > uint64(len(b)) {
			return false
		}
		off += int(n)
		return true
	}

	if _, ok := next(); !ok { // picture type
		return nil, "", errors.New("truncated picture block")
	}
	mimeLen, ok := next()
	if !ok || !skip(mimeLen) {
		return nil, "", errors.New("truncated picture mime")
	}
	mime := string(b[off-int(mimeLen) : off])
	descLen, ok := next()
	if !ok || !skip(descLen) {
		return nil, "", errors.New("truncated picture description")
	}
	// width, height, depth, colours
	if !skip(16) {
		return nil, "", errors.New("truncated picture dimensions")
	}
	dataLen, ok := next()
	if !ok || !skip(dataLen) {
		return nil, "", errors.New("truncated picture data")
	}
	return b[off-int(dataLen) : off], mime, nil
}
