package meta

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngBytes encodes a w×h image, padded so its length is a multiple of three
// (base64 of it then carries no '=').
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	for buf.Len()%3 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func id3Frame(id string, payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString(id)
	_ = binary.Write(&b, binary.BigEndian, uint32(len(payload)))
	b.Write([]byte{0, 0})
	b.Write(payload)
	return b.Bytes()
}

func id3Text(id, text string) []byte {
	return id3Frame(id, append([]byte{0}, text...))
}

func id3Picture(mime string, data []byte) []byte {
	payload := []byte{0}
	payload = append(payload, mime...)
	payload = append(payload, 0, 3, 0) // terminator, front cover, empty description
	payload = append(payload, data...)
	return id3Frame("APIC", payload)
}

// id3v23 wraps frames into an ID3v2.3 tag followed by a little audio.
func id3v23(frames ...[]byte) []byte {
	body := bytes.Join(frames, nil)
	size := len(body)
	var b bytes.Buffer
	b.WriteString("ID3")
	b.Write([]byte{3, 0, 0})
	b.Write([]byte{byte(size >> 21 & 0x7F), byte(size >> 14 & 0x7F), byte(size >> 7 & 0x7F), byte(size & 0x7F)})
	b.Write(body)
	b.Write(mpegFrame())
	return b.Bytes()
}

func mpegFrame() []byte {
	frame := make([]byte, 200)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x64})
	return frame
}

func flacBlock(kind byte, last bool, body []byte) []byte {
	if last {
		kind |= 0x80
	}
	n := len(body)
	return append([]byte{kind, byte(n >> 16), byte(n >> 8), byte(n)}, body...)
}

func vorbisComments(comments ...string) []byte {
	var b bytes.Buffer
	vendor := "tunevault-test"
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(vendor)))
	b.WriteString(vendor)
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(comments)))
	for _, c := range comments {
		_ = binary.Write(&b, binary.LittleEndian, uint32(len(c)))
		b.WriteString(c)
	}
	return b.Bytes()
}

func flacPicture(mime string, data []byte) []byte {
	var b bytes.Buffer
	be := func(v uint32) { _ = binary.Write(&b, binary.BigEndian, v) }
	be(3) // front cover
	be(uint32(len(mime)))
	b.WriteString(mime)
	be(0) // description
	be(0) // width
	be(0) // height
	be(0) // depth
	be(0) // colours
	be(uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func flacFile(blocks ...[]byte) []byte {
	return append([]byte("fLaC"), bytes.Join(blocks, nil)...)
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

var oggCRC = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// oggPage frames packets into one page with a valid checksum.
func oggPage(seq uint32, flags byte, packets ...[]byte) []byte {
	var table, data []byte
	for _, p := range packets {
		n := len(p)
		for ; n >= 255; n -= 255 {
			table = append(table, 255)
		}
		table = append(table, byte(n))
		data = append(data, p...)
	}

	var b bytes.Buffer
	b.WriteString("OggS")
	b.Write([]byte{0, flags})
	b.Write(make([]byte, 8)) // granule position
	_ = binary.Write(&b, binary.LittleEndian, uint32(0x5eed))
	_ = binary.Write(&b, binary.LittleEndian, seq)
	b.Write(make([]byte, 4)) // checksum, filled below
	b.WriteByte(byte(len(table)))
	b.Write(table)
	b.Write(data)

	page := b.Bytes()
	var crc uint32
	for _, v := range page {
		crc = crc<<8 ^ oggCRC[byte(crc>>24)^v]
	}
	binary.LittleEndian.PutUint32(page[22:], crc)
	return page
}

// oggVorbis builds identification, comment and one audio page.
func oggVorbis(comments ...string) []byte {
	id := append([]byte("\x01vorbis"), make([]byte, 23)...)
	comment := append(append([]byte("\x03vorbis"), vorbisComments(comments...)...), 1)
	return bytes.Join([][]byte{
		oggPage(0, 0x02, id),
		oggPage(1, 0, comment),
		oggPage(2, 0, make([]byte, 64)),
	}, nil)
}

func oggOpus(comments ...string) []byte {
	head := append([]byte("OpusHead"), 1, 2, 0x38, 1, 0x80, 0xbb, 0, 0, 0, 0, 0)
	tags := append([]byte("OpusTags"), vorbisComments(comments...)...)
	return bytes.Join([][]byte{
		oggPage(0, 0x02, head),
		oggPage(1, 0, tags),
		oggPage(2, 0, make([]byte, 64)),
	}, nil)
}

// id3v1Trailer builds the fixed 128-byte ID3v1.1 tag.
func id3v1Trailer(title, artist, album string, track byte) []byte {
	field := func(s string, n int) []byte {
		f := make([]byte, n)
		copy(f, s)
		return f
	}
	var b bytes.Buffer
	b.WriteString("TAG")
	b.Write(field(title, 30))
	b.Write(field(artist, 30))
	b.Write(field(album, 30))
	b.Write(field("1999", 4))
	b.Write(field("", 28))
	b.Write([]byte{0, track, 255})
	return b.Bytes()
}
