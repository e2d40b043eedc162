package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"tunevault/core/filename"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

type zipHandler struct{}

func (zipHandler) Kind() Kind { return Zip }

func (zipHandler) Members(src io.ReaderAt, size int64, _ string, b *Budget) ([]Member, error) {
	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := cleanPath(filename.RecoverArchiveName(f.Name, f.NonUTF8))
		if name == "" {
			continue
		}
		data, err := readZipFile(f, b)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}
		out = append(out, Member{Name: name, Data: data})
	}
	return out, nil
}

func readZipFile(f *zip.File, b *Budget) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return b.read(rc)
}

type tarHandler struct {
	compressed bool
}

func (h tarHandler) Kind() Kind {
	if h.compressed {
		return TarGz
	}
	return Tar
}

func (h tarHandler) Members(src io.ReaderAt, size int64, _ string, b *Budget) ([]Member, error) {
	var r io.Reader = io.NewSectionReader(src, 0, size)
	if h.compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	var out []Member
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		// tar carries no encoding flag; a name that is not UTF-8 came from a legacy tool
		raw := hdr.Name
		name := cleanPath(filename.RecoverArchiveName(raw, !utf8.ValidString(raw)))
		if name == "" {
			continue
		}
		data, err := b.read(tr)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}
		out = append(out, Member{Name: name, Data: data})
	}
}

type gzipHandler struct{}

func (gzipHandler) Kind() Kind { return Gzip }

func (gzipHandler) Members(src io.ReaderAt, size int64, name string, b *Budget) ([]Member, error) {
	gz, err := gzip.NewReader(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	data, err := b.read(gz)
	if err != nil {
		return nil, err
	}
	return []Member{{Name: memberName(name, ".gz"), Data: data}}, nil
}

// memberName strips a compression suffix, matched case-insensitively.
func memberName(name, suffix string) string {
	base := cleanPath(name)
	if strings.HasSuffix(strings.ToLower(base), suffix) {
		base = base[:len(base)-len(suffix)]
	}
	if base == "" {
		return cleanPath(name)
	}
	return base
}

type passthroughHandler struct{}

func (passthroughHandler) Kind() Kind { return Passthrough }

func (passthroughHandler) Members(src io.ReaderAt, size int64, name string, b *Budget) ([]Member, error) {
	data, err := b.read(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, err
	}
	return []Member{{Name: cleanPath(name), Data: data}}, nil
}

// ErrTooLarge reports an upload whose members inflate past the extraction
// budget.
var ErrTooLarge = errors.New("extracted content exceeds limit")

// Budget caps the total bytes read out of one upload. A nil Budget is
// unlimited.
type Budget struct {
	remaining int64
}

// NewBudget returns nil for a limit of zero or less.
func NewBudget(limit int64) *Budget {
	if limit <= 0 {
		return nil
	}
	return &Budget{remaining: limit}
}

// read reads r to the end, charging what it reads against the budget. It
// stops one byte past the remaining allowance.
func (b *Budget) read(r io.Reader) ([]byte, error) {
	if b == nil {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, b.remaining+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > b.remaining {
		b.remaining = 0
		return nil, ErrTooLarge
	}
	b.remaining -= int64(len(data))
	return data, nil
}
