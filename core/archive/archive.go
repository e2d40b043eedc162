// Package archive unpacks uploads into audio units and directory covers.
package archive

import (
	"fmt"
	"io"
	"path"
	"strings"

	"tunevault/core/meta"
)

// Kind is the closed set of container handlers.
type Kind int

const (
	Passthrough Kind = iota
	Zip
	TarGz
	Tar
	Gzip
)

func (k Kind) String() string {
	switch k {
	case Zip:
		return "zip"
	case TarGz:
		return "tar.gz"
	case Tar:
		return "tar"
	case Gzip:
		return "gz"
	default:
		return "file"
	}
}

// Member is one regular file read out of an upload, with its name already
// recovered to readable UTF-8.
type Member struct {
	Name string
	Data []byte
}

// Handler lists the regular-file members of one container kind.
type Handler interface {
	Kind() Kind
	Members(src io.ReaderAt, size int64, name string, b *Budget) ([]Member, error)
}

type route struct {
	suffix  string
	handler Handler
}

// Longer suffixes come first: "x.tar.gz" must never reach the bare gzip
// handler.
var routes = []route{
	{".zip", zipHandler{}},
	{".tar.gz", tarHandler{compressed: true}},
	{".tgz", tarHandler{compressed: true}},
	{".tar", tarHandler{}},
	{".gz", gzipHandler{}},
}

// HandlerFor picks the handler for an upload by its file name. Names no route
// matches get the pass-through handler, which yields the upload itself.
func HandlerFor(name string) Handler {
	lower := strings.ToLower(name)
	for _, r := range routes {
		if strings.HasSuffix(lower, r.suffix) {
			return r.handler
		}
	}
	return passthroughHandler{}
}

// ExtractedUnit is an audio member ready for storage.
type ExtractedUnit struct {
	Name     string // recovered hierarchical path inside the upload
	Data     []byte
	Parser   meta.Parser
	Metadata meta.Metadata
	CoverRef string // CoverArtifact.Ref of the directory cover, empty when none applies
}

// CoverArtifact is a directory cover used by at least one unit.
type CoverArtifact struct {
	Ref  string // member path of the image
	Dir  string
	Data []byte
	Info meta.ImageInfo
}

// Result is everything Extract found. Skipped lists members that were neither
// audio nor a cover.
type Result struct {
	Tracks  []ExtractedUnit
	Covers  []CoverArtifact
	Skipped []string
}

// Extract unpacks an upload named name and resolves every audio member and the
// cover that applies to it. maxExtracted caps the decompressed bytes of all
// members together; past it Extract fails with ErrTooLarge. Zero means no cap.
func Extract(src io.ReaderAt, size int64, name string, maxExtracted int64) (Result, error) {
	h := HandlerFor(name)
	members, err := h.Members(src, size, name, NewBudget(maxExtracted))
	if err != nil {
		return Result{}, fmt.Errorf("extract %s %q: %w", h.Kind(), name, err)
	}
	return Resolve(members), nil
}

// cleanPath makes a member name a relative slash path without ".." segments.
func cleanPath(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	parts := strings.Split(name, "/")
	kept := parts[:0]
	for _, p := range parts {
		switch p {
		case "", ".", "..":
			continue
		}
		kept = append(kept, p)
	}
	return path.Join(kept...)
}
