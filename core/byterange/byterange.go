// Package byterange turns a Range header into the slice of an object to serve.
package byterange

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var rangeSpec = regexp.MustCompile(`^\s*(\d*)-(\d*)\s*$`)

// Plan says which bytes of an object a response carries. End is inclusive.
type Plan struct {
	Start   int64
	End     int64
	Length  int64
	Total   int64
	Partial bool
}

func full(total int64) Plan {
	end := total - 1
	if total == 0 {
		end = 0
	}
	return Plan{Start: 0, End: end, Length: total, Total: total}
}

// PlanRead parses "bytes=<start>-<end>". Only the first range of a list is
// honoured. A missing start means 0 and a missing end means the last byte.
// Anything unparseable or unsatisfiable yields the full object; an end past
// the object is clamped.
func PlanRead(header string, total int64) Plan {
	if header == "" || total <= 0 {
		return full(total)
	}
	unit, spec, ok := strings.Cut(header, "=")
	if !ok || strings.TrimSpace(strings.ToLower(unit)) != "bytes" {
		return full(total)
	}
	first, _, _ := strings.Cut(spec, ",")
	m := rangeSpec.FindStringSubmatch(first)
	if m == nil || (m[1] == "" && m[2] == "") {
		return full(total)
	}

	start, end := int64(0), total-1
	if m[1] != "" {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return full(total)
		}
		start = n
	}
	if m[2] != "" {
		n, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return full(total)
		}
		end = min(n, total-1)
	}
	if start > end || start >= total {
		return full(total)
	}
	return Plan{Start: start, End: end, Length: end - start + 1, Total: total, Partial: true}
}

// Status is 206 for a partial plan and 200 otherwise.
func (p Plan) Status() int {
	if p.Partial {
		return http.StatusPartialContent
	}
	return http.StatusOK
}

// ContentRange is the Content-Range value of a partial plan.
func (p Plan) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", p.Start, p.End, p.Total)
}

// WriteHeader sets the entity headers and writes the status line.
func (p Plan) WriteHeader(w http.ResponseWriter, contentType string) {
	h := w.Header()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(p.Length, 10))
	if p.Partial {
		h.Set("Content-Range", p.ContentRange())
	}
	w.WriteHeader(p.Status())
}

// ReadEnd is the end argument for a ranged blob read; -1 reads to the end.
func (p Plan) ReadEnd() int64 {
	if !p.Partial {
		return -1
	}
	return p.End
}
