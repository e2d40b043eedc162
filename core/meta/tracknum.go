package meta

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

// NoTrackNumber is returned when a track tag is empty or has no digits.
const NoTrackNumber = -1

var digitRun = regexp.MustCompile(`\d+`)

// ParseTrackNumber returns the first run of decimal digits in raw, so "03/12"
// gives 3 and "0042" gives 42.
func ParseTrackNumber(raw string) int {
	run := digitRun.FindString(raw)
	if run == "" {
		return NoTrackNumber
	}
	n, err := strconv.Atoi(run)
	if err != nil {
		return NoTrackNumber
	}
	return n
}

// TitleFromPath falls back to the last segment of an archive member path.
func TitleFromPath(name string) string {
	name = strings.TrimRight(strings.ReplaceAll(name, `\`, "/"), "/")
	if name == "" {
		return ""
	}
	return path.Base(name)
}
