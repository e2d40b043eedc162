package playback

import (
	"bufio"
	"bytes"
	"net/url"
	"strings"
)

// RewriteManifest appends the token to every segment URI of an HLS playlist,
// so a player that only got the manifest URL can fetch the segments.
func RewriteManifest(manifest []byte, token string) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(manifest))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	q := "token=" + url.QueryEscape(token)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			sep := "?"
			if strings.Contains(trimmed, "?") {
				sep = "&"
			}
			line = trimmed + sep + q
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}
