package ingest

import (
	"path"
	"strings"
)

// BlobKey is where a unit's original bytes live: <ownerID>/<id>[.ext].
func BlobKey(ownerID, id, ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ownerID + "/" + id + ext
}

// StreamPrefix holds a track's manifest and segments.
func StreamPrefix(ownerID, trackID string) string {
	return ownerID + "/streams/" + trackID + "/"
}

// CoverKey is where a cover image lives.
func CoverKey(ownerID, coverID, ext string) string {
	return ownerID + "/covers/" + coverID + "." + ext
}

// OwnerPrefix scopes every blob of a principal.
func OwnerPrefix(ownerID string) string {
	return ownerID + "/"
}

// LogicalPath joins the optional target directory and a member name.
func LogicalPath(targetDir, name string) string {
	dir := strings.Trim(strings.ReplaceAll(targetDir, `\`, "/"), "/")
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

// extOf keeps the member's extension, lower-cased; "" when it has none.
func extOf(name string) string {
	ext := path.Ext(name)
	if ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}
