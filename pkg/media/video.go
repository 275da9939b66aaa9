package media

import (
	"path"
	"strings"
)

// videoMimeTypes doubles as the set of extensions treated as playable video.
var videoMimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
}

const DefaultMimeType = "application/octet-stream"

// IsVideoFile reports whether the file name carries a known video extension.
func IsVideoFile(name string) bool {
	_, ok := videoMimeTypes[extension(name)]
	return ok
}

// MimeType infers a MIME type from the file extension.
func MimeType(name string) string {
	if mt, ok := videoMimeTypes[extension(name)]; ok {
		return mt
	}
	return DefaultMimeType
}

func extension(name string) string {
	if name == "" {
		return ""
	}
	return path.Ext(strings.ToLower(strings.ReplaceAll(name, "\\", "/")))
}
