package proxy

import (
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"usenetstreamer/pkg/media"
)

// forwarded request headers, client -> file server
var forwardHeaders = []string{"Range", "If-Range", "Accept", "Accept-Language", "Accept-Encoding", "User-Agent"}

// response headers never relayed to the client
var blockedHeaders = map[string]bool{
	"Transfer-Encoding": true,
	"Www-Authenticate":  true,
	"Set-Cookie":        true,
	"Cookie":            true,
	"Authorization":     true,
	"Connection":        true,
	"Keep-Alive":        true,
}

const exposeHeaders = "Content-Length,Content-Range,Content-Type,Accept-Ranges,X-Total-Length"

var contentRangePattern = regexp.MustCompile(`(?i)^bytes\s+(\d+)-(\d+)\s*/\s*(\d+|\*)$`)

// contentRange is a parsed "bytes start-end/total" header. Total is -1
// when the server sent "*".
type contentRange struct {
	Start, End, Total int64
}

func (c contentRange) Length() int64 {
	return c.End - c.Start + 1
}

func parseContentRange(v string) (contentRange, bool) {
	m := contentRangePattern.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return contentRange{}, false
	}
	start, err1 := strconv.ParseInt(m[1], 10, 64)
	end, err2 := strconv.ParseInt(m[2], 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return contentRange{}, false
	}
	total := int64(-1)
	if m[3] != "*" {
		t, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			return contentRange{}, false
		}
		total = t
	}
	return contentRange{Start: start, End: end, Total: total}, true
}

var unsafeFileNameChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f\x7f]+`)

// SanitizeFileName makes name safe for a Content-Disposition header.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(unsafeFileNameChars.ReplaceAllString(name, "_"))
	if name == "" || name == "_" {
		return "stream"
	}
	return name
}

func contentDisposition(fileName string) string {
	if v := mime.FormatMediaType("inline", map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return `inline; filename="stream"`
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if blockedHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// decorate fills in the headers players rely on when the file server left
// them out.
func decorate(h http.Header, fileName string) {
	if !strings.Contains(strings.ToLower(h.Get("Content-Disposition")), "filename") {
		h.Set("Content-Disposition", contentDisposition(fileName))
	}
	if ct := h.Get("Content-Type"); ct == "" || strings.EqualFold(ct, media.DefaultMimeType) {
		h.Set("Content-Type", media.MimeType(fileName))
	}
	if h.Get("Accept-Ranges") == "" {
		h.Set("Accept-Ranges", "bytes")
	}
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", exposeHeaders)
}
