package webdav

import (
	"net/url"
	"path"
	"strings"
)

// NormalizePath converts p into the canonical form used for listing and
// de-duplication: forward slashes, no repeated separators or dot segments,
// a leading slash and no trailing slash ("/" for the root).
func NormalizePath(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// JoinPath appends name to dir and normalises the result.
func JoinPath(dir, name string) string {
	return NormalizePath(dir + "/" + name)
}

// escapePath percent-encodes each segment of a normalised path.
func escapePath(p string) string {
	p = NormalizePath(p)
	if p == "/" {
		return "/"
	}
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}

// BaseName returns the last path segment.
func BaseName(p string) string {
	p = NormalizePath(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
