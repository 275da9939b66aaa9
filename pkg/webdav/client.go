package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html/charset"

	"usenetstreamer/pkg/logger"
)

// Entry is one item of a directory listing.
type Entry struct {
	Path        string
	Name        string
	IsDir       bool
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Root     string
	Username string
	Password string
	// Timeout bounds metadata requests (PROPFIND). Streaming requests
	// built with NewRequest carry no client timeout.
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client reads the remote file server over WebDAV.
type Client struct {
	base     *url.URL
	username string
	password string

	metaClient   *http.Client
	streamClient *http.Client
}

// NewClient parses the base URL and prepares HTTP clients.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if root := strings.Trim(strings.TrimSpace(opts.Root), "/"); root != "" {
		raw += "/" + root
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webdav url %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid webdav url %q: scheme and host required", raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	transport := opts.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		base:         base,
		username:     opts.Username,
		password:     opts.Password,
		metaClient:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		streamClient: &http.Client{Transport: transport},
	}, nil
}

// FileURL returns the absolute URL of a file path on the server.
func (c *Client) FileURL(p string) string {
	u := url.URL{Scheme: c.base.Scheme, User: c.base.User, Host: c.base.Host}
	return u.String() + strings.TrimRight(c.base.EscapedPath(), "/") + escapePath(p)
}

// NewRequest builds an authenticated request for a file path.
func (c *Client) NewRequest(ctx context.Context, method, p string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.FileURL(p), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	return req, nil
}

// Do sends a streaming request without a client-side timeout; the request
// context governs its lifetime.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.streamClient.Do(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:getcontentlength/>
    <d:getcontenttype/>
    <d:getlastmodified/>
  </d:prop>
</d:propfind>`

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string        `xml:"DAV: href"`
	Propstats []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Status string  `xml:"DAV: status"`
	Prop   davProp `xml:"DAV: prop"`
}

type davProp struct {
	ResourceType struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
	ContentLength string `xml:"DAV: getcontentlength"`
	ContentType   string `xml:"DAV: getcontenttype"`
	LastModified  string `xml:"DAV: getlastmodified"`
}

// StatusError reports a non-multistatus answer to a listing.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webdav list %s: unexpected status %d", e.Path, e.StatusCode)
}

// List returns the immediate children of dir (PROPFIND, Depth: 1).
func (c *Client) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = NormalizePath(dir)
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", c.FileURL(dir), bytes.NewBufferString(propfindBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	c.authorize(req)

	resp, err := c.metaClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdav list %s: %w", dir, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Path: dir, StatusCode: resp.StatusCode}
	}

	var ms multistatus
	decoder := xml.NewDecoder(resp.Body)
	decoder.CharsetReader = charset.NewReaderLabel
	if err := decoder.Decode(&ms); err != nil {
		return nil, fmt.Errorf("webdav list %s: decode multistatus: %w", dir, err)
	}

	entries := make([]Entry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		p, ok := c.hrefToPath(r.Href)
		if !ok || p == dir {
			continue
		}
		prop, ok := okProp(r.Propstats)
		if !ok {
			continue
		}
		entry := Entry{
			Path:        p,
			Name:        BaseName(p),
			IsDir:       prop.ResourceType.Collection != nil,
			ContentType: strings.TrimSpace(prop.ContentType),
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(prop.ContentLength), 10, 64); err == nil {
			entry.Size = n
		}
		if t, err := http.ParseTime(strings.TrimSpace(prop.LastModified)); err == nil {
			entry.ModTime = t
		}
		entries = append(entries, entry)
	}
	logger.Debug("WebDAV listing", "dir", dir, "entries", len(entries))
	return entries, nil
}

// hrefToPath maps a multistatus href (absolute URL or absolute path) onto
// a normalised path relative to the client base.
func (c *Client) hrefToPath(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	p := NormalizePath(u.Path)
	if basePath := NormalizePath(c.base.Path); basePath != "/" {
		switch {
		case p == basePath:
			p = "/"
		case strings.HasPrefix(p, basePath+"/"):
			p = strings.TrimPrefix(p, basePath)
		}
	}
	return p, true
}

// okProp picks the 200 propstat; servers may add 404 blocks for unknown props.
func okProp(stats []davPropstat) (davProp, bool) {
	for _, s := range stats {
		if s.Status == "" || strings.Contains(s.Status, " 200") {
			return s.Prop, true
		}
	}
	return davProp{}, false
}
