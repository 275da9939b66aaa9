package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/media"
	"usenetstreamer/pkg/nzbdav"
	"usenetstreamer/pkg/stream"
)

const defaultTitle = "NZB Stream"

// ErrMissingReference is returned for stream requests without a download URL.
var ErrMissingReference = errors.New("downloadUrl query parameter is required")

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// StreamParams are the inputs of a stream URL, either as query parameters
// or packed into a token.
type StreamParams struct {
	DownloadURL     string     `json:"downloadUrl"`
	Type            string     `json:"type,omitempty"`
	ID              string     `json:"id,omitempty"`
	Title           string     `json:"title,omitempty"`
	ContentTitle    string     `json:"contentTitle,omitempty"`
	Season          flexString `json:"season,omitempty"`
	Episode         flexString `json:"episode,omitempty"`
	HistoryNzoID    string     `json:"historyNzoId,omitempty"`
	HistoryJobName  string     `json:"historyJobName,omitempty"`
	HistoryCategory string     `json:"historyCategory,omitempty"`
}

// EncodeToken packs p into an unpadded base64url token.
func EncodeToken(p StreamParams) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken reverses EncodeToken. Padded tokens are accepted too.
func DecodeToken(token string) (StreamParams, error) {
	var p StreamParams
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return p, errors.New("empty stream token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return p, fmt.Errorf("invalid stream token: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid stream token payload: %w", err)
	}
	return p, nil
}

// ParamsFromQuery reads stream parameters from a query string.
func ParamsFromQuery(q url.Values) StreamParams {
	return StreamParams{
		DownloadURL:     q.Get("downloadUrl"),
		Type:            q.Get("type"),
		ID:              q.Get("id"),
		Title:           q.Get("title"),
		Season:          flexString(q.Get("season")),
		Episode:         flexString(q.Get("episode")),
		HistoryNzoID:    q.Get("historyNzoId"),
		HistoryJobName:  q.Get("historyJobName"),
		HistoryCategory: q.Get("historyCategory"),
	}
}

// Request turns the parameters into a stream request, mapping the content
// type onto a queue category.
func (p StreamParams) Request(cfg *config.Config) (stream.Request, error) {
	ref := strings.TrimSpace(p.DownloadURL)
	if ref == "" {
		return stream.Request{}, ErrMissingReference
	}

	contentType := strings.TrimSpace(p.Type)
	if contentType == "" {
		contentType = "movie"
	}

	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = strings.TrimSpace(p.ContentTitle)
	}
	if title == "" {
		title = defaultTitle
	}

	req := stream.Request{
		DownloadReference: ref,
		Category:          cfg.CategoryFor(contentType),
		Title:             title,
		Episode:           media.ParseRequestedEpisode(contentType, p.ID, string(p.Season), string(p.Episode)),
	}

	if jobID := strings.TrimSpace(p.HistoryNzoID); jobID != "" {
		category := strings.TrimSpace(p.HistoryCategory)
		if category == "" {
			category = req.Category
		}
		req.History = &nzbdav.JobHint{
			JobID:    jobID,
			JobName:  strings.TrimSpace(p.HistoryJobName),
			Category: category,
		}
	}
	return req, nil
}
