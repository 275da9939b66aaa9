package server

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usenetstreamer/pkg/config"
)

func TestTokenRoundTrip(t *testing.T) {
	in := StreamParams{
		DownloadURL:  "https://indexer.example/get/42?apikey=x",
		Type:         "series",
		ID:           "tt0944947:1:2",
		Title:        "Show.S01E02.1080p",
		HistoryNzoID: "SAB_77",
	}
	token, err := EncodeToken(in)
	require.NoError(t, err)
	assert.NotContains(t, token, "=")

	out, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeTokenAcceptsPaddingAndNumbers(t *testing.T) {
	raw := `{"downloadUrl":"https://x/nzb","type":"series","season":3,"episode":"4"}`
	token := base64.URLEncoding.EncodeToString([]byte(raw))

	p, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, flexString("3"), p.Season)
	assert.Equal(t, flexString("4"), p.Episode)

	req, err := p.Request(config.Default())
	require.NoError(t, err)
	require.NotNil(t, req.Episode)
	assert.Equal(t, 3, req.Episode.Season)
	assert.Equal(t, 4, req.Episode.Episode)
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	_, err := DecodeToken("")
	assert.Error(t, err)
	_, err = DecodeToken("!!!")
	assert.Error(t, err)
	_, err = DecodeToken(base64.RawURLEncoding.EncodeToString([]byte("not json")))
	assert.Error(t, err)
}

func TestParamsRequest(t *testing.T) {
	cfg := config.Default()

	t.Run("defaults", func(t *testing.T) {
		req, err := ParamsFromQuery(url.Values{"downloadUrl": {" https://x/nzb "}}).Request(cfg)
		require.NoError(t, err)
		assert.Equal(t, "https://x/nzb", req.DownloadReference)
		assert.Equal(t, cfg.CategoryMovies, req.Category)
		assert.Equal(t, defaultTitle, req.Title)
		assert.Nil(t, req.Episode)
		assert.Nil(t, req.History)
	})

	t.Run("series id and history hint", func(t *testing.T) {
		q := url.Values{
			"downloadUrl":    {"https://x/nzb"},
			"type":           {"series"},
			"id":             {"tt1:2:5"},
			"title":          {"Show"},
			"historyNzoId":   {"SAB_1"},
			"historyJobName": {"Show.S02E05"},
		}
		req, err := ParamsFromQuery(q).Request(cfg)
		require.NoError(t, err)
		assert.Equal(t, cfg.CategorySeries, req.Category)
		require.NotNil(t, req.Episode)
		assert.Equal(t, "2x5", req.Episode.Key())
		require.NotNil(t, req.History)
		assert.Equal(t, "SAB_1", req.History.JobID)
		assert.Equal(t, cfg.CategorySeries, req.History.Category)
		assert.Equal(t, "https://x/nzb|Tv|2x5", req.CacheKey())
	})

	t.Run("missing reference", func(t *testing.T) {
		_, err := ParamsFromQuery(url.Values{"title": {"x"}}).Request(cfg)
		assert.ErrorIs(t, err, ErrMissingReference)
	})
}
