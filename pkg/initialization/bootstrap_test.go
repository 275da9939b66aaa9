package initialization

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/streamcache"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NZBDavURL = "http://nzbdav.local:3000"
	cfg.WebDAVURL = "http://nzbdav.local:3000"
	return cfg
}

func TestBuildWithMemoryStore(t *testing.T) {
	comp, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	defer comp.Close()

	assert.NotNil(t, comp.Queue)
	assert.NotNil(t, comp.Poller)
	assert.NotNil(t, comp.Resolver)
	assert.IsType(t, &streamcache.MemoryStore{}, comp.Store)
	assert.Equal(t, "http://nzbdav.local:3000/content/Movies/x.mkv", comp.Files.FileURL("/content/Movies/x.mkv"))
}

func TestBuildWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	comp, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &streamcache.RedisStore{}, comp.Store)
	assert.NoError(t, comp.Close())
}

func TestBuildRejectsBadWebDAVURL(t *testing.T) {
	cfg := testConfig()
	cfg.WebDAVURL = "not a url"
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}
