package initialization

import (
	"context"
	"errors"
	"fmt"
	"os"

	"usenetstreamer/pkg/config"
	"usenetstreamer/pkg/logger"
	"usenetstreamer/pkg/nzbdav"
	"usenetstreamer/pkg/resolver"
	"usenetstreamer/pkg/streamcache"
	"usenetstreamer/pkg/webdav"
)

// InitializedComponents holds all the components initialized during bootstrap
type InitializedComponents struct {
	Config   *config.Config
	Queue    *nzbdav.Client
	Poller   *nzbdav.Poller
	Files    *webdav.Client
	Resolver *resolver.Resolver
	Store    streamcache.Store

	closers []func() error
}

// Close releases resources opened during bootstrap.
func (c *InitializedComponents) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

// WaitForInputAndExit prints an error and waits for user input before exiting
func WaitForInputAndExit(err error) {
	fmt.Printf("\nCRITICAL ERROR: %v\n", err)
	if info, statErr := os.Stdin.Stat(); statErr == nil && info.Mode()&os.ModeCharDevice != 0 {
		fmt.Println("\nPress Enter to exit...")
		var input string
		fmt.Scanln(&input)
	}
	os.Exit(1)
}

// Bootstrap coordinates the application startup sequence
func Bootstrap(ctx context.Context) (*InitializedComponents, error) {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	return Build(ctx, cfg)
}

// Build wires the queue, file server and cache components for cfg.
func Build(ctx context.Context, cfg *config.Config) (*InitializedComponents, error) {
	comp := &InitializedComponents{Config: cfg}

	// 2. Queue API
	comp.Queue = nzbdav.NewClient(nzbdav.Options{
		BaseURL:        cfg.NZBDavURL,
		APIKey:         cfg.NZBDavAPIKey,
		APITimeout:     cfg.APITimeout(),
		HistoryTimeout: cfg.HistoryTimeout(),
		SubmitRate:     cfg.SubmitRatePerSecond,
		HistoryLimit:   cfg.HistoryFetchLimit,
	})
	comp.Poller = nzbdav.NewPoller(comp.Queue, cfg.PollInterval(),
		nzbdav.WithStateHook(func(jobID string, from, to nzbdav.PollState) {
			logger.Debug("NZBDav job state changed", "job", jobID, "from", from, "to", to)
		}))
	logger.Info("Initialized NZBDav client", "url", cfg.NZBDavURL)

	// 3. WebDAV file server
	files, err := webdav.NewClient(webdav.Options{
		BaseURL:  cfg.WebDAVURL,
		Root:     cfg.WebDAVRoot,
		Username: cfg.WebDAVUser,
		Password: cfg.WebDAVPass,
		Timeout:  cfg.APITimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("webdav client: %w", err)
	}
	comp.Files = files
	comp.Resolver = resolver.New(files, resolver.WithMaxDepth(cfg.MaxDirectoryDepth))
	logger.Info("Initialized WebDAV client", "url", cfg.WebDAVURL, "root", cfg.WebDAVRoot)

	// 4. Stream cache store
	if cfg.RedisURL != "" {
		store, err := streamcache.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis stream cache: %w", err)
		}
		comp.Store = store
		comp.closers = append(comp.closers, store.Close)
		logger.Info("Using Redis stream cache")
	} else {
		comp.Store = streamcache.NewMemoryStore()
		logger.Info("Using in-memory stream cache")
	}

	return comp, nil
}
