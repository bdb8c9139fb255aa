package crawler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// Fetch modes
const (
	ModeAuto    = "auto"
	ModeBrowser = "browser"
	ModeStatic  = "static"
)

// FetcherConfig is the resolved fetch configuration shared by both strategies
type FetcherConfig struct {
	Mode               string
	UserAgent          string
	RequestDelay       time.Duration
	RequestTimeout     time.Duration
	JavaScriptWaitTime time.Duration
	BrowserPoolSize    int
	Headless           bool
}

// NewFetcherConfig resolves the crawler section of the configuration
func NewFetcherConfig(config *common.CrawlerConfig) FetcherConfig {
	return FetcherConfig{
		Mode:               config.FetchMode,
		UserAgent:          config.UserAgent,
		RequestDelay:       common.ParseDuration(config.RequestDelay, 2*time.Second),
		RequestTimeout:     common.ParseDuration(config.RequestTimeout, 30*time.Second),
		JavaScriptWaitTime: common.ParseDuration(config.JavaScriptWaitTime, 3*time.Second),
		BrowserPoolSize:    config.BrowserPoolSize,
		Headless:           config.Headless,
	}
}

// StatusError reports a page that answered with an HTTP error status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// NewFetcher selects the fetch strategy. In auto mode the browser is preferred and the
// static fetcher is used when Chrome cannot be started.
func NewFetcher(config FetcherConfig, logger arbor.ILogger) (interfaces.Fetcher, error) {
	limiter := NewRateLimiter(config.RequestDelay)

	switch config.Mode {
	case ModeStatic:
		return NewStaticFetcher(config, limiter, logger), nil
	case ModeBrowser:
		fetcher, err := NewBrowserFetcher(config, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser fetcher: %w", err)
		}
		return fetcher, nil
	case ModeAuto, "":
		fetcher, err := NewBrowserFetcher(config, limiter, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Browser unavailable, falling back to static HTTP fetching")
			return NewStaticFetcher(config, limiter, logger), nil
		}
		return fetcher, nil
	default:
		return nil, fmt.Errorf("unsupported fetch mode: %s", config.Mode)
	}
}

// LazyFetcher defers starting the fetch strategy until the first page is requested, so a
// session that has nothing left to extract never launches a browser.
type LazyFetcher struct {
	config FetcherConfig
	logger arbor.ILogger

	mu      sync.Mutex
	fetcher interfaces.Fetcher
	closed  bool
}

// NewLazyFetcher wraps NewFetcher
func NewLazyFetcher(config FetcherConfig, logger arbor.ILogger) *LazyFetcher {
	return &LazyFetcher{config: config, logger: logger}
}

func (f *LazyFetcher) get() (interfaces.Fetcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("%w: fetcher is closed", interfaces.ErrFetcherUnavailable)
	}
	if f.fetcher == nil {
		fetcher, err := NewFetcher(f.config, f.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrFetcherUnavailable, err)
		}
		f.logger.Info().Str("mode", fetcher.Mode()).Msg("Fetcher started")
		f.fetcher = fetcher
	}
	return f.fetcher, nil
}

func (f *LazyFetcher) Fetch(ctx context.Context, url string) (*models.Page, error) {
	fetcher, err := f.get()
	if err != nil {
		return nil, err
	}
	return fetcher.Fetch(ctx, url)
}

// Mode returns the running strategy, or the configured mode before the first fetch
func (f *LazyFetcher) Mode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetcher != nil {
		return f.fetcher.Mode()
	}
	if f.config.Mode == "" {
		return ModeAuto
	}
	return f.config.Mode
}

func (f *LazyFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if f.fetcher == nil {
		return nil
	}
	err := f.fetcher.Close()
	f.fetcher = nil
	return err
}
