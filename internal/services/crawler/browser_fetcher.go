package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
)

// BrowserFetcher renders pages in pooled Chrome instances so JavaScript-built listings are complete
type BrowserFetcher struct {
	pool    *ChromeDPPool
	limiter *RateLimiter
	config  FetcherConfig
	logger  arbor.ILogger
}

// NewBrowserFetcher starts the browser pool. It fails when Chrome cannot be launched.
func NewBrowserFetcher(config FetcherConfig, limiter *RateLimiter, logger arbor.ILogger) (*BrowserFetcher, error) {
	pool := NewChromeDPPool(ChromeDPPoolConfig{
		MaxInstances:   config.BrowserPoolSize,
		UserAgent:      config.UserAgent,
		Headless:       config.Headless,
		StartupTimeout: config.RequestTimeout,
	}, logger)

	if err := pool.Init(); err != nil {
		return nil, err
	}

	return &BrowserFetcher{
		pool:    pool,
		limiter: limiter,
		config:  config,
		logger:  logger,
	}, nil
}

// Fetch loads url in a new tab, waits for scripts to settle and returns the rendered document
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*models.Page, error) {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}

	browserCtx, release, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, f.config.RequestTimeout)
	defer cancelTimeout()

	// Tab contexts derive from the browser, not the caller
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var status atomic.Int64
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			status.CompareAndSwap(0, resp.Response.Status)
		}
	})

	var html, finalURL string
	startTime := time.Now()
	err = chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.config.JavaScriptWaitTime),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser fetch %s: %w", url, err)
	}

	code := int(status.Load())
	if code == 0 {
		code = 200
	}
	if code >= 400 {
		return nil, &StatusError{URL: url, StatusCode: code}
	}

	f.logger.Debug().
		Str("url", url).
		Int("status_code", code).
		Dur("duration", time.Since(startTime)).
		Msg("Page rendered")

	return &models.Page{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: code,
		HTML:       html,
		FetchedAt:  time.Now(),
		Via:        ModeBrowser,
	}, nil
}

// Mode returns "browser"
func (f *BrowserFetcher) Mode() string {
	return ModeBrowser
}

// Close shuts the browser pool down
func (f *BrowserFetcher) Close() error {
	return f.pool.Shutdown()
}
