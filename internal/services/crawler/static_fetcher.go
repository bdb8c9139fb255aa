package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
)

// StaticFetcher retrieves raw HTML over HTTP with Colly. Pages that build their
// content with JavaScript come back incomplete.
type StaticFetcher struct {
	transport http.RoundTripper
	limiter   *RateLimiter
	config    FetcherConfig
	logger    arbor.ILogger
}

// contextAwareTransport binds outgoing requests to the caller's context
type contextAwareTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// NewStaticFetcher creates a Colly-backed fetcher
func NewStaticFetcher(config FetcherConfig, limiter *RateLimiter, logger arbor.ILogger) *StaticFetcher {
	return &StaticFetcher{
		transport: http.DefaultTransport,
		limiter:   limiter,
		config:    config,
		logger:    logger,
	}
}

// Fetch performs a GET and returns the response body
func (f *StaticFetcher) Fetch(ctx context.Context, url string) (*models.Page, error) {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}

	// A collector per fetch: clones share one HTTP client, and the transport is bound to ctx
	c := colly.NewCollector(
		colly.UserAgent(f.config.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(f.config.RequestTimeout)
	c.WithTransport(&contextAwareTransport{base: f.transport, ctx: ctx})

	var (
		page     *models.Page
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	c.OnResponse(func(r *colly.Response) {
		page = &models.Page{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
			FetchedAt:  time.Now(),
			Via:        ModeStatic,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 400 {
			fetchErr = &StatusError{URL: url, StatusCode: r.StatusCode}
			return
		}
		fetchErr = err
	})

	startTime := time.Now()
	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if fetchErr != nil {
		var statusErr *StatusError
		if errors.As(fetchErr, &statusErr) {
			return nil, statusErr
		}
		return nil, fmt.Errorf("static fetch %s: %w", url, fetchErr)
	}
	if page == nil {
		return nil, fmt.Errorf("static fetch %s: no response", url)
	}

	f.logger.Debug().
		Str("url", url).
		Int("status_code", page.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Page fetched")

	return page, nil
}

// Mode returns "static"
func (f *StaticFetcher) Mode() string {
	return ModeStatic
}

// Close is a no-op; idle HTTP connections are reclaimed by the transport
func (f *StaticFetcher) Close() error {
	return nil
}
