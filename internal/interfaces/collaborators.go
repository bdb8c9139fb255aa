package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// Discoverer lists the items reachable from one seed locator, in page order.
// Failures are reported as *DiscoveryError and are not fatal to the session.
type Discoverer interface {
	Discover(ctx context.Context, locator string) ([]models.ItemRef, error)
}

// Extractor turns a discovered item into content.
// Errors are retried; wrap with NewFatalExtractionError to abort the session instead.
type Extractor interface {
	Extract(ctx context.Context, ref models.ItemRef) (*models.ExtractedContent, error)
}

// OutputSink persists extracted content and the session summary
type OutputSink interface {
	Write(ctx context.Context, key string, content *models.ExtractedContent) error
	WriteSummary(ctx context.Context, summary *models.SessionSummary) error
}

// Fetcher retrieves a page. BrowserFetcher and StaticFetcher are the two variants;
// the coordinator never sees which one is in use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.Page, error)
	Mode() string
	Close() error
}
