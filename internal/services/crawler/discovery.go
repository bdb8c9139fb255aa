package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/identity"
)

// Catalog listing selectors
const (
	resultSelector    = "article"
	titleSelector     = `span[id^="search-result-"]`
	infoSelector      = "div.resource-type"
	nextPageSelectors = `a.next-page[href], a[rel="next"][href], link[rel="next"][href]`
)

// CatalogDiscoverer lists course items from paginated catalog search and subject pages
type CatalogDiscoverer struct {
	fetcher  interfaces.Fetcher
	baseURL  string
	maxPages int
	maxItems int
	logger   arbor.ILogger
}

// NewCatalogDiscoverer creates a discoverer. maxItems <= 0 means no per-locator cap.
func NewCatalogDiscoverer(fetcher interfaces.Fetcher, baseURL string, maxPages, maxItems int, logger arbor.ILogger) *CatalogDiscoverer {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &CatalogDiscoverer{
		fetcher:  fetcher,
		baseURL:  baseURL,
		maxPages: maxPages,
		maxItems: maxItems,
		logger:   logger,
	}
}

// Discover walks up to maxPages listing pages from locator and returns items in page order.
// A failure on the first page is a *DiscoveryError; a failure on a later page ends pagination
// and keeps what was found.
func (d *CatalogDiscoverer) Discover(ctx context.Context, locator string) ([]models.ItemRef, error) {
	subject := SubjectFromLocator(locator)
	refs := make([]models.ItemRef, 0)
	seenItems := make(map[string]struct{})
	seenPages := make(map[string]struct{})

	pageURL := locator
	for pageNum := 1; pageNum <= d.maxPages && pageURL != ""; pageNum++ {
		seenPages[pageURL] = struct{}{}

		page, err := d.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &interfaces.DiscoveryError{Locator: locator, Err: ctx.Err()}
			}
			if pageNum == 1 {
				return nil, &interfaces.DiscoveryError{Locator: locator, Err: err}
			}
			d.logger.Warn().Err(err).Str("locator", locator).Int("page", pageNum).
				Msg("Could not load next listing page, keeping items found so far")
			break
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			if pageNum == 1 {
				return nil, &interfaces.DiscoveryError{Locator: locator, Err: fmt.Errorf("parse listing: %w", err)}
			}
			break
		}

		pageBase := page.FinalURL
		if pageBase == "" {
			pageBase = pageURL
		}

		found := d.extractItems(doc, pageBase, locator, subject)
		added := 0
		for _, ref := range found {
			if _, dup := seenItems[ref.Key]; dup {
				continue
			}
			seenItems[ref.Key] = struct{}{}
			refs = append(refs, ref)
			added++

			if d.maxItems > 0 && len(refs) >= d.maxItems {
				d.logger.Debug().Str("subject", subject).Int("max_items", d.maxItems).
					Msg("Reached item limit for locator")
				return refs, nil
			}
		}

		d.logger.Debug().
			Str("subject", subject).
			Int("page", pageNum).
			Int("items_on_page", len(found)).
			Int("added", added).
			Int("total", len(refs)).
			Msg("Listing page processed")

		next := nextPageURL(doc, pageBase)
		if _, visited := seenPages[next]; visited {
			break
		}
		pageURL = next
	}

	return refs, nil
}

func (d *CatalogDiscoverer) extractItems(doc *goquery.Document, pageBase, locator, subject string) []models.ItemRef {
	var refs []models.ItemRef

	doc.Find(resultSelector).Each(func(_ int, article *goquery.Selection) {
		title := strings.TrimSpace(article.Find(titleSelector).First().Text())
		if title == "" {
			return
		}
		href, ok := article.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		absolute := resolveURL(pageBase, d.baseURL, href)
		key, err := identity.ItemKey(absolute, "")
		if err != nil {
			d.logger.Debug().Err(err).Str("href", href).Msg("Skipping result with unusable link")
			return
		}

		refs = append(refs, models.ItemRef{
			Key:        key,
			URL:        absolute,
			Title:      collapseSpace(title),
			Info:       collapseSpace(article.Find(infoSelector).First().Text()),
			Subject:    subject,
			SubjectURL: locator,
		})
	})

	return refs
}

func nextPageURL(doc *goquery.Document, pageBase string) string {
	href, ok := doc.Find(nextPageSelectors).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	return resolveURL(pageBase, "", href)
}

// resolveURL resolves href against the page it appeared on, then against fallback
func resolveURL(pageBase, fallback, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}
	for _, base := range []string{pageBase, fallback} {
		if baseURL, err := url.Parse(base); err == nil && baseURL.IsAbs() {
			return baseURL.ResolveReference(ref).String()
		}
	}
	return ref.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
