package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

var (
	courseNumberPattern = regexp.MustCompile(`\b(\d{1,2}|[A-Z]{2,4})\.[0-9A-Z]{2,5}[A-Z]?\b`)
	termPattern         = regexp.MustCompile(`\b(Fall|Spring|Summer|Winter|January IAP|IAP)\s+(\d{4})\b`)
	levelPattern        = regexp.MustCompile(`\b(Undergraduate|Graduate|Non-Credit)\b`)
)

// resourceExtensions are linked files kept as course resources
var resourceExtensions = map[string]struct{}{
	".pdf": {}, ".zip": {}, ".py": {}, ".ipynb": {}, ".txt": {}, ".csv": {},
	".doc": {}, ".docx": {}, ".ppt": {}, ".pptx": {}, ".xls": {}, ".xlsx": {},
	".mp4": {}, ".srt": {},
}

// mainContentSelectors are tried in order to find the course body
var mainContentSelectors = []string{"main", "#main-content", "#course-content-section", "article", "body"}

// noiseSelectors are removed from the body before Markdown conversion
const noiseSelectors = "script, style, noscript, nav, header, footer, iframe, form, button"

// CourseExtractor fetches a course page and turns it into ExtractedContent
type CourseExtractor struct {
	fetcher interfaces.Fetcher
	logger  arbor.ILogger
	nowFunc func() time.Time
}

// NewCourseExtractor creates an extractor over fetcher
func NewCourseExtractor(fetcher interfaces.Fetcher, logger arbor.ILogger) *CourseExtractor {
	return &CourseExtractor{
		fetcher: fetcher,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Extract fetches ref.URL and parses course fields. Fetch and parse errors are returned
// as-is for the caller's retry policy; a fetcher that cannot serve any page is fatal.
func (e *CourseExtractor) Extract(ctx context.Context, ref models.ItemRef) (*models.ExtractedContent, error) {
	target := ref.URL
	if target == "" {
		target = ref.Key
	}

	page, err := e.fetcher.Fetch(ctx, target)
	if errors.Is(err, interfaces.ErrFetcherUnavailable) {
		return nil, interfaces.NewFatalExtractionError(ref.Key, err)
	}
	if err != nil {
		return nil, err
	}

	content, err := e.parse(page, ref)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("item_key", ref.Key).
		Str("title", content.Title).
		Int("resources", len(content.Resources)).
		Int("markdown_len", len(content.Markdown)).
		Msg("Course extracted")

	return content, nil
}

func (e *CourseExtractor) parse(page *models.Page, ref models.ItemRef) (*models.ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse course page %s: %w", page.URL, err)
	}

	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}

	content := &models.ExtractedContent{
		Key:         ref.Key,
		URL:         pageURL,
		Title:       firstNonEmpty(metaContent(doc, `meta[property="og:title"]`), textOf(doc, "h1"), textOf(doc, "title"), ref.Title),
		Description: firstNonEmpty(textOf(doc, "#description, .course-description"), metaContent(doc, `meta[name="description"]`)),
		Instructors: uniqueTexts(doc, ".course-info-instructor, a.instructor, .instructors li"),
		Topics:      uniqueTexts(doc, ".course-info-topic, a.topic-link, .topics li"),
		Subject:     ref.Subject,
		SourceInfo:  ref.Info,
		FetchedVia:  page.Via,
		ExtractedAt: e.nowFunc().UTC(),
	}
	if content.Subject == "" {
		content.Subject = "General"
	}

	detail := collapseSpace(firstNonEmpty(textOf(doc, ".course-number-term-detail"), ref.Info))
	content.CourseNumber = courseNumberPattern.FindString(detail)
	if match := termPattern.FindString(detail); match != "" {
		content.Term = match
	} else {
		content.Term = termPattern.FindString(content.Title)
	}
	content.Level = firstNonEmpty(textOf(doc, ".course-info-level"), levelPattern.FindString(detail))

	section := mainContent(doc)
	content.Resources = resources(section, pageURL)

	section.Find(noiseSelectors).Remove()
	body, err := section.Html()
	if err != nil {
		return nil, fmt.Errorf("read course body %s: %w", page.URL, err)
	}
	markdown, err := md.NewConverter(hostOf(pageURL), true, nil).ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert course body %s: %w", page.URL, err)
	}
	content.Markdown = strings.TrimSpace(markdown)

	if content.Title == "" && content.Markdown == "" {
		return nil, fmt.Errorf("no course content found at %s", page.URL)
	}
	return content, nil
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range mainContentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 && strings.TrimSpace(sel.Text()) != "" {
			return sel
		}
	}
	return doc.Selection
}

func resources(section *goquery.Selection, pageURL string) []models.Resource {
	var out []models.Resource
	seen := make(map[string]struct{})

	section.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		absolute := resolveURL(pageURL, "", href)
		parsed, err := url.Parse(absolute)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return
		}

		kind := strings.ToLower(path.Ext(parsed.Path))
		if _, ok := resourceExtensions[kind]; ok {
			kind = strings.TrimPrefix(kind, ".")
		} else if strings.Contains(parsed.Path, "/resources/") {
			kind = "resource"
		} else {
			return
		}

		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}

		out = append(out, models.Resource{
			Title: firstNonEmpty(collapseSpace(a.Text()), path.Base(parsed.Path)),
			URL:   absolute,
			Kind:  kind,
		})
	})
	return out
}

func textOf(doc *goquery.Document, selector string) string {
	return collapseSpace(doc.Find(selector).First().Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).First().Attr("content")
	return collapseSpace(value)
}

func uniqueTexts(doc *goquery.Document, selector string) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		out = append(out, text)
	})
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}
