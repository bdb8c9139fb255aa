package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/crawler"
	"github.com/ternarybob/harvester/internal/services/identity"
	"github.com/ternarybob/harvester/internal/services/output"
)

// DefaultSingleSubject files single-course extractions that name no subject
const DefaultSingleSubject = "Single_Course"

// Extraction extracts individual course pages straight to the output directory.
// It opens no storage: nothing is recorded in the ledger or in session progress.
type Extraction struct {
	config    *common.Config
	logger    arbor.ILogger
	fetcher   *crawler.LazyFetcher
	extractor *crawler.CourseExtractor
	sink      *output.FileSink
}

// NewExtraction builds the fetcher, extractor and sink used by single-course extraction
func NewExtraction(cfg *common.Config, logger arbor.ILogger) (*Extraction, error) {
	sink, err := output.NewFileSink(&cfg.Output, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize output: %w", err)
	}

	fetcher := crawler.NewLazyFetcher(crawler.NewFetcherConfig(&cfg.Crawler), logger)
	return &Extraction{
		config:    cfg,
		logger:    logger,
		fetcher:   fetcher,
		extractor: crawler.NewCourseExtractor(fetcher, logger),
		sink:      sink,
	}, nil
}

// ExtractCourse extracts one course page and writes it under subject. It returns the
// extracted content and the path of the written file.
func (e *Extraction) ExtractCourse(ctx context.Context, courseURL, subject string) (*models.ExtractedContent, string, error) {
	key, err := identity.ItemKey(courseURL, e.config.Crawler.BaseURL)
	if err != nil {
		return nil, "", err
	}
	if subject == "" {
		subject = DefaultSingleSubject
	}

	content, err := e.extractor.Extract(ctx, models.ItemRef{
		Key:     key,
		URL:     key,
		Subject: subject,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to extract %s: %w", key, err)
	}

	if err := e.sink.Write(ctx, key, content); err != nil {
		return nil, "", err
	}

	path := e.sink.ItemPath(key, content.Subject)
	e.logger.Info().
		Str("key", key).
		Str("path", path).
		Msg("Course extracted")
	return content, path, nil
}

// Close stops the fetcher
func (e *Extraction) Close() error {
	return e.fetcher.Close()
}
