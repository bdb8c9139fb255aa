// Package output writes extracted course documents and session reports to the download directory.
//
// Layout:
//
//	<download_dir>/<subject>/<course-slug>-<hash>.json   one document per item
//	<download_dir>/scraping_summary.json                  last session summary
//	<download_dir>/scraped_content.json                   every document, combined
package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/ternarybob/arbor"
	"github.com/zeebo/xxh3"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/crawler"
)

// SummaryFile is written after every session
const SummaryFile = "scraping_summary.json"

const maxSlugLength = 80

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileSink implements interfaces.OutputSink on the local filesystem.
// Every file is replaced atomically.
type FileSink struct {
	dir          string
	combinedFile string
	prune        bool
	logger       arbor.ILogger
	nowFunc      func() time.Time
}

// CombinedContent is the layout of the combined content file
type CombinedContent struct {
	Metadata CombinedMetadata           `json:"metadata"`
	Courses  []*models.ExtractedContent `json:"courses"`
}

// CombinedMetadata describes the combined content file
type CombinedMetadata struct {
	Timestamp    time.Time     `json:"timestamp"`
	SessionID    string        `json:"session_id"`
	TotalCourses int           `json:"total_courses"`
	Subjects     []SubjectInfo `json:"subjects"`
}

// SubjectInfo names the output group of one seed locator
type SubjectInfo struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// NewFileSink creates the download directory and returns a sink writing into it
func NewFileSink(config *common.OutputConfig, logger arbor.ILogger) (*FileSink, error) {
	if err := os.MkdirAll(config.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &FileSink{
		dir:          config.DownloadDir,
		combinedFile: config.CombinedFile,
		prune:        config.PruneEmpty,
		logger:       logger,
		nowFunc:      time.Now,
	}, nil
}

// Write stores one item's content under its subject directory
func (s *FileSink) Write(ctx context.Context, key string, content *models.ExtractedContent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.ItemPath(key, content.Subject)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create subject directory: %w", err)
	}
	if err := writeJSON(target, content); err != nil {
		return fmt.Errorf("failed to write content for %s: %w", key, err)
	}

	s.logger.Debug().Str("item_key", key).Str("path", target).Msg("Content written")
	return nil
}

// ItemPath returns where Write stores key
func (s *FileSink) ItemPath(key, subject string) string {
	return filepath.Join(s.dir, subjectDir(subject), itemFileName(key))
}

// WriteSummary writes the session summary, rebuilds the combined content file
// and prunes empty files and directories
func (s *FileSink) WriteSummary(ctx context.Context, summary *models.SessionSummary) error {
	if err := writeJSON(filepath.Join(s.dir, SummaryFile), summary); err != nil {
		return fmt.Errorf("failed to write session summary: %w", err)
	}
	s.logger.Info().Str("path", filepath.Join(s.dir, SummaryFile)).Msg("Saved session summary")

	var errs []error
	if s.combinedFile != "" {
		if err := s.writeCombined(summary); err != nil {
			errs = append(errs, err)
		}
	}
	if s.prune {
		if err := PruneEmpty(s.dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to prune download directory: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *FileSink) writeCombined(summary *models.SessionSummary) error {
	courses, err := s.LoadAll()
	if err != nil {
		return err
	}

	subjects := make([]SubjectInfo, 0, len(summary.Seeds))
	for _, seed := range summary.Seeds {
		subjects = append(subjects, SubjectInfo{URL: seed, Name: crawler.SubjectFromLocator(seed)})
	}

	combined := CombinedContent{
		Metadata: CombinedMetadata{
			Timestamp:    s.nowFunc().UTC(),
			SessionID:    summary.SessionID,
			TotalCourses: len(courses),
			Subjects:     subjects,
		},
		Courses: courses,
	}

	target := filepath.Join(s.dir, s.combinedFile)
	if err := writeJSON(target, combined); err != nil {
		return fmt.Errorf("failed to write combined content: %w", err)
	}

	s.logger.Info().Int("courses", len(courses)).Str("path", target).Msg("Saved combined content")
	return nil
}

// LoadAll reads every item document under the download directory, ordered by subject then key.
// Unreadable documents are logged and skipped.
func (s *FileSink) LoadAll() ([]*models.ExtractedContent, error) {
	courses := make([]*models.ExtractedContent, 0)

	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Item documents live one level down; top-level files are reports
		if d.IsDir() || filepath.Dir(p) == filepath.Clean(s.dir) || filepath.Ext(p) != ".json" {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var content models.ExtractedContent
		if err := json.Unmarshal(data, &content); err != nil || content.Key == "" {
			s.logger.Warn().Str("path", p).Msg("Skipping unreadable content file")
			return nil
		}
		courses = append(courses, &content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read content files: %w", err)
	}

	sort.Slice(courses, func(i, j int) bool {
		if courses[i].Subject != courses[j].Subject {
			return courses[i].Subject < courses[j].Subject
		}
		return courses[i].Key < courses[j].Key
	})
	return courses, nil
}

// PruneEmpty removes zero-length files and then empty directories below root.
// root itself is kept.
func PruneEmpty(root string) error {
	var dirs []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root {
				dirs = append(dirs, p)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return os.Remove(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Deepest first, so parents emptied by their children go too
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			if err := os.Remove(dirs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeJSON(target string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(target, data, 0644)
}

func subjectDir(subject string) string {
	name := strings.Trim(unsafeNameChars.ReplaceAllString(subject, "_"), "._")
	if name == "" {
		return "General"
	}
	return name
}

// itemFileName derives a readable, collision-free file name from an item key
func itemFileName(key string) string {
	slug := key
	if i := strings.IndexAny(slug, "?#"); i >= 0 {
		slug = slug[:i]
	}
	slug = path.Base(strings.TrimRight(slug, "/"))
	slug = strings.Trim(unsafeNameChars.ReplaceAllString(slug, "_"), "._")
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	if slug == "" {
		slug = "item"
	}
	return fmt.Sprintf("%s-%08x.json", slug, uint32(xxh3.HashString(key)))
}
