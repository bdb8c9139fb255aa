// Package file stores progress states as one JSON document per session.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

const fileSuffix = ".progress.json"

// ProgressStorage writes <dir>/<session_id>.progress.json. Saves go to a temporary file
// that is fsynced and renamed over the previous document, so readers and crash
// recovery only ever see a complete state.
type ProgressStorage struct {
	dir    string
	logger arbor.ILogger
}

// NewProgressStorage creates the directory if needed
func NewProgressStorage(dir string, logger arbor.ILogger) (*ProgressStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create progress directory: %v", interfaces.ErrProgressStorage, err)
	}
	return &ProgressStorage{dir: dir, logger: logger}, nil
}

func (s *ProgressStorage) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+fileSuffix)
}

func validSessionID(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return fmt.Errorf("%w: invalid session id %q", interfaces.ErrProgressStorage, sessionID)
	}
	return nil
}

func (s *ProgressStorage) Load(ctx context.Context, sessionID string) (*models.ProgressState, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrProgressNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", interfaces.ErrProgressStorage, sessionID, err)
	}

	var state models.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", interfaces.ErrProgressStorage, sessionID, err)
	}
	return &state, nil
}

func (s *ProgressStorage) Save(ctx context.Context, state *models.ProgressState) error {
	if state == nil {
		return fmt.Errorf("%w: nil progress state", interfaces.ErrProgressStorage)
	}
	if err := validSessionID(state.SessionID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", interfaces.ErrProgressStorage, state.SessionID, err)
	}
	if err := renameio.WriteFile(s.path(state.SessionID), data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", interfaces.ErrProgressStorage, state.SessionID, err)
	}
	return nil
}

func (s *ProgressStorage) Delete(ctx context.Context, sessionID string) error {
	if err := validSessionID(sessionID); err != nil {
		return err
	}
	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %v", interfaces.ErrProgressStorage, sessionID, err)
	}
	return nil
}

func (s *ProgressStorage) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", interfaces.ErrProgressStorage, err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ProgressStorage) Close() error {
	return nil
}
