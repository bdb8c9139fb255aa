package coordinator

import (
	"context"
	"errors"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// ResetResult reports what Clear removed
type ResetResult struct {
	SessionID         string `json:"session_id"`
	ProgressCleared   bool   `json:"progress_cleared"`
	LedgerKeysDeleted int    `json:"ledger_keys_deleted"`
}

// Clear discards this node's progress for sessionID so the next run starts from discovery.
// With clearLedger the session's discovered keys are also removed from the ledger, which
// makes them eligible for extraction again on every node.
func (c *Coordinator) Clear(ctx context.Context, sessionID string, clearLedger bool) (*ResetResult, error) {
	result := &ResetResult{SessionID: sessionID}

	state, err := c.progress.Load(ctx, sessionID)
	if errors.Is(err, interfaces.ErrProgressNotFound) {
		c.logger.Debug().Str("session_id", sessionID).Msg("No progress to clear")
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if clearLedger && len(state.DiscoveredItems) > 0 {
		deleted, err := c.ledger.DeleteKeys(ctx, state.DiscoveredItems)
		if err != nil {
			return nil, err
		}
		result.LedgerKeysDeleted = deleted
	}

	if err := c.progress.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	result.ProgressCleared = true

	c.logger.Info().
		Str("session_id", sessionID).
		Int("ledger_keys_deleted", result.LedgerKeysDeleted).
		Msg("Session progress cleared")
	return result, nil
}

// StatusReport combines a session's progress with ledger-wide counts
type StatusReport struct {
	SessionID string                `json:"session_id,omitempty"`
	Progress  *models.ProgressState `json:"progress,omitempty"`
	Ledger    *models.LedgerStats   `json:"ledger"`
}

// Status reports ledger counts and, when sessionID is set and known to this node, its progress
func (c *Coordinator) Status(ctx context.Context, sessionID string) (*StatusReport, error) {
	stats, err := c.ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{SessionID: sessionID, Ledger: stats}
	if sessionID == "" {
		return report, nil
	}

	state, err := c.progress.Load(ctx, sessionID)
	switch {
	case err == nil:
		report.Progress = state
	case errors.Is(err, interfaces.ErrProgressNotFound):
	default:
		return nil, err
	}
	return report, nil
}

// Sessions lists the session ids with progress stored for this node
func (c *Coordinator) Sessions(ctx context.Context) ([]string, error) {
	return c.progress.List(ctx)
}
