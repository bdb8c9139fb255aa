// Package incremental narrows a discovered item set to the items no session has completed yet.
package incremental

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/harvester/internal/interfaces"
)

// FilterNew returns the keys of discovered that the ledger does not show as completed,
// in their original order. Duplicate keys are returned once.
func FilterNew(ctx context.Context, discovered []string, ledger interfaces.LedgerStorage) ([]string, error) {
	completed, err := ledger.CompletedKeys(ctx)
	if err != nil {
		if errors.Is(err, interfaces.ErrLedgerUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading completed keys: %v", interfaces.ErrLedgerUnavailable, err)
	}

	fresh := make([]string, 0, len(discovered))
	seen := make(map[string]struct{}, len(discovered))
	for _, key := range discovered {
		if _, done := completed[key]; done {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, key)
	}
	return fresh, nil
}
