package incremental

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/storage/memory"
)

type brokenLedger struct {
	*memory.LedgerStorage
}

func (brokenLedger) CompletedKeys(ctx context.Context) (map[string]struct{}, error) {
	return nil, errors.New("disk on fire")
}

func TestFilterNew(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStorage()
	require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: "x1", Status: models.ItemStatusCompleted}))
	require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: "x2", Status: models.ItemStatusFailed, Error: "boom"}))
	require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: "x3", Status: models.ItemStatusDiscovered}))

	fresh, err := FilterNew(ctx, []string{"x4", "x1", "x2", "x3", "x4"}, ledger)
	require.NoError(t, err)
	assert.Equal(t, []string{"x4", "x2", "x3"}, fresh, "failed and merely discovered items are still new")
}

func TestFilterNew_AllCompleted(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStorage()
	for _, key := range []string{"a", "b"} {
		require.NoError(t, ledger.Upsert(ctx, models.ItemUpdate{Key: key, Status: models.ItemStatusCompleted}))
	}

	fresh, err := FilterNew(ctx, []string{"a", "b"}, ledger)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestFilterNew_LedgerError(t *testing.T) {
	_, err := FilterNew(context.Background(), []string{"a"}, brokenLedger{memory.NewLedgerStorage()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrLedgerUnavailable))
}
