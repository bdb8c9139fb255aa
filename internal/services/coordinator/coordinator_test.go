package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/identity"
	"github.com/ternarybob/harvester/internal/storage/memory"
)

const (
	seedA = "https://catalog.example/search?d=Alpha"
	seedB = "https://catalog.example/search?d=Beta"
)

func itemKey(name string) string {
	return "https://catalog.example/courses/" + name
}

func refs(names ...string) []models.ItemRef {
	out := make([]models.ItemRef, 0, len(names))
	for _, name := range names {
		key := itemKey(name)
		out = append(out, models.ItemRef{Key: key, URL: key, Title: name})
	}
	return out
}

type fakeDiscoverer struct {
	items map[string][]models.ItemRef
	errs  map[string]error
	block bool
}

func (d *fakeDiscoverer) Discover(ctx context.Context, locator string) ([]models.ItemRef, error) {
	if d.block {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := d.errs[locator]; ok {
		return nil, err
	}
	return d.items[locator], nil
}

type fakeExtractor struct {
	mu          sync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int
	fn          func(ref models.ItemRef, call int) error
	delay       func(ref models.ItemRef) time.Duration
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{calls: make(map[string]int)}
}

func (e *fakeExtractor) Extract(ctx context.Context, ref models.ItemRef) (*models.ExtractedContent, error) {
	e.mu.Lock()
	e.calls[ref.Key]++
	call := e.calls[ref.Key]
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.delay != nil {
		time.Sleep(e.delay(ref))
	}
	if e.fn != nil {
		if err := e.fn(ref, call); err != nil {
			return nil, err
		}
	}
	return &models.ExtractedContent{Key: ref.Key, URL: ref.URL, Title: ref.Title}, nil
}

func (e *fakeExtractor) Calls(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[key]
}

type recordingSink struct {
	mu        sync.Mutex
	written   map[string]int
	summaries []*models.SessionSummary
}

func newRecordingSink() *recordingSink {
	return &recordingSink{written: make(map[string]int)}
}

func (s *recordingSink) Write(ctx context.Context, key string, content *models.ExtractedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written[key]++
	return nil
}

func (s *recordingSink) WriteSummary(ctx context.Context, summary *models.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *summary
	s.summaries = append(s.summaries, &copied)
	return nil
}

// failingLedger fails every in_progress upsert
type failingLedger struct {
	*memory.LedgerStorage
}

func (l *failingLedger) Upsert(ctx context.Context, update models.ItemUpdate) error {
	if update.Status == models.ItemStatusInProgress {
		return fmt.Errorf("%w: connection refused", interfaces.ErrLedgerUnavailable)
	}
	return l.LedgerStorage.Upsert(ctx, update)
}

type harness struct {
	ledger     *memory.LedgerStorage
	progress   *memory.ProgressStorage
	discoverer *fakeDiscoverer
	extractor  *fakeExtractor
	sink       *recordingSink
}

func newHarness(items map[string][]models.ItemRef) *harness {
	return &harness{
		ledger:     memory.NewLedgerStorage(),
		progress:   memory.NewProgressStorage(),
		discoverer: &fakeDiscoverer{items: items, errs: make(map[string]error)},
		extractor:  newFakeExtractor(),
		sink:       newRecordingSink(),
	}
}

func testOptions() Options {
	return Options{
		NodeID:                  0,
		TotalNodes:              1,
		MaxItemConcurrency:      1,
		MaxDiscoveryConcurrency: 2,
		Retry:                   RetryPolicy{MaxAttempts: 2},
	}
}

func (h *harness) coordinator(t *testing.T, options Options) *Coordinator {
	t.Helper()
	return h.coordinatorWithLedger(t, h.ledger, options)
}

func (h *harness) coordinatorWithLedger(t *testing.T, ledger interfaces.LedgerStorage, options Options) *Coordinator {
	t.Helper()
	c, err := New(ledger, h.progress, Collaborators{
		Discoverer: h.discoverer,
		Extractor:  h.extractor,
		Sink:       h.sink,
	}, options, arbor.NewLogger())
	require.NoError(t, err)
	return c
}

func (h *harness) state(t *testing.T, seeds ...string) *models.ProgressState {
	t.Helper()
	sessionID, err := identity.DeriveSessionID(seeds)
	require.NoError(t, err)
	state, err := h.progress.Load(context.Background(), sessionID)
	require.NoError(t, err)
	return state
}

func threeItems() map[string][]models.ItemRef {
	return map[string][]models.ItemRef{
		seedA: refs("x1"),
		seedB: refs("x2", "x3"),
	}
}

func TestRun_FailedItemAfterRetries(t *testing.T) {
	h := newHarness(threeItems())
	h.extractor.fn = func(ref models.ItemRef, call int) error {
		if ref.Key == itemKey("x2") {
			return errors.New("parse error")
		}
		return nil
	}

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedB, seedA})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateDone, summary.State)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 0, summary.Remaining)
	assert.Contains(t, summary.FailedItems, itemKey("x2"))
	assert.Equal(t, 2, h.extractor.Calls(itemKey("x2")))

	state := h.state(t, seedA, seedB)
	assert.Equal(t, []string{itemKey("x1"), itemKey("x2"), itemKey("x3")}, state.DiscoveredItems)
	assert.Equal(t, map[string]bool{itemKey("x1"): true, itemKey("x3"): true}, state.CompletedItems)
	assert.Contains(t, state.FailedItems, itemKey("x2"))
	assert.Equal(t, 3, state.Cursor)
	assert.Equal(t, models.SessionStateDone, state.Phase)

	rec, err := h.ledger.Get(context.Background(), itemKey("x2"))
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusFailed, rec.Status)
	assert.Equal(t, 2, rec.AttemptCount)
	assert.NotEmpty(t, rec.LastError)

	require.Len(t, h.sink.summaries, 1)
	assert.Equal(t, 2, h.sink.written[itemKey("x1")]+h.sink.written[itemKey("x3")])
}

func TestRun_TransientErrorRetried(t *testing.T) {
	h := newHarness(threeItems())
	h.extractor.fn = func(ref models.ItemRef, call int) error {
		if ref.Key == itemKey("x2") && call == 1 {
			return errors.New("timeout")
		}
		return nil
	}

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, h.extractor.Calls(itemKey("x2")))
}

func TestRun_TwoNodesPartitionWork(t *testing.T) {
	items := map[string][]models.ItemRef{seedA: refs("x1", "x2", "x3", "x4", "x5", "x6")}
	ledger := memory.NewLedgerStorage()
	extractor := newFakeExtractor()

	nodes := make([]*harness, 2)
	summaries := make([]*models.SessionSummary, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for node := range nodes {
		h := newHarness(items)
		h.ledger = ledger
		h.extractor = extractor
		nodes[node] = h

		options := testOptions()
		options.NodeID = node
		options.TotalNodes = 2
		c := h.coordinator(t, options)

		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[node], errs[node] = c.Run(context.Background(), []string{seedA})
		}()
	}
	wg.Wait()

	completed := make(map[string]int)
	for node, h := range nodes {
		require.NoError(t, errs[node])
		assert.Equal(t, models.SessionStateDone, summaries[node].State)
		state := h.state(t, seedA)
		for key := range state.CompletedItems {
			completed[key]++
		}
		assert.Equal(t, 6, state.Cursor)
	}

	require.Len(t, completed, 6, "union of completed items covers every item")
	for key, n := range completed {
		assert.Equal(t, 1, n, "item %s completed by exactly one node", key)
		assert.Equal(t, 1, extractor.Calls(key))
	}
	assert.Equal(t, 6, summaries[0].Completed+summaries[1].Completed)
	assert.Equal(t, 6, summaries[0].NotOwned+summaries[1].NotOwned)
}

func TestRun_ResumeAfterCancellation(t *testing.T) {
	h := newHarness(threeItems())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.extractor.fn = func(ref models.ItemRef, call int) error {
		if ref.Key == itemKey("x2") {
			cancel()
		}
		return nil
	}

	c := h.coordinator(t, testOptions())
	summary, err := c.Run(ctx, []string{seedA, seedB})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.SessionStateProcessing, summary.State)
	assert.Equal(t, 2, summary.Completed, "in-flight item is committed before exit")
	assert.Equal(t, 1, summary.Remaining)

	state := h.state(t, seedA, seedB)
	assert.Equal(t, 2, state.Cursor)
	assert.True(t, state.DiscoveryComplete)

	h.extractor.fn = nil
	summary, err = c.Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)
	assert.True(t, summary.Resumed)
	assert.Equal(t, 0, summary.NewlyFound)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, models.SessionStateDone, summary.State)

	for _, name := range []string{"x1", "x2", "x3"} {
		assert.Equal(t, 1, h.extractor.Calls(itemKey(name)), "%s extracted once across both runs", name)
	}
	assert.Len(t, h.sink.summaries, 2)
}

func TestRun_ResumeCommitsItemsFinishedAfterInterruption(t *testing.T) {
	tests := []struct {
		name        string
		x2Fails     bool // x2 cancels the run from its last attempt
		wantDone    int
		wantFailed  int
		wantX2Calls int
	}{
		{name: "completed", x2Fails: false, wantDone: 2, wantFailed: 0, wantX2Calls: 1},
		{name: "failed", x2Fails: true, wantDone: 1, wantFailed: 1, wantX2Calls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(map[string][]models.ItemRef{seedA: refs("x1", "x2")})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// x1 fails once and is still backing off when x2 finishes and cancels the run
			h.extractor.delay = func(ref models.ItemRef) time.Duration {
				if ref.Key == itemKey("x1") && h.extractor.Calls(ref.Key) == 1 {
					return 300 * time.Millisecond
				}
				return 0
			}
			h.extractor.fn = func(ref models.ItemRef, call int) error {
				switch ref.Key {
				case itemKey("x1"):
					if call == 1 {
						return errors.New("timeout")
					}
				case itemKey("x2"):
					if !tt.x2Fails {
						cancel()
						return nil
					}
					if call == 2 {
						cancel()
					}
					return errors.New("parse error")
				}
				return nil
			}

			options := testOptions()
			options.MaxItemConcurrency = 2
			options.Retry = RetryPolicy{MaxAttempts: 2, InitialBackoff: 200 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
			c := h.coordinator(t, options)

			summary, err := c.Run(ctx, []string{seedA})
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 0, summary.Completed, "x1 was interrupted so nothing could be committed")
			assert.Equal(t, 0, h.state(t, seedA).Cursor)

			rec, err := h.ledger.Get(context.Background(), itemKey("x2"))
			require.NoError(t, err)
			assert.NotEqual(t, models.ItemStatusInProgress, rec.Status, "x2 finished in the ledger")

			h.extractor.fn = nil
			summary, err = c.Run(context.Background(), []string{seedA})
			require.NoError(t, err)
			assert.True(t, summary.Resumed)
			assert.Equal(t, models.SessionStateDone, summary.State)
			assert.Equal(t, tt.wantDone, summary.Completed)
			assert.Equal(t, tt.wantFailed, summary.Failed)
			assert.Equal(t, 0, summary.Skipped)

			state := h.state(t, seedA)
			assert.Len(t, state.CompletedItems, tt.wantDone)
			assert.Len(t, state.FailedItems, tt.wantFailed)
			assert.Empty(t, state.SkippedItems)
			assert.Equal(t, 2, h.extractor.Calls(itemKey("x1")))
			assert.Equal(t, tt.wantX2Calls, h.extractor.Calls(itemKey("x2")), "x2 is not extracted again")
			require.NoError(t, state.Validate())
		})
	}
}

func TestRun_CancelledDuringDiscovery(t *testing.T) {
	h := newHarness(threeItems())
	h.discoverer.block = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.coordinator(t, testOptions()).Run(ctx, []string{seedA, seedB})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.SessionStateDiscovering, summary.State)
	assert.Equal(t, 0, summary.Discovered)

	state := h.state(t, seedA, seedB)
	assert.False(t, state.DiscoveryComplete)
	require.Len(t, h.sink.summaries, 1)
}

func TestRun_IncrementalSkipsKnownItems(t *testing.T) {
	h := newHarness(threeItems())
	_, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	// Fresh progress, same ledger: a new deployment or a different seed ordering elsewhere
	h.progress = memory.NewProgressStorage()
	options := testOptions()
	options.Incremental = true

	summary, err := h.coordinator(t, options).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Known)
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, models.SessionStateDone, summary.State)
	for _, name := range []string{"x1", "x2", "x3"} {
		assert.Equal(t, 1, h.extractor.Calls(itemKey(name)))
	}
	assert.Equal(t, models.SkipReasonKnown, h.state(t, seedA, seedB).SkippedItems[itemKey("x1")])
}

func TestRun_IncrementalPicksUpNewItems(t *testing.T) {
	h := newHarness(threeItems())
	_, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	h.discoverer.items[seedB] = refs("x2", "x3", "x4")
	options := testOptions()
	options.Incremental = true

	summary, err := h.coordinator(t, options).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	assert.False(t, summary.Resumed)
	assert.Equal(t, 1, summary.NewlyFound)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, h.extractor.Calls(itemKey("x4")))
	assert.Equal(t, 1, h.extractor.Calls(itemKey("x1")))
}

func TestRun_LedgerPreventsDuplicateWork(t *testing.T) {
	h := newHarness(threeItems())
	_, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	h.progress = memory.NewProgressStorage()
	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, models.SkipReasonDuplicate, h.state(t, seedA, seedB).SkippedItems[itemKey("x2")])
	assert.Equal(t, 1, h.extractor.Calls(itemKey("x2")))
}

func TestRun_ClaimedByAnotherNode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string][]models.ItemRef{seedA: refs("x1", "x2")})

	require.NoError(t, h.ledger.Upsert(ctx, models.ItemUpdate{Key: itemKey("x1"), Status: models.ItemStatusInProgress, OwnerNode: 3}))

	h.ledger.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	require.NoError(t, h.ledger.Upsert(ctx, models.ItemUpdate{Key: itemKey("x2"), Status: models.ItemStatusInProgress, OwnerNode: 3}))
	h.ledger.SetClock(time.Now)

	summary, err := h.coordinator(t, testOptions()).Run(ctx, []string{seedA})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Completed, "stale claim is taken over")
	assert.Equal(t, 0, h.extractor.Calls(itemKey("x1")))
	assert.Equal(t, 1, h.extractor.Calls(itemKey("x2")))
	assert.Equal(t, models.SkipReasonClaimed, h.state(t, seedA).SkippedItems[itemKey("x1")])

	rec, err := h.ledger.Get(ctx, itemKey("x1"))
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusInProgress, rec.Status)
	assert.Equal(t, 3, rec.OwnerNode)
}

func TestRun_OwnClaimIsReclaimed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(map[string][]models.ItemRef{seedA: refs("x1")})
	require.NoError(t, h.ledger.Upsert(ctx, models.ItemUpdate{Key: itemKey("x1"), Status: models.ItemStatusInProgress, OwnerNode: 0}))

	summary, err := h.coordinator(t, testOptions()).Run(ctx, []string{seedA})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
}

func TestRun_FatalExtractionAborts(t *testing.T) {
	h := newHarness(threeItems())
	h.extractor.fn = func(ref models.ItemRef, call int) error {
		if ref.Key == itemKey("x2") {
			return interfaces.NewFatalExtractionError(ref.Key, errors.New("layout changed"))
		}
		return nil
	}

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.ErrorIs(t, err, interfaces.ErrFatalExtraction)

	assert.Equal(t, models.SessionStateAborted, summary.State)
	assert.NotEmpty(t, summary.Error)
	assert.Equal(t, 1, h.extractor.Calls(itemKey("x2")), "fatal errors are not retried")
	assert.Equal(t, 0, h.extractor.Calls(itemKey("x3")))

	state := h.state(t, seedA, seedB)
	assert.Equal(t, 1, state.Cursor)
	assert.Equal(t, models.SessionStateAborted, state.Phase)

	require.Len(t, h.sink.summaries, 1)
	assert.Equal(t, models.SessionStateAborted, h.sink.summaries[0].State)
}

func TestRun_LedgerUnavailableAborts(t *testing.T) {
	h := newHarness(threeItems())
	c := h.coordinatorWithLedger(t, &failingLedger{LedgerStorage: h.ledger}, testOptions())

	summary, err := c.Run(context.Background(), []string{seedA, seedB})
	require.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
	assert.Equal(t, models.SessionStateAborted, summary.State)
	assert.Equal(t, 0, summary.Completed)
	assert.Equal(t, 0, h.extractor.Calls(itemKey("x1")))
	assert.Len(t, h.sink.summaries, 1)
}

func TestRun_DiscoveryErrorIsRecovered(t *testing.T) {
	h := newHarness(threeItems())
	h.discoverer.errs[seedB] = &interfaces.DiscoveryError{Locator: seedB, Err: errors.New("status 503")}

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStateDone, summary.State)
	assert.Equal(t, 1, summary.Completed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], seedB)
}

func TestRun_UnavailableFetcherDuringDiscoveryAborts(t *testing.T) {
	h := newHarness(threeItems())
	h.discoverer.errs[seedB] = &interfaces.DiscoveryError{
		Locator: seedB,
		Err:     fmt.Errorf("%w: chrome not found", interfaces.ErrFetcherUnavailable),
	}

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
	require.ErrorIs(t, err, interfaces.ErrFetcherUnavailable)
	assert.Equal(t, models.SessionStateAborted, summary.State)
	assert.Equal(t, 0, h.extractor.Calls(itemKey("x1")))
	assert.False(t, h.state(t, seedA, seedB).DiscoveryComplete, "next run discovers again")
}

func TestRun_MaxTotalItems(t *testing.T) {
	h := newHarness(threeItems())
	options := testOptions()
	options.MaxTotalItems = 2
	c := h.coordinator(t, options)

	summary, err := c.Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Remaining)
	assert.Equal(t, models.SessionStateProcessing, summary.State)

	summary, err = c.Run(context.Background(), []string{seedA, seedB})
	require.NoError(t, err)
	assert.True(t, summary.Resumed)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, models.SessionStateDone, summary.State)
}

func TestRun_ConcurrentWorkersCommitInOrder(t *testing.T) {
	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("x%02d", i)
	}
	h := newHarness(map[string][]models.ItemRef{seedA: refs(names...)})
	h.extractor.delay = func(ref models.ItemRef) time.Duration {
		// Earlier items take longer so completions arrive out of order
		for i, name := range names {
			if ref.Key == itemKey(name) {
				return time.Duration(len(names)-i) * 2 * time.Millisecond
			}
		}
		return 0
	}

	options := testOptions()
	options.MaxItemConcurrency = 3

	summary, err := h.coordinator(t, options).Run(context.Background(), []string{seedA})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Completed)
	assert.LessOrEqual(t, h.extractor.maxInFlight, 3)

	state := h.state(t, seedA)
	assert.Equal(t, 10, state.Cursor)
	assert.Len(t, state.CompletedItems, 10)
	require.NoError(t, state.Validate())
}

func TestRun_ForceRefresh(t *testing.T) {
	tests := []struct {
		name        string
		clearLedger bool
		wantCalls   int
		wantSkipped int
	}{
		{"progress only", false, 1, 3},
		{"progress and ledger", true, 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(threeItems())
			_, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{seedA, seedB})
			require.NoError(t, err)

			options := testOptions()
			options.ForceRefresh = true
			options.ResetClearsLedger = tt.clearLedger

			summary, err := h.coordinator(t, options).Run(context.Background(), []string{seedA, seedB})
			require.NoError(t, err)

			assert.Equal(t, 3, summary.NewlyFound)
			assert.Equal(t, tt.wantSkipped, summary.Skipped)
			assert.Equal(t, tt.wantCalls, h.extractor.Calls(itemKey("x1")))
		})
	}
}

func TestRun_InvalidSeeds(t *testing.T) {
	h := newHarness(threeItems())

	summary, err := h.coordinator(t, testOptions()).Run(context.Background(), []string{" ", ""})
	require.ErrorIs(t, err, interfaces.ErrInvalidInput)
	assert.Nil(t, summary)
	assert.Empty(t, h.sink.summaries)
	assert.Equal(t, 0, h.progress.Saves())
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(nil)
	collab := Collaborators{Discoverer: h.discoverer, Extractor: h.extractor, Sink: h.sink}

	_, err := New(h.ledger, h.progress, Collaborators{}, testOptions(), arbor.NewLogger())
	assert.ErrorIs(t, err, interfaces.ErrInvalidInput)

	options := testOptions()
	options.NodeID = 2
	options.TotalNodes = 2
	_, err = New(h.ledger, h.progress, collab, options, arbor.NewLogger())
	assert.Error(t, err)

	c, err := New(h.ledger, h.progress, collab, Options{}, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Options().TotalNodes)
	assert.Equal(t, 1, c.Options().MaxItemConcurrency)
	assert.Equal(t, DefaultClaimTimeout, c.Options().ClaimTimeout)
}

func TestClearAndStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(threeItems())
	c := h.coordinator(t, testOptions())

	summary, err := c.Run(ctx, []string{seedA, seedB})
	require.NoError(t, err)

	report, err := c.Status(ctx, summary.SessionID)
	require.NoError(t, err)
	require.NotNil(t, report.Progress)
	assert.Equal(t, 3, report.Progress.Cursor)
	assert.Equal(t, 3, report.Ledger.ByStatus[models.ItemStatusCompleted])

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{summary.SessionID}, sessions)

	result, err := c.Clear(ctx, summary.SessionID, true)
	require.NoError(t, err)
	assert.True(t, result.ProgressCleared)
	assert.Equal(t, 3, result.LedgerKeysDeleted)

	_, err = h.progress.Load(ctx, summary.SessionID)
	assert.ErrorIs(t, err, interfaces.ErrProgressNotFound)

	result, err = c.Clear(ctx, summary.SessionID, true)
	require.NoError(t, err)
	assert.False(t, result.ProgressCleared)

	report, err = c.Status(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Nil(t, report.Progress)
	assert.Equal(t, 0, report.Ledger.Total)
}
