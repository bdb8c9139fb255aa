// Package coordinator drives one harvesting session through discovery, filtering and
// processing, committing progress strictly in discovery order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/identity"
	"github.com/ternarybob/harvester/internal/services/incremental"
	"github.com/ternarybob/harvester/internal/services/partition"
	"github.com/ternarybob/harvester/internal/services/progress"
)

// errCompletedElsewhere is returned when the ledger refuses a claim because the item completed
var errCompletedElsewhere = errors.New("item already completed")

// Collaborators are the pluggable parts of a session
type Collaborators struct {
	Discoverer interfaces.Discoverer
	Extractor  interfaces.Extractor
	Sink       interfaces.OutputSink
}

// Coordinator runs sessions for one node. A Coordinator may run several sessions one after
// another; it must not run the same session twice concurrently.
type Coordinator struct {
	ledger      interfaces.LedgerStorage
	progress    interfaces.ProgressStorage
	discoverer  interfaces.Discoverer
	extractor   interfaces.Extractor
	sink        interfaces.OutputSink
	partitioner *partition.Partitioner
	options     Options
	logger      arbor.ILogger
	nowFunc     func() time.Time
}

// New creates a coordinator for options.NodeID of options.TotalNodes
func New(ledger interfaces.LedgerStorage, progressStore interfaces.ProgressStorage, collab Collaborators, options Options, logger arbor.ILogger) (*Coordinator, error) {
	if ledger == nil || progressStore == nil {
		return nil, fmt.Errorf("%w: ledger and progress storage are required", interfaces.ErrInvalidInput)
	}
	if collab.Discoverer == nil || collab.Extractor == nil || collab.Sink == nil {
		return nil, fmt.Errorf("%w: discoverer, extractor and sink are required", interfaces.ErrInvalidInput)
	}

	options = options.withDefaults()
	partitioner, err := partition.New(options.NodeID, options.TotalNodes)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		ledger:      ledger,
		progress:    progressStore,
		discoverer:  collab.Discoverer,
		extractor:   collab.Extractor,
		sink:        collab.Sink,
		partitioner: partitioner,
		options:     options,
		logger:      logger,
		nowFunc:     time.Now,
	}, nil
}

// Options returns the effective options
func (c *Coordinator) Options() Options {
	return c.options
}

// Run executes one session over seeds and returns its summary.
//
// The session id is derived from the seeds, so running the same seeds again resumes where the
// last run stopped. When ctx is cancelled, items already dispatched finish and are committed,
// nothing new starts, and Run returns ctx.Err() with the summary in its last non-final state.
// A fatal error aborts the session; the summary is still written and returned with the error.
func (c *Coordinator) Run(ctx context.Context, seeds []string) (*models.SessionSummary, error) {
	sessionID, err := identity.DeriveSessionID(seeds)
	if err != nil {
		return nil, err
	}
	canonical := identity.CanonicalLocators(seeds)

	s := &session{
		c:      c,
		id:     sessionID,
		seeds:  canonical,
		logger: c.logger.WithCorrelationId(sessionID),
		book:   context.WithoutCancel(ctx),
		summary: &models.SessionSummary{
			RunID:       common.NewRunID(),
			SessionID:   sessionID,
			NodeID:      c.options.NodeID,
			TotalNodes:  c.options.TotalNodes,
			State:       models.SessionStateInit,
			Incremental: c.options.Incremental,
			Seeds:       canonical,
			FailedItems: make(map[string]string),
			StartedAt:   c.nowFunc(),
		},
	}

	s.logger.Info().
		Str("run_id", s.summary.RunID).
		Int("node_id", c.options.NodeID).
		Int("total_nodes", c.options.TotalNodes).
		Int("seeds", len(canonical)).
		Bool("incremental", c.options.Incremental).
		Msg("Session starting")

	err = s.run(ctx)
	s.finish(err)
	return s.summary, err
}

// session is the state of one Run call
type session struct {
	c       *Coordinator
	id      string
	seeds   []string
	logger  arbor.ILogger
	tracker *progress.Tracker
	epoch   string
	summary *models.SessionSummary
	errMu   sync.Mutex

	// book carries values from the caller's context but is never cancelled; ledger and
	// progress writes use it so that work already done is always recorded.
	book context.Context
}

func (s *session) run(ctx context.Context) error {
	c := s.c

	if c.options.ForceRefresh {
		if _, err := c.Clear(s.book, s.id, c.options.ResetClearsLedger); err != nil {
			return s.abort(err)
		}
	}

	tracker, err := progress.LoadOrInit(s.book, c.progress, s.id, s.logger)
	if err != nil {
		return s.abort(err)
	}
	s.tracker = tracker

	snapshot := tracker.Snapshot()
	s.summary.Resumed = tracker.Loaded() && snapshot.DiscoveryComplete && !snapshot.IsDone()
	if tracker.Loaded() && snapshot.TotalNodes != 0 && snapshot.TotalNodes != c.options.TotalNodes {
		s.logger.Warn().
			Int("stored_total_nodes", snapshot.TotalNodes).
			Int("total_nodes", c.options.TotalNodes).
			Msg("Node count changed since the session was last run; ownership is re-evaluated")
	}

	if err := tracker.Begin(s.book, c.options.NodeID, c.options.TotalNodes, s.seeds); err != nil {
		return s.abort(err)
	}
	s.epoch = tracker.Epoch()

	if s.summary.Resumed {
		s.logger.Info().
			Int("discovered", len(snapshot.DiscoveredItems)).
			Int("cursor", snapshot.Cursor).
			Msg("Resuming session, skipping discovery")
	} else if err := s.discover(ctx); err != nil {
		return err
	}

	plan, err := s.filter()
	if err != nil {
		return s.abort(err)
	}

	return s.process(ctx, plan)
}

// enter moves the session to state and records it in progress storage
func (s *session) enter(state models.SessionState) error {
	s.summary.State = state
	s.logger.Debug().Str("state", string(state)).Msg("Session state changed")
	return s.tracker.SetPhase(s.book, state)
}

func (s *session) abort(err error) error {
	s.summary.State = models.SessionStateAborted
	s.summary.Error = err.Error()
	if s.tracker != nil {
		if perr := s.tracker.SetPhase(s.book, models.SessionStateAborted); perr != nil {
			s.logger.Warn().Err(perr).Msg("Failed to record aborted state")
		}
	}
	s.logger.Error().Err(err).Msg("Session aborted")
	return err
}

func (s *session) addError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.summary.Errors = append(s.summary.Errors, err.Error())
}

// discover runs every seed through the discoverer and records the union in seed order
func (s *session) discover(ctx context.Context) error {
	if err := s.enter(models.SessionStateDiscovering); err != nil {
		return s.abort(err)
	}

	results := make([][]models.ItemRef, len(s.seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.c.options.MaxDiscoveryConcurrency)

	for i, seed := range s.seeds {
		g.Go(func() error {
			refs, err := s.c.discoverer.Discover(gctx, seed)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if interfaces.IsFatal(err) {
					return err
				}
				s.logger.Warn().Err(err).Str("locator", seed).Msg("Discovery failed for locator")
				s.addError(err)
				return nil
			}
			results[i] = refs
			s.logger.Info().Str("locator", seed).Int("items", len(refs)).Msg("Locator discovered")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Discovery interrupted, nothing recorded")
			return ctx.Err()
		}
		return s.abort(err)
	}

	var all []models.ItemRef
	for _, refs := range results {
		all = append(all, refs...)
	}

	added, err := s.tracker.RecordDiscovery(s.book, all)
	if err != nil {
		return s.abort(err)
	}
	s.summary.NewlyFound = added

	s.logger.Info().
		Int("found", len(all)).
		Int("new", added).
		Msg("Discovery complete")
	return nil
}

// step is one remaining item in commit order. A non-empty skip finalises it without work.
type step struct {
	key  string
	skip string
}

// filter decides, for every remaining item, whether this node processes it
func (s *session) filter() ([]step, error) {
	c := s.c
	if err := s.enter(models.SessionStateFiltering); err != nil {
		return nil, err
	}

	remaining := s.tracker.Remaining()

	var fresh map[string]struct{}
	if c.options.Incremental {
		newKeys, err := incremental.FilterNew(s.book, remaining, c.ledger)
		if err != nil {
			return nil, err
		}
		fresh = make(map[string]struct{}, len(newKeys))
		for _, key := range newKeys {
			fresh[key] = struct{}{}
		}
	}

	plan := make([]step, 0, len(remaining))
	owned := 0
	for _, key := range remaining {
		if fresh != nil {
			if _, ok := fresh[key]; !ok {
				plan = append(plan, step{key: key, skip: models.SkipReasonKnown})
				continue
			}
		}
		if !c.partitioner.Owns(key) {
			plan = append(plan, step{key: key, skip: models.SkipReasonNotOwned})
			continue
		}
		if c.options.MaxTotalItems > 0 && owned == c.options.MaxTotalItems {
			s.logger.Info().
				Int("max_total_items", c.options.MaxTotalItems).
				Msg("Item limit reached, remaining items left for a later run")
			break
		}
		plan = append(plan, step{key: key})
		owned++
	}

	for _, st := range plan {
		if st.skip != "" {
			continue
		}
		err := c.ledger.Upsert(s.book, models.ItemUpdate{
			Key:       st.key,
			Status:    models.ItemStatusDiscovered,
			OwnerNode: c.options.NodeID,
			SessionID: s.id,
		})
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Int("remaining", len(remaining)).
		Int("to_process", owned).
		Msg("Filtering complete")
	return plan, nil
}

type outcome int

const (
	outcomeNotStarted outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeSkipped
	outcomeInterrupted
	outcomeFatal
)

type itemResult struct {
	outcome  outcome
	reason   string
	err      error
	attempts int
}

// process runs the plan with bounded concurrency. Workers may finish in any order; results
// are committed to progress strictly in plan order, so the cursor never passes an item
// whose outcome is not yet durable.
func (s *session) process(ctx context.Context, plan []step) error {
	c := s.c
	if err := s.enter(models.SessionStateProcessing); err != nil {
		return s.abort(err)
	}

	stop, cancelStop := context.WithCancel(ctx)
	defer cancelStop()

	sem := semaphore.NewWeighted(int64(c.options.MaxItemConcurrency))
	results := make([]chan itemResult, len(plan))
	for i := range results {
		results[i] = make(chan itemResult, 1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stopped := false
		for i, st := range plan {
			if st.skip != "" {
				continue
			}
			if !stopped {
				stopped = !s.acquire(stop, sem)
			}
			if stopped {
				results[i] <- itemResult{outcome: outcomeNotStarted}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] <- s.work(stop, st.key)
			}()
		}
	}()

	var runErr error
commit:
	for i, st := range plan {
		if st.skip != "" {
			if err := s.tracker.MarkSkipped(s.book, st.key, st.skip); err != nil {
				runErr = err
				break
			}
			s.count(st.skip)
			continue
		}

		res := <-results[i]
		switch res.outcome {
		case outcomeNotStarted, outcomeInterrupted:
			break commit
		case outcomeFatal:
			runErr = res.err
			break commit
		}

		err := s.commit(st.key, res)
		sem.Release(1)
		if err != nil {
			runErr = err
			break
		}
	}

	cancelStop()
	wg.Wait()

	if runErr != nil {
		return s.abort(runErr)
	}
	if err := ctx.Err(); err != nil {
		s.logger.Info().Msg("Session interrupted, in-flight items committed")
		return err
	}
	if s.tracker.IsDone() {
		if err := s.enter(models.SessionStateDone); err != nil {
			return s.abort(err)
		}
	}
	return nil
}

// acquire takes a worker slot, reporting false once dispatch must stop
func (s *session) acquire(stop context.Context, sem *semaphore.Weighted) bool {
	if stop.Err() != nil {
		return false
	}
	if err := sem.Acquire(stop, 1); err != nil {
		return false
	}
	if stop.Err() != nil {
		sem.Release(1)
		return false
	}
	return true
}

// work processes a single item. It always runs to completion once started; stop is only
// consulted between retry attempts.
func (s *session) work(stop context.Context, key string) itemResult {
	c := s.c
	ctx := context.WithoutCancel(stop)
	logger := s.logger

	rec, err := c.ledger.Get(ctx, key)
	switch {
	case errors.Is(err, interfaces.ErrItemNotFound):
	case err != nil:
		return itemResult{outcome: outcomeFatal, err: err}
	case s.finishedHere(rec) && rec.Status == models.ItemStatusCompleted:
		// Finished by an earlier run of this session that stopped before committing it
		logger.Debug().Str("item_key", key).Msg("Item completed before interruption, committing")
		return itemResult{outcome: outcomeCompleted, attempts: rec.AttemptCount}
	case s.finishedHere(rec) && rec.Status == models.ItemStatusFailed:
		logger.Debug().Str("item_key", key).Msg("Item failed before interruption, committing")
		return itemResult{outcome: outcomeFailed, reason: rec.LastError, attempts: rec.AttemptCount}
	case rec.Status == models.ItemStatusCompleted:
		logger.Debug().Str("item_key", key).Msg("Item already completed, skipping")
		return itemResult{outcome: outcomeSkipped, reason: models.SkipReasonDuplicate}
	case rec.Status == models.ItemStatusInProgress && rec.OwnerNode != c.options.NodeID &&
		c.nowFunc().Sub(rec.UpdatedAt) < c.options.ClaimTimeout:
		logger.Debug().Str("item_key", key).Int("owner_node", rec.OwnerNode).Msg("Item claimed by another node, skipping")
		return itemResult{outcome: outcomeSkipped, reason: models.SkipReasonClaimed}
	}

	ref, ok := s.tracker.Ref(key)
	if !ok {
		ref = models.ItemRef{Key: key, URL: key}
	}

	attempts, err := c.options.Retry.Execute(stop, logger, func(attempt int) error {
		err := c.ledger.Upsert(ctx, models.ItemUpdate{
			Key:       key,
			Status:    models.ItemStatusInProgress,
			OwnerNode: c.options.NodeID,
			SessionID: s.id,
			Token:     s.epoch,
		})
		if err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return Permanent(errCompletedElsewhere)
			}
			return err
		}

		content, err := c.extractor.Extract(ctx, ref)
		if err != nil {
			return err
		}
		return c.sink.Write(ctx, key, content)
	})

	switch {
	case err == nil:
		err := c.ledger.Upsert(ctx, models.ItemUpdate{
			Key:       key,
			Status:    models.ItemStatusCompleted,
			OwnerNode: c.options.NodeID,
			SessionID: s.id,
			Token:     s.epoch,
		})
		if err != nil {
			return itemResult{outcome: outcomeFatal, err: err}
		}
		logger.Debug().Str("item_key", key).Int("attempts", attempts).Msg("Item completed")
		return itemResult{outcome: outcomeCompleted, attempts: attempts}

	case errors.Is(err, errCompletedElsewhere):
		return itemResult{outcome: outcomeSkipped, reason: models.SkipReasonDuplicate}

	case interfaces.IsFatal(err):
		return itemResult{outcome: outcomeFatal, err: err}

	case errors.Is(err, errInterrupted):
		logger.Debug().Str("item_key", key).Int("attempts", attempts).Msg("Item interrupted between attempts")
		return itemResult{outcome: outcomeInterrupted, attempts: attempts}
	}

	extErr := &interfaces.ExtractionError{Key: key, Attempts: attempts, Err: err}
	uerr := c.ledger.Upsert(ctx, models.ItemUpdate{
		Key:       key,
		Status:    models.ItemStatusFailed,
		OwnerNode: c.options.NodeID,
		Error:     extErr.Error(),
		SessionID: s.id,
		Token:     s.epoch,
	})
	switch {
	case errors.Is(uerr, models.ErrInvalidTransition):
		return itemResult{outcome: outcomeSkipped, reason: models.SkipReasonDuplicate}
	case uerr != nil:
		return itemResult{outcome: outcomeFatal, err: uerr}
	}

	logger.Warn().Str("item_key", key).Err(extErr).Msg("Item failed")
	return itemResult{outcome: outcomeFailed, reason: extErr.Error(), attempts: attempts}
}

// finishedHere reports whether rec was claimed by this node under the current progress epoch.
// Such a record reached completed or failed in a run of this session that ended before the
// outcome was committed to progress.
func (s *session) finishedHere(rec *models.ItemRecord) bool {
	return s.epoch != "" && rec.ClaimToken == s.epoch && rec.OwnerNode == s.c.options.NodeID
}

// commit finalises a worker result in progress storage
func (s *session) commit(key string, res itemResult) error {
	switch res.outcome {
	case outcomeCompleted:
		if err := s.tracker.MarkCompleted(s.book, key); err != nil {
			return err
		}
		s.summary.Completed++
	case outcomeFailed:
		if err := s.tracker.MarkFailed(s.book, key, res.reason); err != nil {
			return err
		}
		s.summary.Failed++
		s.summary.FailedItems[key] = res.reason
	case outcomeSkipped:
		if err := s.tracker.MarkSkipped(s.book, key, res.reason); err != nil {
			return err
		}
		s.count(res.reason)
	}
	return nil
}

func (s *session) count(reason string) {
	switch reason {
	case models.SkipReasonNotOwned:
		s.summary.NotOwned++
	case models.SkipReasonKnown:
		s.summary.Known++
	default:
		s.summary.Skipped++
	}
}

// finish fills in the closing counts and writes the summary, whatever the outcome
func (s *session) finish(runErr error) {
	if s.tracker != nil {
		snapshot := s.tracker.Snapshot()
		s.summary.Discovered = len(snapshot.DiscoveredItems)
		s.summary.Remaining = len(snapshot.Remaining())
	}
	s.summary.FinishedAt = s.c.nowFunc()

	if err := s.c.sink.WriteSummary(s.book, s.summary); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write session summary")
	}

	event := s.logger.Info()
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		event = s.logger.Error().Err(runErr)
	}
	event.
		Str("state", string(s.summary.State)).
		Int("discovered", s.summary.Discovered).
		Int("completed", s.summary.Completed).
		Int("failed", s.summary.Failed).
		Int("skipped", s.summary.Skipped).
		Int("not_owned", s.summary.NotOwned).
		Int("known", s.summary.Known).
		Int("remaining", s.summary.Remaining).
		Dur("duration", s.summary.Duration()).
		Msg("Session finished")
}
