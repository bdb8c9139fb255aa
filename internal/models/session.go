package models

import "time"

// SessionState is a Session Coordinator lifecycle state
type SessionState string

const (
	SessionStateInit        SessionState = "init"
	SessionStateDiscovering SessionState = "discovering"
	SessionStateFiltering   SessionState = "filtering"
	SessionStateProcessing  SessionState = "processing"
	SessionStateDone        SessionState = "done"
	SessionStateAborted     SessionState = "aborted"
)

// Skip reasons recorded in ProgressState.SkippedItems
const (
	SkipReasonNotOwned  = "not_owned" // Partitioner assigned the item to another node
	SkipReasonKnown     = "known"     // Incremental differ: completed in an earlier session
	SkipReasonDuplicate = "duplicate" // Ledger already shows the item completed
	SkipReasonClaimed   = "claimed"   // Another node holds a fresh in_progress claim
)

// SessionSummary is the report emitted at the end of every session, including aborted ones
type SessionSummary struct {
	RunID       string            `json:"run_id"`
	SessionID   string            `json:"session_id"`
	NodeID      int               `json:"node_id"`
	TotalNodes  int               `json:"total_nodes"`
	State       SessionState      `json:"state"`
	Incremental bool              `json:"incremental"`
	Resumed     bool              `json:"resumed"`
	Seeds       []string          `json:"seeds"`
	Discovered  int               `json:"discovered"`     // Items known to the session
	NewlyFound  int               `json:"newly_found"`    // Items added by this run's discovery
	NotOwned    int               `json:"not_owned"`      // Items left to other nodes
	Known       int               `json:"known"`          // Items filtered by the incremental differ
	Completed   int               `json:"completed"`      // Items extracted by this run
	Failed      int               `json:"failed"`         // Items that exhausted their retries this run
	Skipped     int               `json:"skipped"`        // Items skipped as duplicates or claimed elsewhere
	Remaining   int               `json:"remaining"`      // Items still pending at exit
	Errors      []string          `json:"errors,omitempty"`
	FailedItems map[string]string `json:"failed_items,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Error       string            `json:"error,omitempty"` // Fatal error that aborted the session
}

// Duration returns how long the session ran
func (s *SessionSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
