package models

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when an update would move an item backwards in its lifecycle
var ErrInvalidTransition = errors.New("invalid item status transition")

// ItemStatus represents the processing state of a catalog item in the ledger
type ItemStatus string

const (
	ItemStatusDiscovered ItemStatus = "discovered"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// IsValid reports whether s is one of the known statuses
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusDiscovered, ItemStatusInProgress, ItemStatusCompleted, ItemStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted
}

// CanTransition reports whether an item may move from one status to another.
//
//	discovered  -> any
//	in_progress -> in_progress | completed | failed
//	failed      -> in_progress | failed | completed
//	completed   -> completed
func CanTransition(from, to ItemStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	switch from {
	case ItemStatusDiscovered:
		return true
	case ItemStatusCompleted:
		return to == ItemStatusCompleted
	default:
		return to != ItemStatusDiscovered
	}
}

// ItemRecord is the ledger entry for a single item, shared across sessions and nodes
type ItemRecord struct {
	Key                 string     `json:"item_key"`
	Status              ItemStatus `json:"status"`
	OwnerNode           int        `json:"owner_node"`
	AttemptCount        int        `json:"attempt_count"`
	LastError           string     `json:"last_error,omitempty"`
	DiscoveredAtSession string     `json:"discovered_at_session"` // Session that first saw the item
	ClaimToken          string     `json:"claim_token,omitempty"` // Progress epoch of the last claim
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ItemUpdate is a single upsert request against the ledger
type ItemUpdate struct {
	Key       string
	Status    ItemStatus
	OwnerNode int
	Error     string // Only kept for failed updates
	SessionID string // Recorded as DiscoveredAtSession when the key is new
	Token     string // Progress epoch; replaces ClaimToken on every non-discovered update
}

// NextRecord computes the record that results from applying u to current (nil when the key is
// absent). ok is false when the transition is not allowed. A discovered update on an existing
// record leaves it untouched, so re-discovery never duplicates or resets an item.
func NextRecord(current *ItemRecord, u ItemUpdate, now time.Time) (next ItemRecord, ok bool) {
	if !u.Status.IsValid() {
		return ItemRecord{}, false
	}

	if current == nil {
		next = ItemRecord{
			Key:                 u.Key,
			Status:              u.Status,
			OwnerNode:           u.OwnerNode,
			DiscoveredAtSession: u.SessionID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if u.Status != ItemStatusDiscovered {
			next.ClaimToken = u.Token
		}
		if u.Status == ItemStatusInProgress {
			next.AttemptCount = 1
		}
		if u.Status == ItemStatusFailed {
			next.LastError = u.Error
		}
		return next, true
	}

	next = *current
	if u.Status == ItemStatusDiscovered {
		return next, true
	}
	if !CanTransition(current.Status, u.Status) {
		return next, false
	}

	next.Status = u.Status
	next.OwnerNode = u.OwnerNode
	next.ClaimToken = u.Token
	next.UpdatedAt = now
	switch u.Status {
	case ItemStatusInProgress:
		next.AttemptCount++
	case ItemStatusCompleted:
		next.LastError = ""
	case ItemStatusFailed:
		next.LastError = u.Error
	}
	return next, true
}

// LedgerStats summarises ledger contents for status reporting
type LedgerStats struct {
	Total    int                `json:"total"`
	ByStatus map[ItemStatus]int `json:"by_status"`
	ByNode   map[int]int        `json:"by_node"` // Claimed, completed and failed records per owner node
}

// NewLedgerStats returns empty stats with initialised maps
func NewLedgerStats() *LedgerStats {
	return &LedgerStats{
		ByStatus: make(map[ItemStatus]int),
		ByNode:   make(map[int]int),
	}
}

// Add counts a record into the stats
func (s *LedgerStats) Add(rec ItemRecord) {
	s.Total++
	s.ByStatus[rec.Status]++
	if rec.Status != ItemStatusDiscovered {
		s.ByNode[rec.OwnerNode]++
	}
}
