package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrCursorMismatch is returned when an item is finalised out of discovery order
var ErrCursorMismatch = errors.New("item is not at the progress cursor")

// ProgressState is the per-session checkpoint that makes a crawl resumable.
//
// Invariants:
//   - Cursor <= len(DiscoveredItems)
//   - every key in CompletedItems, FailedItems and SkippedItems sits at an index < Cursor
//   - DiscoveredItems holds no duplicates
type ProgressState struct {
	SessionID         string             `json:"session_id"`
	NodeID            int                `json:"node_id"`
	TotalNodes        int                `json:"total_nodes"`
	Seeds             []string           `json:"seeds"`            // Normalised seed locators in canonical order
	DiscoveredItems   []string           `json:"discovered_items"` // Item keys in discovery order
	Items             map[string]ItemRef `json:"items"`            // Discovery metadata by key
	CompletedItems    map[string]bool    `json:"completed_items"`
	FailedItems       map[string]string  `json:"failed_items"`  // Key -> last error
	SkippedItems      map[string]string  `json:"skipped_items"` // Key -> skip reason
	Cursor            int                `json:"cursor"`
	DiscoveryComplete bool               `json:"discovery_complete"`
	Phase             SessionState       `json:"phase"`
	Epoch             string             `json:"epoch"` // Token stamped on ledger claims made under this state
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewProgressState creates an empty state for a session
func NewProgressState(sessionID string, now time.Time) *ProgressState {
	return &ProgressState{
		SessionID:       sessionID,
		DiscoveredItems: []string{},
		Items:           make(map[string]ItemRef),
		CompletedItems:  make(map[string]bool),
		FailedItems:     make(map[string]string),
		SkippedItems:    make(map[string]string),
		Phase:           SessionStateInit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ensureMaps guards against states decoded from storage with nil maps
func (p *ProgressState) ensureMaps() {
	if p.Items == nil {
		p.Items = make(map[string]ItemRef)
	}
	if p.CompletedItems == nil {
		p.CompletedItems = make(map[string]bool)
	}
	if p.FailedItems == nil {
		p.FailedItems = make(map[string]string)
	}
	if p.SkippedItems == nil {
		p.SkippedItems = make(map[string]string)
	}
}

// Clone returns a deep copy
func (p *ProgressState) Clone() *ProgressState {
	c := *p
	c.Seeds = append([]string(nil), p.Seeds...)
	c.DiscoveredItems = append([]string{}, p.DiscoveredItems...)
	c.Items = make(map[string]ItemRef, len(p.Items))
	for k, v := range p.Items {
		c.Items[k] = v
	}
	c.CompletedItems = make(map[string]bool, len(p.CompletedItems))
	for k, v := range p.CompletedItems {
		c.CompletedItems[k] = v
	}
	c.FailedItems = make(map[string]string, len(p.FailedItems))
	for k, v := range p.FailedItems {
		c.FailedItems[k] = v
	}
	c.SkippedItems = make(map[string]string, len(p.SkippedItems))
	for k, v := range p.SkippedItems {
		c.SkippedItems[k] = v
	}
	return &c
}

// RecordDiscovery appends refs whose keys are not yet known, preserving order.
// Returns the number of keys added.
func (p *ProgressState) RecordDiscovery(refs []ItemRef) int {
	p.ensureMaps()

	added := 0
	for _, ref := range refs {
		if ref.Key == "" {
			continue
		}
		if _, exists := p.Items[ref.Key]; exists {
			continue
		}
		p.Items[ref.Key] = ref
		p.DiscoveredItems = append(p.DiscoveredItems, ref.Key)
		added++
	}
	return added
}

// IsDone reports whether every discovered item has been finalised
func (p *ProgressState) IsDone() bool {
	return p.Cursor == len(p.DiscoveredItems)
}

// Remaining returns the keys from the cursor onwards, in discovery order
func (p *ProgressState) Remaining() []string {
	if p.Cursor >= len(p.DiscoveredItems) {
		return []string{}
	}
	return append([]string{}, p.DiscoveredItems[p.Cursor:]...)
}

// MarkCompleted finalises the item at the cursor as completed
func (p *ProgressState) MarkCompleted(key string) error {
	if err := p.advance(key); err != nil {
		return err
	}
	p.CompletedItems[key] = true
	return nil
}

// MarkFailed finalises the item at the cursor as failed
func (p *ProgressState) MarkFailed(key string, reason string) error {
	if err := p.advance(key); err != nil {
		return err
	}
	p.FailedItems[key] = reason
	return nil
}

// MarkSkipped finalises the item at the cursor without processing it
func (p *ProgressState) MarkSkipped(key string, reason string) error {
	if err := p.advance(key); err != nil {
		return err
	}
	p.SkippedItems[key] = reason
	return nil
}

func (p *ProgressState) advance(key string) error {
	p.ensureMaps()
	if p.Cursor >= len(p.DiscoveredItems) {
		return fmt.Errorf("%w: %s (all items finalised)", ErrCursorMismatch, key)
	}
	if p.DiscoveredItems[p.Cursor] != key {
		return fmt.Errorf("%w: got %s, cursor at %s", ErrCursorMismatch, key, p.DiscoveredItems[p.Cursor])
	}
	p.Cursor++
	return nil
}

// Validate checks the structural invariants of a loaded state
func (p *ProgressState) Validate() error {
	if p.Cursor < 0 || p.Cursor > len(p.DiscoveredItems) {
		return fmt.Errorf("cursor %d out of range [0, %d]", p.Cursor, len(p.DiscoveredItems))
	}

	index := make(map[string]int, len(p.DiscoveredItems))
	for i, key := range p.DiscoveredItems {
		if _, dup := index[key]; dup {
			return fmt.Errorf("duplicate discovered item %s", key)
		}
		index[key] = i
	}

	check := func(set string, key string) error {
		i, ok := index[key]
		if !ok {
			return fmt.Errorf("%s item %s was never discovered", set, key)
		}
		if i >= p.Cursor {
			return fmt.Errorf("%s item %s at index %d is beyond cursor %d", set, key, i, p.Cursor)
		}
		return nil
	}
	for key := range p.CompletedItems {
		if err := check("completed", key); err != nil {
			return err
		}
	}
	for key := range p.FailedItems {
		if err := check("failed", key); err != nil {
			return err
		}
	}
	for key := range p.SkippedItems {
		if err := check("skipped", key); err != nil {
			return err
		}
	}
	return nil
}
