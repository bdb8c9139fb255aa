package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a bad or empty seed set before any I/O happens
	ErrInvalidInput = errors.New("invalid input")

	// ErrLedgerUnavailable marks ledger storage failures; fatal to a session
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrProgressStorage marks progress storage failures; fatal to a session
	ErrProgressStorage = errors.New("progress storage error")

	// ErrFatalExtraction marks extraction failures that must abort the session
	ErrFatalExtraction = errors.New("fatal extraction error")

	// ErrFetcherUnavailable means no page can be fetched at all (browser will not start,
	// fetcher closed); fatal to a session
	ErrFetcherUnavailable = errors.New("fetcher unavailable")

	// ErrItemNotFound is returned by LedgerStorage.Get for unknown keys
	ErrItemNotFound = errors.New("item not found")

	// ErrProgressNotFound is returned by ProgressStorage.Load for unknown sessions
	ErrProgressNotFound = errors.New("progress not found")
)

// DiscoveryError reports that discovery failed for one seed locator. It is recovered by the
// coordinator: the locator contributes no items and the session continues.
type DiscoveryError struct {
	Locator string
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for %s: %v", e.Locator, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that extraction failed for one item. Non-fatal errors are retried
// up to the configured limit; fatal ones abort the session.
type ExtractionError struct {
	Key      string
	Attempts int
	Fatal    bool
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("fatal extraction error for %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("extraction failed for %s after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFatalExtraction) match fatal extraction errors
func (e *ExtractionError) Is(target error) bool {
	return e.Fatal && target == ErrFatalExtraction
}

// NewFatalExtractionError wraps err so the coordinator aborts the session
func NewFatalExtractionError(key string, err error) error {
	return &ExtractionError{Key: key, Fatal: true, Err: err}
}

// IsFatal reports whether err must abort the session
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalExtraction) ||
		errors.Is(err, ErrFetcherUnavailable) ||
		errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, ErrProgressStorage)
}
