package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkFailure marks transport-level failures talking to the remote store.
	ErrNetworkFailure = errors.New("network failure")
	// ErrRemoteRejected marks a non-success answer from the remote store,
	// including authorization denials.
	ErrRemoteRejected = errors.New("remote rejected")
	// ErrNotFound is returned by Get-style calls for ids absent from the item store.
	// Mutating calls on absent ids are no-ops and return nil.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidField is returned when an intent carries a field or value the item cannot take.
	ErrInvalidField = errors.New("invalid field")
	// ErrDuplicateID is returned when a draft reuses an id already present or previously used.
	ErrDuplicateID = errors.New("duplicate item id")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("engine closed")
)

// Op names a remote-store operation.
type Op string

const (
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// SyncError describes a failed remote call. It is delivered through error events.
type SyncError struct {
	Op     Op
	ItemID string
	Err    error
}

func (e *SyncError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// classify makes sure every remote failure matches one of the two failure sentinels.
func classify(err error) error {
	if errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrRemoteRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}
