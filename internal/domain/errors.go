package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested position does not exist.
	ErrNotFound = errors.New("position not found")
	// ErrForbidden means the position exists but belongs to another user.
	ErrForbidden = errors.New("position does not belong to caller")
	// ErrLockConflict means another open/close operation holds the
	// per-(user, symbol) lock. Callers may retry; the engine never does.
	ErrLockConflict = errors.New("another operation is in progress for this symbol")
)

// Retryable reports whether the caller can safely retry the operation that
// produced err. Only lock conflicts qualify: everything else either already
// moved money or needs a human.
func Retryable(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// InvalidStatusError is returned when a lifecycle operation is requested on a
// position whose status does not permit it.
type InvalidStatusError struct {
	Op     string
	Status PositionStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("cannot %s position in status %q", e.Op, e.Status)
}

// BothLegsFailedError means neither leg of a close went through. The position
// is restored to its pre-close status, so the caller can retry cleanly.
type BothLegsFailedError struct {
	LongReason  string
	ShortReason string
}

func (e *BothLegsFailedError) Error() string {
	return fmt.Sprintf("both legs failed to close (long: %s; short: %s)", e.LongReason, e.ShortReason)
}

// RollbackFailedError means one leg filled during open, the other failed, and
// the unwind of the filled leg also failed. The hedge is lopsided on a live
// venue and requires manual intervention; this error is never swallowed.
type RollbackFailedError struct {
	Venue  string
	Side   Side
	Reason string
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of %s leg on %s failed, manual intervention required: %s", e.Side, e.Venue, e.Reason)
}
