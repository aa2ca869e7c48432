package domain

import (
	"context"
	"time"
)

// LockContext proves exclusive ownership of a (userID, symbol) lock for the
// duration of one operation. It is ephemeral: never persisted, discarded after
// release. The token is random so only the acquirer can release the key.
type LockContext struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	// NoOp marks a context handed out by the degraded always-succeeding lock
	// used when no backend is configured.
	NoOp bool
}

// Locker serializes position lifecycle mutation per (userID, symbol).
//
// Acquire fails fast with ErrLockConflict when the lock is held; it never
// queues. Release returns whether the backend actually removed the key; it is
// safe to call with an expired or foreign context (it just returns false).
type Locker interface {
	Acquire(ctx context.Context, userID, symbol string) (*LockContext, error)
	Release(ctx context.Context, lc *LockContext) bool
}
