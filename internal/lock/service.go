// Package lock provides the per-user-symbol mutual exclusion that keeps two
// concurrent open requests from racing each other into a doubled position.
// It is backed by Redis SETNX with a TTL and a Lua-based conditional unlock;
// when no Redis backend is configured it degrades to a no-op that always
// grants the lock.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// DefaultTTL bounds how long a crashed opener can block a symbol.
const DefaultTTL = 30 * time.Second

const keyPrefix = "position:open:"

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Service implements domain.Locker on Redis. A nil client makes every
// operation a no-op grant; callers can inspect LockContext.NoOp to tell.
type Service struct {
	rdb      *redis.Client
	ttl      time.Duration
	unlockSc *redis.Script
	log      *slog.Logger
}

// New creates a Redis-backed lock service. ttl <= 0 falls back to DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		rdb:      rdb,
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
		log:      log.With("component", "lock"),
	}
}

// NewNoOp returns a service with no backend: every Acquire succeeds and is
// marked NoOp, and Release does nothing. Used when Redis is not configured.
func NewNoOp(log *slog.Logger) *Service {
	return New(nil, DefaultTTL, log)
}

// IsNoOp reports whether the service is running without a backend.
func (s *Service) IsNoOp() bool { return s.rdb == nil }

// Key returns the Redis key guarding an open for one user and symbol.
func Key(userID, symbol string) string {
	return keyPrefix + userID + ":" + symbol
}

// Acquire takes the open lock for (userID, symbol). It returns
// domain.ErrLockConflict when another opener already holds it.
func (s *Service) Acquire(ctx context.Context, userID, symbol string) (*domain.LockContext, error) {
	key := Key(userID, symbol)
	lc := &domain.LockContext{
		Key:        key,
		Token:      uuid.New().String(),
		AcquiredAt: time.Now(),
	}

	if s.rdb == nil {
		lc.NoOp = true
		return lc, nil
	}

	ok, err := s.rdb.SetNX(ctx, key, lc.Token, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock: %s: %w", key, domain.ErrLockConflict)
	}
	return lc, nil
}

// Release frees a previously acquired lock and reports whether this call
// actually removed the key. A no-op lock always reports true. Release uses a
// background context so unlock succeeds even if the caller's context is
// already cancelled.
func (s *Service) Release(ctx context.Context, lc *domain.LockContext) bool {
	if lc == nil {
		return false
	}
	if lc.NoOp || s.rdb == nil {
		return true
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	n, err := s.unlockSc.Run(relCtx, s.rdb, []string{lc.Key}, lc.Token).Int64()
	if err != nil {
		s.log.Warn("lock release failed", "key", lc.Key, "error", err)
		return false
	}
	if n == 0 {
		// Expired and possibly re-acquired by someone else; nothing to delete.
		s.log.Warn("lock already gone at release", "key", lc.Key)
		return false
	}
	return true
}

// WithLock runs fn while holding the open lock for (userID, symbol). The lock
// is released on every return path, including panics.
func (s *Service) WithLock(ctx context.Context, userID, symbol string, fn func(ctx context.Context) error) error {
	lc, err := s.Acquire(ctx, userID, symbol)
	if err != nil {
		return err
	}
	defer s.Release(ctx, lc)
	return fn(ctx)
}

// HeldLock describes one currently held open lock, for admin introspection.
type HeldLock struct {
	Key    string        `json:"key"`
	UserID string        `json:"user_id"`
	Symbol string        `json:"symbol"`
	TTL    time.Duration `json:"ttl"`
}

// List scans for all currently held open locks. On a no-op service it
// returns an empty slice.
func (s *Service) List(ctx context.Context) ([]HeldLock, error) {
	if s.rdb == nil {
		return nil, nil
	}

	var locks []HeldLock
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := s.rdb.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: ttl %s: %w", key, err)
		}
		userID, symbol := splitKey(key)
		locks = append(locks, HeldLock{Key: key, UserID: userID, Symbol: symbol, TTL: ttl})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("lock: scan: %w", err)
	}
	return locks, nil
}

// Clear force-deletes the open lock for (userID, symbol) regardless of
// holder, and reports whether a key was removed. Admin use only: it bypasses
// the token check.
func (s *Service) Clear(ctx context.Context, userID, symbol string) (bool, error) {
	if s.rdb == nil {
		return false, nil
	}
	n, err := s.rdb.Del(ctx, Key(userID, symbol)).Result()
	if err != nil {
		return false, fmt.Errorf("lock: clear: %w", err)
	}
	return n > 0, nil
}

// splitKey recovers (userID, symbol) from a lock key. The symbol is the
// segment after the last colon; user IDs may themselves contain colons.
func splitKey(key string) (userID, symbol string) {
	rest := key[len(keyPrefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

var _ domain.Locker = (*Service)(nil)
