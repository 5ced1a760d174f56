package domain

import (
	"context"
	"time"
)

// QuoteCache keeps the latest quote observed for each market.
type QuoteCache interface {
	SetQuote(ctx context.Context, conditionID, source string, q Quote, ts time.Time) error
	GetQuote(ctx context.Context, conditionID string) (Quote, time.Time, error)
}

// Lock is a held distributed lock.
type Lock interface {
	// Refresh extends the lock TTL. It returns ErrLockHeld when the lock has
	// been lost to another holder.
	Refresh(ctx context.Context) error
	// Release frees the lock. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}
