package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PortfolioStore persists portfolio state. LoadState returns ErrNotFound when
// nothing has been saved yet.
type PortfolioStore interface {
	UpsertOpenPosition(ctx context.Context, pos Position) error
	DeleteOpenPosition(ctx context.Context, conditionID string) error
	InsertClosedPosition(ctx context.Context, pos Position) error
	SaveState(ctx context.Context, state PortfolioState) error
	LoadState(ctx context.Context) (PortfolioState, error)
	AppendCapitalPoint(ctx context.Context, point CapitalPoint) error
	LoadOpenPositions(ctx context.Context) ([]Position, error)
	LoadClosedPositions(ctx context.Context) ([]Position, error)
	LoadCapitalHistory(ctx context.Context, limit int) ([]CapitalPoint, error)
}

// ClosedPositionLister returns positions closed strictly after since.
type ClosedPositionLister interface {
	ListClosedSince(ctx context.Context, since time.Time) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
