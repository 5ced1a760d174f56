package portfolio

import (
	"context"
	"log/slog"
	"time"
)

const (
	journalBuffer = 1024
	drainTimeout  = 5 * time.Second
	writeTimeout  = 10 * time.Second
)

type journalOp struct {
	name string
	fn   func(ctx context.Context) error
}

// journal applies persistence writes in order on a single goroutine so the
// portfolio lock is never held across store I/O.
type journal struct {
	logger *slog.Logger
	ops    chan journalOp
}

func newJournal(logger *slog.Logger, size int) *journal {
	return &journal{logger: logger, ops: make(chan journalOp, size)}
}

// enqueue never blocks. A full queue drops the write.
func (j *journal) enqueue(name string, fn func(ctx context.Context) error) {
	select {
	case j.ops <- journalOp{name: name, fn: fn}:
	default:
		j.logger.Warn("persistence queue full, dropping write", slog.String("op", name))
	}
}

func (j *journal) run(ctx context.Context) {
	// Writes already dequeued finish even when ctx is cancelled mid-call.
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case op := <-j.ops:
			j.apply(writeCtx, op)
		}
	}
}

func (j *journal) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case op := <-j.ops:
			j.apply(ctx, op)
		default:
			return
		}
		if ctx.Err() != nil {
			j.logger.Warn("persistence drain timed out", slog.Int("pending", len(j.ops)))
			return
		}
	}
}

func (j *journal) apply(ctx context.Context, op journalOp) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := op.fn(ctx); err != nil {
		j.logger.ErrorContext(ctx, "persistence write failed",
			slog.String("op", op.name),
			slog.String("error", err.Error()),
		)
	}
}
