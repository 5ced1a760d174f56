package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type window struct{ since, until time.Time }

type fakeBlobArchiver struct {
	calls []window
	err   error
}

func (f *fakeBlobArchiver) ArchiveClosedPositions(_ context.Context, since, until time.Time) (int64, error) {
	f.calls = append(f.calls, window{since, until})
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func newTestArchiver(blob *fakeBlobArchiver) (*Archiver, *time.Time) {
	a := NewArchiver(blob, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	return a, &clock
}

func TestRunAdvancesWatermark(t *testing.T) {
	blob := &fakeBlobArchiver{}
	a, clock := newTestArchiver(blob)

	require.NoError(t, a.Run(context.Background()))
	*clock = clock.Add(24 * time.Hour)
	require.NoError(t, a.Run(context.Background()))

	require.Len(t, blob.calls, 2)
	assert.True(t, blob.calls[0].since.IsZero())
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), blob.calls[1].since)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), blob.calls[1].until)
}

func TestRunFailureKeepsWatermark(t *testing.T) {
	blob := &fakeBlobArchiver{err: errors.New("s3 down")}
	a, clock := newTestArchiver(blob)

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: archive closed positions")

	blob.err = nil
	*clock = clock.Add(time.Hour)
	require.NoError(t, a.Run(context.Background()))
	assert.True(t, blob.calls[1].since.IsZero())
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	a, _ := newTestArchiver(&fakeBlobArchiver{})
	err := a.RunCron(context.Background(), "not a cron")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron expression")
}

func TestRunCronStopsOnCancel(t *testing.T) {
	a, _ := newTestArchiver(&fakeBlobArchiver{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.RunCron(ctx, "0 3 * * *") }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not return after cancel")
	}
}
