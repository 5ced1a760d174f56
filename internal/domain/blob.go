package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SnapshotUploader stores a point-in-time copy of the portfolio.
type SnapshotUploader interface {
	UploadSnapshot(ctx context.Context, at time.Time, snapshot any) error
}

// Archiver copies closed positions to cold storage.
type Archiver interface {
	ArchiveClosedPositions(ctx context.Context, since, until time.Time) (int64, error)
}
