package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// SnapshotUploader implements domain.SnapshotUploader by writing the
// snapshot as JSON under snapshots/YYYY/MM/DD/HHMMSS.json.
type SnapshotUploader struct {
	writer domain.BlobWriter
}

// NewSnapshotUploader creates a SnapshotUploader on writer.
func NewSnapshotUploader(writer domain.BlobWriter) *SnapshotUploader {
	return &SnapshotUploader{writer: writer}
}

// UploadSnapshot serialises snapshot and uploads it.
func (u *SnapshotUploader) UploadSnapshot(ctx context.Context, at time.Time, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}
	path := snapshotPath(at)
	if err := u.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload snapshot: %w", err)
	}
	return nil
}

func snapshotPath(at time.Time) string {
	return "snapshots/" + at.UTC().Format("2006/01/02/150405") + ".json"
}

var _ domain.SnapshotUploader = (*SnapshotUploader)(nil)
