package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// ArchiveImpl implements domain.Archiver. It reads closed positions from the
// store, serialises them to JSONL and uploads the file. Archived rows stay in
// the primary store.
type ArchiveImpl struct {
	writer domain.BlobWriter
	closed domain.ClosedPositionLister
	audit  domain.AuditStore // optional
	newID  func() string

	// multipartAbove switches to a multipart upload for larger payloads.
	multipartAbove int
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, closed domain.ClosedPositionLister, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:         writer,
		closed:         closed,
		audit:          audit,
		newID:          func() string { return uuid.New().String() },
		multipartAbove: int(minPartSize),
	}
}

// closedRecord is one JSONL line.
type closedRecord struct {
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	City        string    `json:"city"`
	Slug        string    `json:"slug"`
	EntryTime   time.Time `json:"entry_time"`
	EntryYes    float64   `json:"entry_yes"`
	ExitYes     float64   `json:"exit_yes"`
	Allocated   float64   `json:"allocated"`
	Tokens      float64   `json:"tokens"`
	Status      string    `json:"status"`
	PnL         float64   `json:"pnl"`
	CloseTime   time.Time `json:"close_time"`
	Resolution  string    `json:"resolution,omitempty"`
}

// ArchiveClosedPositions uploads positions closed in (since, until] to
// archive/closed_positions/YYYY/MM/DD/<uuid>.jsonl, dated by until. It
// returns the number of records written; an empty window uploads nothing.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, since, until time.Time) (int64, error) {
	positions, err := a.closed.ListClosedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions query: %w", err)
	}

	records := make([]closedRecord, 0, len(positions))
	for _, p := range positions {
		if p.CloseTime == nil || p.CloseTime.After(until) {
			continue
		}
		records = append(records, closedRecord{
			ConditionID: p.ConditionID,
			Question:    p.Question,
			City:        p.City,
			Slug:        p.Slug,
			EntryTime:   p.EntryTime.UTC(),
			EntryYes:    p.EntryYes,
			ExitYes:     p.CurrentYes,
			Allocated:   p.Allocated,
			Tokens:      p.Tokens,
			Status:      string(p.Status),
			PnL:         p.PnL,
			CloseTime:   p.CloseTime.UTC(),
			Resolution:  p.Resolution,
		})
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath("closed_positions", until, a.newID())
	if len(buf) > a.multipartAbove {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.closed_positions", map[string]any{
			"path":  path,
			"count": count,
			"since": since.UTC().Format(time.RFC3339),
			"until": until.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive closed positions audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by day.
//
//	archive/closed_positions/2026/03/02/<id>.jsonl
func archivePath(kind string, at time.Time, id string) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, at.UTC().Format("2006/01/02"), id)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
