package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

type memObject struct {
	data        []byte
	contentType string
	multipart   bool
}

type memWriter struct {
	mu      sync.Mutex
	objects map[string]memObject
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: make(map[string]memObject)}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return w.store(path, data, contentType, false)
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return w.store(path, data, contentTypeJSONL, true)
}

func (w *memWriter) store(path string, data io.Reader, contentType string, multipart bool) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[path] = memObject{data: b, contentType: contentType, multipart: multipart}
	return nil
}

type fakeLister struct {
	positions []domain.Position
	since     time.Time
}

func (f *fakeLister) ListClosedSince(_ context.Context, since time.Time) ([]domain.Position, error) {
	f.since = since
	var out []domain.Position
	for _, p := range f.positions {
		if p.CloseTime != nil && p.CloseTime.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeAudit struct {
	events []string
	detail []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.detail = append(f.detail, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func closedAt(id string, at time.Time, status domain.PositionStatus, pnl float64) domain.Position {
	return domain.Position{
		ConditionID: id,
		City:        "nyc",
		EntryTime:   at.Add(-3 * time.Hour),
		EntryYes:    0.08,
		CurrentYes:  0.995,
		Allocated:   1.5,
		Tokens:      18.75,
		Status:      status,
		PnL:         pnl,
		CloseTime:   &at,
	}
}

func TestSnapshotPath(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 4, 5, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "snapshots/2026/03/02/120405.json", snapshotPath(at))
}

func TestUploadSnapshot(t *testing.T) {
	w := newMemWriter()
	u := NewSnapshotUploader(w)
	at := time.Date(2026, 3, 2, 12, 4, 5, 0, time.UTC)

	require.NoError(t, u.UploadSnapshot(context.Background(), at, map[string]any{"total_capital": 101.5}))

	obj, ok := w.objects["snapshots/2026/03/02/120405.json"]
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.contentType)
	assert.JSONEq(t, `{"total_capital":101.5}`, string(obj.data))

	w.err = errors.New("bucket gone")
	err := u.UploadSnapshot(context.Background(), at, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3blob: upload snapshot")
}

func TestArchiveClosedPositions(t *testing.T) {
	w := newMemWriter()
	since := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	until := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	lister := &fakeLister{positions: []domain.Position{
		closedAt("before", since.Add(-time.Minute), domain.PositionStatusLost, -1.5),
		closedAt("won", since.Add(time.Hour), domain.PositionStatusWon, 17.15),
		closedAt("tp", until, domain.PositionStatusTakeProfit, 1.31),
		closedAt("after", until.Add(time.Minute), domain.PositionStatusLost, -1.5),
	}}
	audit := &fakeAudit{}

	a := NewArchiver(w, lister, audit)
	a.newID = func() string { return "fixed" }

	n, err := a.ArchiveClosedPositions(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.True(t, since.Equal(lister.since))

	obj, ok := w.objects["archive/closed_positions/2026/03/02/fixed.jsonl"]
	require.True(t, ok)
	assert.False(t, obj.multipart)
	assert.Equal(t, contentTypeJSONL, obj.contentType)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(obj.data))
	for sc.Scan() {
		var rec closedRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ConditionID)
	}
	assert.Equal(t, []string{"won", "tp"}, ids)

	require.Equal(t, []string{"archive.closed_positions"}, audit.events)
	assert.Equal(t, int64(2), audit.detail[0]["count"])
}

func TestArchiveEmptyWindowUploadsNothing(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, &fakeLister{}, nil)

	n, err := a.ArchiveClosedPositions(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveUsesMultipartForLargePayloads(t *testing.T) {
	w := newMemWriter()
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	a := NewArchiver(w, &fakeLister{positions: []domain.Position{
		closedAt("x", at, domain.PositionStatusWon, 1),
	}}, nil)
	a.newID = func() string { return "big" }
	a.multipartAbove = 10

	_, err := a.ArchiveClosedPositions(context.Background(), at.Add(-time.Hour), at)
	require.NoError(t, err)
	assert.True(t, w.objects["archive/closed_positions/2026/03/02/big.jsonl"].multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
}
