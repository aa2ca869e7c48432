package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

type fakeUploader struct {
	objects map[string][]byte
	fail    bool
}

func (f *fakeUploader) Put(_ context.Context, key string, data io.Reader, _ string) error {
	if f.fail {
		return errors.New("upload refused")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = buf.Bytes()
	return nil
}

type fakeTradeStore struct {
	domain.TradeStore
	rows    []domain.Trade
	deleted bool
}

func (f *fakeTradeStore) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.rows {
		if t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.Trade
	var n int64
	for _, t := range f.rows {
		if t.ClosedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	f.rows = kept
	f.deleted = true
	return n, nil
}

type fakeAuditStore struct {
	domain.AuditStore
	logged []string
}

func (f *fakeAuditStore) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.logged = append(f.logged, event)
	return nil
}

func testTrade(id string, closedAt time.Time) domain.Trade {
	return domain.Trade{ID: id, PositionID: "p-" + id, UserID: "u1", Symbol: "BTCUSDT", ClosedAt: closedAt}
}

func TestArchiveTradesMovesRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := &fakeTradeStore{rows: []domain.Trade{
		testTrade("old-1", cutoff.Add(-48*time.Hour)),
		testTrade("old-2", cutoff.Add(-24*time.Hour)),
		testTrade("new-1", cutoff.Add(24*time.Hour)),
	}}
	audit := &fakeAuditStore{}
	up := &fakeUploader{}

	a := NewArchiver(up, trades, audit, slog.New(slog.DiscardHandler))
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 2 {
		t.Fatalf("moved = %d, want 2", n)
	}

	obj, ok := up.objects["archive/trades/2026-08.jsonl"]
	if !ok {
		t.Fatalf("objects = %v, want the trades archive key", up.objects)
	}
	lines := strings.Split(strings.TrimSpace(string(obj)), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl lines = %d, want 2", len(lines))
	}
	if len(trades.rows) != 1 || trades.rows[0].ID != "new-1" {
		t.Fatalf("remaining rows = %+v, want only new-1", trades.rows)
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.trades" {
		t.Fatalf("audit events = %v", audit.logged)
	}
}

func TestArchiveTradesUploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trades := &fakeTradeStore{rows: []domain.Trade{testTrade("old-1", cutoff.Add(-time.Hour))}}
	a := NewArchiver(&fakeUploader{fail: true}, trades, &fakeAuditStore{}, slog.New(slog.DiscardHandler))

	if _, err := a.ArchiveTrades(context.Background(), cutoff); err == nil {
		t.Fatal("expected the upload error")
	}
	if trades.deleted {
		t.Fatal("rows must not be deleted when the upload failed")
	}
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	up := &fakeUploader{}
	a := NewArchiver(up, &fakeTradeStore{}, &fakeAuditStore{}, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveTrades: %v", err)
	}
	if n != 0 || len(up.objects) != 0 {
		t.Fatalf("moved = %d, objects = %v, want no work", n, up.objects)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"minio.local:9000", false, "http://minio.local:9000"},
		{"minio.local:9000", true, "https://minio.local:9000"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.in, tt.useSSL); got != tt.want {
			t.Errorf("normalizeEndpoint(%q, %v) = %q, want %q", tt.in, tt.useSSL, got, tt.want)
		}
	}
}
