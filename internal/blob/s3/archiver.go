package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// Uploader is the single operation the archiver needs from the blob layer.
// *Client satisfies it; tests substitute a buffer-backed fake.
type Uploader interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// Archiver moves aged trade and audit rows out of the primary store into
// JSONL objects, partitioned by the cutoff's year-month:
//
//	archive/trades/2026-08.jsonl
//	archive/audit/2026-08.jsonl
//
// Rows are deleted only after the upload succeeded, so a failed run leaves
// the primary store intact and is safe to repeat.
type Archiver struct {
	uploader Uploader
	trades   domain.TradeStore
	audit    domain.AuditStore
	logger   *slog.Logger

	// batchLimit caps how many rows one run uploads.
	batchLimit int
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(uploader Uploader, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		uploader:   uploader,
		trades:     trades,
		audit:      audit,
		logger:     logger.With(slog.String("component", "archiver")),
		batchLimit: 10000,
	}
}

// ArchiveTrades uploads all trades closed before the cutoff and deletes them
// from the primary store. Returns the number of rows moved.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.trades.ListBefore(ctx, before, a.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	key := archiveKey("trades", before)
	if err := a.upload(ctx, key, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete after upload: %w", err)
	}

	a.logger.Info("trades archived",
		slog.String("key", key),
		slog.Int64("rows", deleted),
	)
	a.logArchive(ctx, "archive.trades", key, deleted, before)
	return deleted, nil
}

// ArchiveAudit uploads audit entries created before the cutoff and deletes
// them from the primary store. The run itself is audit-logged afterwards, so
// the new log always starts with a pointer to where the old one went.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.audit.ListBefore(ctx, before, a.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}
	key := archiveKey("audit", before)
	if err := a.upload(ctx, key, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete after upload: %w", err)
	}

	a.logger.Info("audit log archived",
		slog.String("key", key),
		slog.Int64("rows", deleted),
	)
	a.logArchive(ctx, "archive.audit", key, deleted, before)
	return deleted, nil
}

func (a *Archiver) upload(ctx context.Context, key string, buf []byte) error {
	return a.uploader.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson")
}

func (a *Archiver) logArchive(ctx context.Context, event, key string, count int64, before time.Time) {
	if err := a.audit.Log(ctx, event, map[string]any{
		"key":    key,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.Warn("archive audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archiveKey partitions archive objects by the cutoff's year-month.
func archiveKey(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL writes records as newline-delimited compact JSON, one line
// per element.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
