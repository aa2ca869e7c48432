package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Trade rows are
// append-only: there is no update path.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, user_id, symbol,
	long_venue, short_venue,
	long_entry_price, long_exit_price, short_entry_price, short_exit_price,
	long_size, short_size,
	price_diff_pnl, funding_rate_pnl, total_fees, total_pnl, roi, funding_settled,
	holding_duration_ms, opened_at, closed_at, close_reason`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var holdingMs int64

	err := row.Scan(
		&t.ID, &t.PositionID, &t.UserID, &t.Symbol,
		&t.LongVenue, &t.ShortVenue,
		&t.LongEntryPrice, &t.LongExitPrice, &t.ShortEntryPrice, &t.ShortExitPrice,
		&t.LongSize, &t.ShortSize,
		&t.PriceDiffPnL, &t.FundingRatePnL, &t.TotalFees, &t.TotalPnL, &t.ROI, &t.FundingSettled,
		&holdingMs, &t.OpenedAt, &t.ClosedAt, &t.CloseReason,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.HoldingDuration = time.Duration(holdingMs) * time.Millisecond
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade record.
func (s *TradeStore) Create(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, position_id, user_id, symbol,
			long_venue, short_venue,
			long_entry_price, long_exit_price, short_entry_price, short_exit_price,
			long_size, short_size,
			price_diff_pnl, funding_rate_pnl, total_fees, total_pnl, roi, funding_settled,
			holding_duration_ms, opened_at, closed_at, close_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22
		)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.UserID, t.Symbol,
		t.LongVenue, t.ShortVenue,
		t.LongEntryPrice, t.LongExitPrice, t.ShortEntryPrice, t.ShortExitPrice,
		t.LongSize, t.ShortSize,
		t.PriceDiffPnL, t.FundingRatePnL, t.TotalFees, t.TotalPnL, t.ROI, t.FundingSettled,
		t.HoldingDuration.Milliseconds(), t.OpenedAt, t.ClosedAt, t.CloseReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByPositionID returns the trade recorded for a position.
func (s *TradeStore) GetByPositionID(ctx context.Context, positionID string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE position_id = $1`, positionID)

	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade for position %s: %w", positionID, err)
	}
	return t, nil
}

// ListByUser returns a user's trades, newest first, with pagination and
// optional time filtering on closed_at.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND closed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades closed strictly before the cutoff, oldest first,
// for archival batches.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE closed_at < $1 ORDER BY closed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before, err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before %s: %w", before, err)
	}
	return trades, nil
}

// DeleteBefore removes trades closed strictly before the cutoff. Callers
// archive first, then delete.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
