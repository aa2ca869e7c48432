package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_id, symbol, long_venue, short_venue,
	long_size, short_size,
	long_entry_price, short_entry_price, long_open_fee, short_open_fee,
	long_exit_price, short_exit_price, long_close_fee, short_close_fee,
	long_leverage, short_leverage,
	status, opened_at, closed_at, close_reason,
	failure_reason, partial_closed_side, partial_failed_side,
	manual_intervention, conditionals`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status, partialClosed, partialFailed string
	var conditionals []byte

	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &p.LongVenue, &p.ShortVenue,
		&p.LongSize, &p.ShortSize,
		&p.LongEntryPrice, &p.ShortEntryPrice, &p.LongOpenFee, &p.ShortOpenFee,
		&p.LongExitPrice, &p.ShortExitPrice, &p.LongCloseFee, &p.ShortCloseFee,
		&p.LongLeverage, &p.ShortLeverage,
		&status, &p.OpenedAt, &p.ClosedAt, &p.CloseReason,
		&p.FailureReason, &partialClosed, &partialFailed,
		&p.ManualIntervention, &conditionals,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.PartialClosedSide = domain.Side(partialClosed)
	p.PartialFailedSide = domain.Side(partialFailed)
	if len(conditionals) > 0 {
		if err := json.Unmarshal(conditionals, &p.Conditionals); err != nil {
			return domain.Position{}, fmt.Errorf("decode conditionals: %w", err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func encodeConditionals(refs []domain.ConditionalOrderRef) ([]byte, error) {
	if refs == nil {
		refs = []domain.ConditionalOrderRef{}
	}
	return json.Marshal(refs)
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	conditionals, err := encodeConditionals(p.Conditionals)
	if err != nil {
		return fmt.Errorf("postgres: encode conditionals for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, user_id, symbol, long_venue, short_venue,
			long_size, short_size,
			long_entry_price, short_entry_price, long_open_fee, short_open_fee,
			long_exit_price, short_exit_price, long_close_fee, short_close_fee,
			long_leverage, short_leverage,
			status, opened_at, closed_at, close_reason,
			failure_reason, partial_closed_side, partial_failed_side,
			manual_intervention, conditionals, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17,
			$18, $19, $20, $21,
			$22, $23, $24,
			$25, $26, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Symbol, p.LongVenue, p.ShortVenue,
		p.LongSize, p.ShortSize,
		p.LongEntryPrice, p.ShortEntryPrice, p.LongOpenFee, p.ShortOpenFee,
		p.LongExitPrice, p.ShortExitPrice, p.LongCloseFee, p.ShortCloseFee,
		p.LongLeverage, p.ShortLeverage,
		string(p.Status), p.OpenedAt, p.ClosedAt, p.CloseReason,
		p.FailureReason, string(p.PartialClosedSide), string(p.PartialFailedSide),
		p.ManualIntervention, conditionals,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	conditionals, err := encodeConditionals(p.Conditionals)
	if err != nil {
		return fmt.Errorf("postgres: encode conditionals for %s: %w", p.ID, err)
	}

	const query = `
		UPDATE positions SET
			long_size           = $2,
			short_size          = $3,
			long_entry_price    = $4,
			short_entry_price   = $5,
			long_open_fee       = $6,
			short_open_fee      = $7,
			long_exit_price     = $8,
			short_exit_price    = $9,
			long_close_fee      = $10,
			short_close_fee     = $11,
			long_leverage       = $12,
			short_leverage      = $13,
			status              = $14,
			closed_at           = $15,
			close_reason        = $16,
			failure_reason      = $17,
			partial_closed_side = $18,
			partial_failed_side = $19,
			manual_intervention = $20,
			conditionals        = $21,
			updated_at          = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.LongSize, p.ShortSize,
		p.LongEntryPrice, p.ShortEntryPrice, p.LongOpenFee, p.ShortOpenFee,
		p.LongExitPrice, p.ShortExitPrice, p.LongCloseFee, p.ShortCloseFee,
		p.LongLeverage, p.ShortLeverage,
		string(p.Status), p.ClosedAt, p.CloseReason,
		p.FailureReason, string(p.PartialClosedSide), string(p.PartialFailedSide),
		p.ManualIntervention, conditionals,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus performs an atomic status transition: the row must currently
// be in the `from` status or the update affects nothing and ErrNotFound is
// returned. This is the guard that keeps two closers from racing.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, from, to domain.PositionStatus) error {
	const query = `
		UPDATE positions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: transition position %s %s->%s: %w", id, from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatusBatch transitions every listed row currently in `from` to `to`
// and returns how many actually moved.
func (s *PositionStore) UpdateStatusBatch(ctx context.Context, ids []string, from, to domain.PositionStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
		UPDATE positions SET status = $3, updated_at = NOW()
		WHERE id = ANY($1) AND status = $2`

	tag, err := s.pool.Exec(ctx, query, ids, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("postgres: batch transition %s->%s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions for the given user.
func (s *PositionStore) ListOpen(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE user_id = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListByStatus returns positions in a given status with pagination and
// optional time filtering on opened_at.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list positions by status: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by status: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
