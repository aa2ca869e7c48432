package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// memPositions is an in-memory domain.PositionStore.
type memPositions struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[string]domain.Position)}
}

func (m *memPositions) Create(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID] = p
	return nil
}

func (m *memPositions) Update(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rows[p.ID] = p
	return nil
}

func (m *memPositions) UpdateStatus(_ context.Context, id string, from, to domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.Status != from {
		return domain.ErrNotFound
	}
	p.Status = to
	m.rows[id] = p
	return nil
}

func (m *memPositions) UpdateStatusBatch(_ context.Context, ids []string, from, to domain.PositionStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if p, ok := m.rows[id]; ok && p.Status == from {
			p.Status = to
			m.rows[id] = p
			n++
		}
	}
	return n, nil
}

func (m *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) ListOpen(_ context.Context, userID string) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.rows {
		if p.UserID == userID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPositions) ListByStatus(_ context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.rows {
		if p.Status != status {
			continue
		}
		if opts.Until != nil && p.OpenedAt.After(*opts.Until) {
			continue
		}
		if opts.Since != nil && p.OpenedAt.Before(*opts.Since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// memTrades is an in-memory domain.TradeStore.
type memTrades struct {
	mu   sync.Mutex
	rows []domain.Trade
}

func (m *memTrades) Create(_ context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, t)
	return nil
}

func (m *memTrades) GetByPositionID(_ context.Context, positionID string) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.PositionID == positionID {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (m *memTrades) ListByUser(_ context.Context, userID string, _ domain.ListOpts) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.rows {
		if t.ClosedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrades) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.Trade
	var n int64
	for _, t := range m.rows {
		if t.ClosedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	m.rows = kept
	return n, nil
}

func (m *memTrades) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memAudit is an in-memory domain.AuditStore.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.AuditEntry
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *memAudit) events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

// fakeLocker records acquisitions and can be switched into conflict mode.
type fakeLocker struct {
	mu       sync.Mutex
	conflict bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(_ context.Context, userID, symbol string) (*domain.LockContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflict {
		return nil, domain.ErrLockConflict
	}
	f.acquired++
	return &domain.LockContext{Key: "position:open:" + userID + ":" + symbol, Token: "t", AcquiredAt: time.Now()}, nil
}

func (f *fakeLocker) Release(_ context.Context, _ *domain.LockContext) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return true
}

// recEmitter records emitted events.
type recEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recEmitter) Emit(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recEmitter) has(typ string) bool {
	for _, t := range r.types() {
		if t == typ {
			return true
		}
	}
	return false
}

// marketCall records one CreateMarketOrder invocation on a fake venue.
type marketCall struct {
	symbol string
	side   domain.Side
	qty    decimal.Decimal
	params venue.OrderParams
}

// fakeVenue is a scriptable venue adapter. Each behavior func may be nil, in
// which case a benign default applies.
type fakeVenue struct {
	name venue.Name

	mu          sync.Mutex
	marketCalls []marketCall
	cancelled   []string

	createMarketOrder func(call marketCall, attempt int) (venue.Order, error)
	fetchOrder        func(symbol, orderID string) (venue.Order, error)
	fetchOrderFills   func(symbol, orderID string) ([]venue.Fill, error)
	placeConditional  func(kind domain.ConditionalKind) (venue.Order, error)
	cancelConditional func(orderID string) error
	fetchFundingFees  func(symbol string, start, end time.Time) ([]domain.FundingFeeEntry, error)
}

func newFakeVenue(name venue.Name) *fakeVenue {
	return &fakeVenue{name: name}
}

func (f *fakeVenue) Name() venue.Name { return f.name }

func (f *fakeVenue) CreateMarketOrder(_ context.Context, symbol string, side domain.Side, qty decimal.Decimal, params venue.OrderParams) (venue.Order, error) {
	call := marketCall{symbol: symbol, side: side, qty: qty, params: params}
	f.mu.Lock()
	f.marketCalls = append(f.marketCalls, call)
	attempt := len(f.marketCalls)
	f.mu.Unlock()

	if f.createMarketOrder != nil {
		return f.createMarketOrder(call, attempt)
	}
	return venue.Order{ID: "ord-1", Symbol: symbol, AvgPrice: dec("100"), Filled: qty, Fee: dec("0.1")}, nil
}

func (f *fakeVenue) FetchOrder(_ context.Context, symbol, orderID string) (venue.Order, error) {
	if f.fetchOrder != nil {
		return f.fetchOrder(symbol, orderID)
	}
	return venue.Order{ID: orderID, Symbol: symbol}, nil
}

func (f *fakeVenue) FetchOrderFills(_ context.Context, symbol, orderID string) ([]venue.Fill, error) {
	if f.fetchOrderFills != nil {
		return f.fetchOrderFills(symbol, orderID)
	}
	return nil, nil
}

func (f *fakeVenue) PlaceConditional(_ context.Context, symbol string, _ domain.Side, _, _ decimal.Decimal, kind domain.ConditionalKind, _ venue.OrderParams) (venue.Order, error) {
	if f.placeConditional != nil {
		return f.placeConditional(kind)
	}
	return venue.Order{ID: "cond-" + string(kind), Symbol: symbol}, nil
}

func (f *fakeVenue) CancelConditional(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	f.mu.Unlock()
	if f.cancelConditional != nil {
		return f.cancelConditional(orderID)
	}
	return nil
}

func (f *fakeVenue) FetchFundingFees(_ context.Context, symbol string, start, end time.Time) ([]domain.FundingFeeEntry, error) {
	if f.fetchFundingFees != nil {
		return f.fetchFundingFees(symbol, start, end)
	}
	return nil, nil
}

func (f *fakeVenue) calls() []marketCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]marketCall(nil), f.marketCalls...)
}

var _ venue.Venue = (*fakeVenue)(nil)

// harness wires an Engine to all-fake collaborators.
type harness struct {
	engine    *Engine
	positions *memPositions
	trades    *memTrades
	audit     *memAudit
	locker    *fakeLocker
	emitter   *recEmitter
	binance   *fakeVenue
	okx       *fakeVenue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		positions: newMemPositions(),
		trades:    &memTrades{},
		audit:     &memAudit{},
		locker:    &fakeLocker{},
		emitter:   &recEmitter{},
		binance:   newFakeVenue(venue.Binance),
		okx:       newFakeVenue(venue.OKX),
	}
	h.engine = New(Config{
		Positions: h.positions,
		Trades:    h.trades,
		Audit:     h.audit,
		Venues:    venue.NewRegistry(h.binance, h.okx),
		Locker:    h.locker,
		Emitter:   h.emitter,
		Logger:    slog.New(slog.DiscardHandler),
	})
	return h
}

// seedOpen inserts an open hedge: long binance, short okx.
func (h *harness) seedOpen(t *testing.T) domain.Position {
	t.Helper()
	p := domain.Position{
		ID:              "pos-1",
		UserID:          "u1",
		Symbol:          "BTCUSDT",
		LongVenue:       string(venue.Binance),
		ShortVenue:      string(venue.OKX),
		LongSize:        dec("0.001"),
		ShortSize:       dec("0.001"),
		LongEntryPrice:  dec("95000"),
		ShortEntryPrice: dec("95010"),
		LongOpenFee:     dec("0.05"),
		ShortOpenFee:    dec("0.05"),
		LongLeverage:    5,
		ShortLeverage:   5,
		Status:          domain.PositionStatusOpen,
		OpenedAt:        time.Now().Add(-8 * time.Hour).UTC(),
		Conditionals: []domain.ConditionalOrderRef{
			{Venue: string(venue.Binance), Side: domain.SideLong, Kind: domain.ConditionalStopLoss, OrderID: "sl-1"},
			{Venue: string(venue.OKX), Side: domain.SideShort, Kind: domain.ConditionalStopLoss, OrderID: "sl-2"},
		},
	}
	if err := h.positions.Create(context.Background(), p); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	return p
}
