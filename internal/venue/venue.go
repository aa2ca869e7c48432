// Package venue defines the uniform interface the engine drives each
// derivatives exchange through, plus the pure symbol/side/quantity
// normalization functions shared by all adapters. One adapter implementation
// exists per supported venue; there is no dynamic per-venue parameter shaping
// beyond the closed OrderParams set.
package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// Name identifies a supported venue.
type Name string

const (
	Binance Name = "binance"
	OKX     Name = "okx"
)

// ErrPositionModeMismatch is the classified form of a venue rejecting an
// order because the position-mode parameter (hedge vs one-way) did not match
// the account configuration. The closer retries exactly once with the
// opposite parameter when it sees this.
var ErrPositionModeMismatch = errors.New("position mode parameter mismatch")

// ErrOrderNotFound means the venue has no record of the queried order id.
var ErrOrderNotFound = errors.New("venue: order not found")

// Order is the normalized result of placing or querying an order. Prices and
// amounts are converted to decimals at the adapter boundary; raw venue
// numerics never cross into the engine.
type Order struct {
	ID       string
	Symbol   string // internal BASEQUOTE form
	AvgPrice decimal.Decimal
	Filled   decimal.Decimal // coin-denominated
	Fee      decimal.Decimal // quote currency, positive = cost
}

// Fill is one execution from the venue's trade history, used as the last tier
// of the fill-price fallback chain.
type Fill struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// OrderParams carries the hedge-mode shaping every order needs.
type OrderParams struct {
	// PositionSide tags which leg of a hedged account the order touches.
	PositionSide domain.Side
	// ReduceOnly marks closing orders so a venue cannot flip the position.
	ReduceOnly bool
	// FlipPositionMode requests the opposite position-mode parameter set
	// (one-way instead of hedge). Used for the single corrective retry after
	// ErrPositionModeMismatch; never set on a first attempt.
	FlipPositionMode bool
}

// TradingAdapter is the uniform order surface of one venue.
type TradingAdapter interface {
	Name() Name

	// CreateMarketOrder places a market order for qty coins. The returned
	// AvgPrice may legitimately be zero when the venue answers before the
	// fill settles; callers must then fall back to FetchOrder and
	// FetchOrderFills.
	CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params OrderParams) (Order, error)

	// FetchOrder re-queries an order by id.
	FetchOrder(ctx context.Context, symbol, orderID string) (Order, error)

	// FetchOrderFills returns the executions belonging to an order.
	FetchOrderFills(ctx context.Context, symbol, orderID string) ([]Fill, error)

	// PlaceConditional rests a stop-loss or take-profit order for one leg.
	PlaceConditional(ctx context.Context, symbol string, side domain.Side, qty, triggerPrice decimal.Decimal, kind domain.ConditionalKind, params OrderParams) (Order, error)

	// CancelConditional removes a resting conditional order. Cancellation is
	// best-effort from the engine's point of view.
	CancelConditional(ctx context.Context, symbol, orderID string) error
}

// FundingAdapter returns normalized funding payments for a symbol over a
// closed [start, end] interval: entries stamped exactly at either bound are
// included. Adapters propagate API failures instead of returning an empty
// list, because a silently missing funding sum misstates realized PnL.
type FundingAdapter interface {
	Name() Name
	FetchFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingFeeEntry, error)
}

// Venue is a full adapter: trading plus funding history.
type Venue interface {
	TradingAdapter
	FundingAdapter
}

// Registry is the closed set of configured venues.
type Registry struct {
	venues map[Name]Venue
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(vs ...Venue) *Registry {
	m := make(map[Name]Venue, len(vs))
	for _, v := range vs {
		m[v.Name()] = v
	}
	return &Registry{venues: m}
}

// Get returns the adapter for a venue name.
func (r *Registry) Get(name Name) (Venue, error) {
	v, ok := r.venues[name]
	if !ok {
		return nil, fmt.Errorf("venue: %q is not configured", name)
	}
	return v, nil
}

// Names lists the configured venues.
func (r *Registry) Names() []Name {
	out := make([]Name, 0, len(r.venues))
	for n := range r.venues {
		out = append(out, n)
	}
	return out
}

// InWindow reports whether ts falls inside the closed [start, end] interval.
// Shared by the funding adapters so boundary semantics cannot drift apart.
func InWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
