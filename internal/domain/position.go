package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the canonical position side used everywhere inside the engine.
// Venue-native tokens ("buy", "SELL", ...) are normalized at the adapter
// boundary and never travel further in.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	// SideUnknown is returned for unrecognized input; it is never an error.
	SideUnknown Side = ""
)

// Opposite returns the other side, or SideUnknown for unknown input.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideUnknown
	}
}

// PositionStatus tracks the hedge lifecycle:
// opening -> {open | failed}; open -> closing -> {closed | partial}.
// partial is terminal for the close attempt but actionable: a separate,
// explicitly invoked recovery operation may move it to closing again.
type PositionStatus string

const (
	PositionStatusOpening PositionStatus = "opening"
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusPartial PositionStatus = "partial"
	PositionStatusFailed  PositionStatus = "failed"
)

// ConditionalKind distinguishes the two kinds of conditional orders the
// engine places and cancels.
type ConditionalKind string

const (
	ConditionalStopLoss   ConditionalKind = "stop_loss"
	ConditionalTakeProfit ConditionalKind = "take_profit"
)

// ConditionalOrderRef points at a stop-loss or take-profit order resting on a
// venue, so the closer can cancel it after the hedge is gone.
type ConditionalOrderRef struct {
	Venue   string          `json:"venue"`
	Side    Side            `json:"side"` // which leg of the hedge it protects
	Kind    ConditionalKind `json:"kind"`
	OrderID string          `json:"order_id"`
}

// Position is a hedged pair: long on one venue, short on another, same
// underlying. The row is exclusively owned by the engine while an open/close
// operation is in flight; once the status is stable (open, closed, partial,
// failed) read-only consumers may observe it.
type Position struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"` // internal BASEQUOTE form, e.g. "BTCUSDT"

	LongVenue  string `json:"long_venue"`
	ShortVenue string `json:"short_venue"`

	LongSize  decimal.Decimal `json:"long_size"` // coin-denominated
	ShortSize decimal.Decimal `json:"short_size"`

	LongEntryPrice  decimal.Decimal `json:"long_entry_price"`
	ShortEntryPrice decimal.Decimal `json:"short_entry_price"`
	LongOpenFee     decimal.Decimal `json:"long_open_fee"`
	ShortOpenFee    decimal.Decimal `json:"short_open_fee"`

	LongExitPrice  decimal.Decimal `json:"long_exit_price"` // zero until the leg is closed
	ShortExitPrice decimal.Decimal `json:"short_exit_price"`
	LongCloseFee   decimal.Decimal `json:"long_close_fee"`
	ShortCloseFee  decimal.Decimal `json:"short_close_fee"`

	LongLeverage  int `json:"long_leverage"`
	ShortLeverage int `json:"short_leverage"`

	Status      PositionStatus `json:"status"`
	OpenedAt    time.Time      `json:"opened_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	CloseReason string         `json:"close_reason,omitempty"`

	// FailureReason carries the raw venue error text for failed and partial
	// outcomes. PartialClosedSide / PartialFailedSide record which leg went
	// through on a one-sided close.
	FailureReason     string `json:"failure_reason,omitempty"`
	PartialClosedSide Side   `json:"partial_closed_side,omitempty"`
	PartialFailedSide Side   `json:"partial_failed_side,omitempty"`

	// ManualIntervention is set when a filled leg could not be unwound; such
	// positions must never be retried automatically.
	ManualIntervention bool `json:"manual_intervention,omitempty"`

	Conditionals []ConditionalOrderRef `json:"conditionals,omitempty"`
}

// Terminal reports whether the lifecycle is finished for this position.
// partial counts as terminal for the close attempt; only the explicit
// recovery operation moves it again.
func (p Position) Terminal() bool {
	switch p.Status {
	case PositionStatusClosed, PositionStatusFailed:
		return true
	default:
		return false
	}
}

// VenueFor returns the venue holding the given leg.
func (p Position) VenueFor(side Side) string {
	if side == SideShort {
		return p.ShortVenue
	}
	return p.LongVenue
}

// SizeFor returns the coin-denominated size of the given leg.
func (p Position) SizeFor(side Side) decimal.Decimal {
	if side == SideShort {
		return p.ShortSize
	}
	return p.LongSize
}

// ConditionalsFor returns the conditional order refs protecting one leg.
func (p Position) ConditionalsFor(side Side) []ConditionalOrderRef {
	var out []ConditionalOrderRef
	for _, c := range p.Conditionals {
		if c.Side == side {
			out = append(out, c)
		}
	}
	return out
}
