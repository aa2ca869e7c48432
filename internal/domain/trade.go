package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable financial record of a concluded hedge. It is created
// exactly once, when a close realizes at least one exit price, and is never
// mutated afterward.
type Trade struct {
	ID         string `json:"id"`
	PositionID string `json:"position_id"`
	UserID     string `json:"user_id"`
	Symbol     string `json:"symbol"`

	LongVenue  string `json:"long_venue"`
	ShortVenue string `json:"short_venue"`

	LongEntryPrice  decimal.Decimal `json:"long_entry_price"`
	LongExitPrice   decimal.Decimal `json:"long_exit_price"`
	ShortEntryPrice decimal.Decimal `json:"short_entry_price"`
	ShortExitPrice  decimal.Decimal `json:"short_exit_price"`

	LongSize  decimal.Decimal `json:"long_size"`
	ShortSize decimal.Decimal `json:"short_size"`

	PriceDiffPnL   decimal.Decimal `json:"price_diff_pnl"`
	FundingRatePnL decimal.Decimal `json:"funding_rate_pnl"`
	TotalFees      decimal.Decimal `json:"total_fees"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	ROI            decimal.Decimal `json:"roi"` // percent

	// FundingSettled is false when the funding query failed at close time and
	// FundingRatePnL was recorded as zero rather than the true amount.
	FundingSettled bool `json:"funding_settled"`

	HoldingDuration time.Duration `json:"holding_duration"`
	OpenedAt        time.Time     `json:"opened_at"`
	ClosedAt        time.Time     `json:"closed_at"`
	CloseReason     string        `json:"close_reason"`
}
