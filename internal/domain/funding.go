package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingFeeEntry is one normalized funding payment. Amounts are signed in the
// quote currency: positive means the position received funding, negative means
// it paid. Entries are produced by the venue funding adapters, summed into the
// Trade's funding PnL, and never persisted individually.
type FundingFeeEntry struct {
	ID        string
	Symbol    string
	Timestamp time.Time
	Amount    decimal.Decimal
	Venue     string
}

// SumFundingFees adds up a batch of entries. Decimal addition is exact, so the
// result does not depend on entry order.
func SumFundingFees(entries []FundingFeeEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}
