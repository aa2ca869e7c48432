// Package pnl computes the realized profit report for a concluded hedge. All
// arithmetic is exact decimal; float64 never touches a money value here, so
// summing many small funding entries cannot drift.
package pnl

import (
	"time"

	"github.com/shopspring/decimal"
)

// Input carries both legs' realized numbers plus the aggregated funding PnL.
type Input struct {
	LongEntry  decimal.Decimal
	LongExit   decimal.Decimal
	ShortEntry decimal.Decimal
	ShortExit  decimal.Decimal

	LongSize  decimal.Decimal
	ShortSize decimal.Decimal

	LongOpenFee   decimal.Decimal
	LongCloseFee  decimal.Decimal
	ShortOpenFee  decimal.Decimal
	ShortCloseFee decimal.Decimal

	LongLeverage  int
	ShortLeverage int

	FundingPnL decimal.Decimal

	OpenedAt time.Time
	ClosedAt time.Time
}

// Report is the signed profit breakdown of a hedge.
type Report struct {
	PriceDiffPnL    decimal.Decimal
	FundingRatePnL  decimal.Decimal
	TotalFees       decimal.Decimal
	TotalPnL        decimal.Decimal
	ROI             decimal.Decimal // percent of margin used
	MarginUsed      decimal.Decimal
	HoldingDuration time.Duration
}

// Compute is a pure function: no I/O, no clock reads, fully deterministic.
//
//	priceDiffPnL = (longExit-longEntry)*longSize + (shortEntry-shortExit)*shortSize
//	totalFees    = all four fee legs
//	totalPnL     = priceDiffPnL + fundingPnL - totalFees
//	roi          = totalPnL / marginUsed * 100
func Compute(in Input) Report {
	priceDiff := in.LongExit.Sub(in.LongEntry).Mul(in.LongSize).
		Add(in.ShortEntry.Sub(in.ShortExit).Mul(in.ShortSize))

	totalFees := in.LongOpenFee.Add(in.LongCloseFee).
		Add(in.ShortOpenFee).Add(in.ShortCloseFee)

	total := priceDiff.Add(in.FundingPnL).Sub(totalFees)

	margin := marginUsed(in)
	roi := decimal.Zero
	if margin.Sign() > 0 {
		roi = total.Div(margin).Mul(decimal.NewFromInt(100))
	}

	var holding time.Duration
	if !in.OpenedAt.IsZero() && !in.ClosedAt.IsZero() {
		holding = in.ClosedAt.Sub(in.OpenedAt)
	}

	return Report{
		PriceDiffPnL:    priceDiff,
		FundingRatePnL:  in.FundingPnL,
		TotalFees:       totalFees,
		TotalPnL:        total,
		ROI:             roi,
		MarginUsed:      margin,
		HoldingDuration: holding,
	}
}

// marginUsed is each leg's notional divided by its leverage. Unset leverage
// counts as 1x so a misconfigured position overstates margin rather than ROI.
func marginUsed(in Input) decimal.Decimal {
	longLev := in.LongLeverage
	if longLev < 1 {
		longLev = 1
	}
	shortLev := in.ShortLeverage
	if shortLev < 1 {
		shortLev = 1
	}
	longMargin := in.LongEntry.Mul(in.LongSize).Div(decimal.NewFromInt(int64(longLev)))
	shortMargin := in.ShortEntry.Mul(in.ShortSize).Div(decimal.NewFromInt(int64(shortLev)))
	return longMargin.Add(shortMargin)
}
