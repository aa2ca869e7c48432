package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// fundingPageLimit is the income-history page size; Binance caps it at 1000.
const fundingPageLimit = 1000

// FetchFundingFees returns the FUNDING_FEE income entries for symbol inside
// the closed [start, end] interval. Income amounts arrive as strings and are
// parsed straight into decimals; timestamps are epoch milliseconds. The
// endpoint pages by time: each full page advances the start cursor past the
// last entry seen until the window is exhausted.
func (a *Adapter) FetchFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingFeeEntry, error) {
	var entries []domain.FundingFeeEntry

	cursor := start.UnixMilli()
	for {
		incomes, err := a.client.NewGetIncomeHistoryService().
			Symbol(symbol).
			IncomeType("FUNDING_FEE").
			StartTime(cursor).
			EndTime(end.UnixMilli()).
			Limit(fundingPageLimit).
			Do(ctx)
		if err != nil {
			return nil, classify(err, "fetch funding fees")
		}

		lastSeen := cursor
		for _, in := range incomes {
			if in.Time > lastSeen {
				lastSeen = in.Time
			}
			if in.IncomeType != "FUNDING_FEE" {
				continue
			}
			ts := time.UnixMilli(in.Time)
			// The API treats the bounds as its own approximation; re-check the
			// closed interval here so boundary semantics are ours, not Binance's.
			if !venue.InWindow(ts, start, end) {
				continue
			}
			amount, err := decimal.NewFromString(in.Income)
			if err != nil {
				return nil, classify(err, "parse funding amount")
			}
			entries = append(entries, domain.FundingFeeEntry{
				ID:        strconv.FormatInt(in.TranID, 10),
				Symbol:    symbol,
				Timestamp: ts,
				Amount:    amount,
				Venue:     string(venue.Binance),
			})
		}

		if len(incomes) < fundingPageLimit || lastSeen <= cursor {
			break
		}
		cursor = lastSeen + 1
	}
	if entries == nil {
		entries = []domain.FundingFeeEntry{}
	}
	return entries, nil
}
