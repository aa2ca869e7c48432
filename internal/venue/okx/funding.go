package okx

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// billTypeFundingFee is the OKX bill type for funding payments.
const billTypeFundingFee = "8"

// billsPageLimit is the bills page size; OKX caps it at 100.
const billsPageLimit = 100

type bill struct {
	BillID string `json:"billId"`
	InstID string `json:"instId"`
	TS     string `json:"ts"`
	BalChg string `json:"balChg"`
	Type   string `json:"type"`
}

// FetchFundingFees returns the funding-fee bills for symbol inside the closed
// [start, end] interval. Amounts and timestamps arrive as strings; the
// balance change is parsed directly into a decimal, signed from the
// position's point of view. Bills come newest first; each full page is
// followed up with after=<oldest billId> until the window is exhausted.
func (a *Adapter) FetchFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingFeeEntry, error) {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return nil, err
	}

	entries := []domain.FundingFeeEntry{}

	after := ""
	for {
		params := url.Values{}
		params.Set("instType", "SWAP")
		params.Set("instId", instID)
		params.Set("type", billTypeFundingFee)
		// OKX treats begin/end as exclusive at millisecond resolution; widen by
		// one ms each way and re-apply the closed interval locally.
		params.Set("begin", strconv.FormatInt(start.UnixMilli()-1, 10))
		params.Set("end", strconv.FormatInt(end.UnixMilli()+1, 10))
		params.Set("limit", strconv.Itoa(billsPageLimit))
		if after != "" {
			params.Set("after", after)
		}

		var bills []bill
		if err := a.client.get(ctx, "/api/v5/account/bills", params, &bills); err != nil {
			return nil, classify(err, "fetch funding fees")
		}

		for _, b := range bills {
			if b.Type != billTypeFundingFee {
				continue
			}
			ms, err := strconv.ParseInt(b.TS, 10, 64)
			if err != nil {
				return nil, classify(err, "parse funding timestamp")
			}
			ts := time.UnixMilli(ms)
			if !venue.InWindow(ts, start, end) {
				continue
			}
			amount, err := decimal.NewFromString(b.BalChg)
			if err != nil {
				return nil, classify(err, "parse funding amount")
			}
			entries = append(entries, domain.FundingFeeEntry{
				ID:        b.BillID,
				Symbol:    symbol,
				Timestamp: ts,
				Amount:    amount,
				Venue:     string(venue.OKX),
			})
		}

		if len(bills) < billsPageLimit {
			break
		}
		next := bills[len(bills)-1].BillID
		if next == "" || next == after {
			break
		}
		after = next
	}
	return entries, nil
}
