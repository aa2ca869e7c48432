package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/venue"
)

// errNoFillPrice means all three price sources came back empty for a filled
// order. A zero price is never persisted; the leg is treated as unresolved.
var errNoFillPrice = errors.New("no usable fill price from order response, order query, or fills")

// resolveFill discovers the true average fill price and fee of a placed order
// through the three-tier fallback chain: the order response itself, then an
// order re-query, then the order's fills (volume-weighted). Venues routinely
// echo a market order before the fill settles, so a zero price in the
// response is common and not an error by itself.
func (e *Engine) resolveFill(ctx context.Context, v venue.Venue, symbol string, ord venue.Order) (price, fee decimal.Decimal, err error) {
	if ord.AvgPrice.Sign() > 0 {
		return ord.AvgPrice, e.resolveFee(ctx, v, symbol, ord.ID, ord.Fee), nil
	}

	refetched, ferr := v.FetchOrder(ctx, symbol, ord.ID)
	if ferr != nil {
		e.logger.Warn("order re-query failed, falling back to fills",
			slog.String("venue", string(v.Name())),
			slog.String("order_id", ord.ID),
			slog.String("error", ferr.Error()),
		)
	} else if refetched.AvgPrice.Sign() > 0 {
		fee = refetched.Fee
		if fee.Sign() == 0 {
			fee = ord.Fee
		}
		return refetched.AvgPrice, e.resolveFee(ctx, v, symbol, ord.ID, fee), nil
	}

	fills, ferr := v.FetchOrderFills(ctx, symbol, ord.ID)
	if ferr != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fetch fills for order %s on %s: %w", ord.ID, v.Name(), ferr)
	}
	price, fee = vwap(fills)
	if price.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("order %s on %s: %w", ord.ID, v.Name(), errNoFillPrice)
	}
	if fee.Sign() == 0 {
		fee = ord.Fee
	}
	return price, fee, nil
}

// resolveFee backfills a missing commission from the order's fills. Some
// venues (Binance order endpoints among them) report no commission on the
// order payload at all, so a zero fee with a known price usually means
// unreported, not free. Best-effort: a fills lookup failure keeps the zero
// rather than failing an already filled leg.
func (e *Engine) resolveFee(ctx context.Context, v venue.Venue, symbol, orderID string, fee decimal.Decimal) decimal.Decimal {
	if fee.Sign() != 0 {
		return fee
	}
	fills, err := v.FetchOrderFills(ctx, symbol, orderID)
	if err != nil {
		e.logger.Warn("fee lookup via fills failed",
			slog.String("venue", string(v.Name())),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return fee
	}
	_, summed := vwap(fills)
	return summed
}

// vwap computes the volume-weighted average price and summed fee of a set of
// fills. Zero-amount fills contribute nothing.
func vwap(fills []venue.Fill) (price, fee decimal.Decimal) {
	notional := decimal.Zero
	volume := decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Amount))
		volume = volume.Add(f.Amount)
		fee = fee.Add(f.Fee)
	}
	if volume.Sign() <= 0 {
		return decimal.Zero, fee
	}
	return notional.Div(volume), fee
}
