// Package binance implements the venue adapter for Binance USDⓈ-M futures on
// top of the adshao/go-binance client. The account is expected to run in
// hedge mode: every order carries an explicit positionSide tag.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// positionSideMismatchCode is Binance error -4061, "Order's position side
// does not match user's setting": the account is in one-way mode but the
// order carried LONG/SHORT (or vice versa).
const positionSideMismatchCode = -4061

// Adapter implements venue.Venue for Binance.
type Adapter struct {
	client *futures.Client

	stepMu    sync.RWMutex
	stepSizes map[string]stepInfo
}

type stepInfo struct {
	step      decimal.Decimal
	fetchedAt time.Time
}

// New creates an Adapter around an existing futures client so tests can point
// the client at a fake server.
func New(client *futures.Client) *Adapter {
	return &Adapter{
		client:    client,
		stepSizes: make(map[string]stepInfo),
	}
}

// NewFromKeys creates an Adapter with production credentials.
func NewFromKeys(apiKey, secretKey string) *Adapter {
	return New(futures.NewClient(apiKey, secretKey))
}

func (a *Adapter) Name() venue.Name { return venue.Binance }

func orderSide(side domain.Side) futures.SideType {
	if side == domain.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func positionSide(side domain.Side) futures.PositionSideType {
	if side == domain.SideShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

// CreateMarketOrder places a market order. In hedge mode the order is tagged
// with positionSide and reduceOnly must be omitted; when FlipPositionMode is
// set the order is shaped for a one-way account instead (no positionSide,
// reduceOnly allowed).
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params venue.OrderParams) (venue.Order, error) {
	qtyStr, err := a.quantityString(ctx, symbol, qty)
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance: format quantity: %w", err)
	}

	svc := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)

	if params.FlipPositionMode {
		if params.ReduceOnly {
			svc.ReduceOnly(true)
		}
	} else {
		svc.PositionSide(positionSide(params.PositionSide))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return venue.Order{}, classify(err, "create market order")
	}

	return venue.Order{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		Symbol:   symbol,
		AvgPrice: parseDecimal(resp.AvgPrice),
		Filled:   parseDecimal(resp.ExecutedQuantity),
	}, nil
}

// FetchOrder re-queries an order by id; the second tier of the fill-price
// fallback chain.
func (a *Adapter) FetchOrder(ctx context.Context, symbol, orderID string) (venue.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance: order id %q: %w", orderID, err)
	}

	order, err := a.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return venue.Order{}, classify(err, "fetch order")
	}

	return venue.Order{
		ID:       orderID,
		Symbol:   symbol,
		AvgPrice: parseDecimal(order.AvgPrice),
		Filled:   parseDecimal(order.ExecutedQuantity),
	}, nil
}

// FetchOrderFills returns the account trades belonging to one order. Binance
// has no direct order-id filter on recent trades, so we pull the latest fills
// for the symbol and match locally.
func (a *Adapter) FetchOrderFills(ctx context.Context, symbol, orderID string) ([]venue.Fill, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: order id %q: %w", orderID, err)
	}

	trades, err := a.client.NewListAccountTradeService().Symbol(symbol).Limit(100).Do(ctx)
	if err != nil {
		return nil, classify(err, "fetch order fills")
	}

	fills := make([]venue.Fill, 0, 4)
	for _, t := range trades {
		if t.OrderID != id {
			continue
		}
		fills = append(fills, venue.Fill{
			Price:  parseDecimal(t.Price),
			Amount: parseDecimal(t.Quantity),
			Fee:    parseDecimal(t.Commission),
		})
	}
	return fills, nil
}

// PlaceConditional rests a stop-market or take-profit-market order for one
// hedge leg.
func (a *Adapter) PlaceConditional(ctx context.Context, symbol string, side domain.Side, qty, triggerPrice decimal.Decimal, kind domain.ConditionalKind, params venue.OrderParams) (venue.Order, error) {
	qtyStr, err := a.quantityString(ctx, symbol, qty)
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance: format quantity: %w", err)
	}

	orderType := futures.OrderTypeStopMarket
	if kind == domain.ConditionalTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(orderSide(side)).
		PositionSide(positionSide(params.PositionSide)).
		Type(orderType).
		Quantity(qtyStr).
		StopPrice(triggerPrice.String()).
		Do(ctx)
	if err != nil {
		return venue.Order{}, classify(err, "place conditional")
	}

	return venue.Order{
		ID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol: symbol,
	}, nil
}

// CancelConditional cancels a resting conditional order.
func (a *Adapter) CancelConditional(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: order id %q: %w", orderID, err)
	}
	if _, err := a.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return classify(err, "cancel conditional")
	}
	return nil
}

// quantityString floors qty to the symbol's lot step and renders it the way
// the API expects. Step sizes are cached for five minutes.
func (a *Adapter) quantityString(ctx context.Context, symbol string, qty decimal.Decimal) (string, error) {
	step, err := a.stepSize(ctx, symbol)
	if err != nil {
		return "", err
	}
	if step.Sign() > 0 {
		qty = venue.ContractQuantity(qty, step).Mul(step)
	}
	if qty.Sign() <= 0 {
		return "", fmt.Errorf("quantity rounds to zero for %s", symbol)
	}
	return qty.String(), nil
}

func (a *Adapter) stepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	a.stepMu.RLock()
	info, ok := a.stepSizes[symbol]
	a.stepMu.RUnlock()
	if ok && time.Since(info.fetchedAt) < 5*time.Minute {
		return info.step, nil
	}

	exInfo, err := a.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange info: %w", err)
	}

	for _, s := range exInfo.Symbols {
		if s.Symbol != symbol {
			continue
		}
		step := decimal.Zero
		for _, f := range s.Filters {
			if f["filterType"] == "LOT_SIZE" {
				if raw, ok := f["stepSize"].(string); ok {
					step = parseDecimal(raw)
				}
			}
		}
		a.stepMu.Lock()
		a.stepSizes[symbol] = stepInfo{step: step, fetchedAt: time.Now()}
		a.stepMu.Unlock()
		return step, nil
	}
	return decimal.Zero, fmt.Errorf("symbol %s not found", symbol)
}

// classify wraps venue errors, surfacing the position-mode mismatch as the
// shared sentinel so the closer can apply its single corrective retry.
func classify(err error, op string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == positionSideMismatchCode {
		return fmt.Errorf("binance: %s: %s: %w", op, apiErr.Message, venue.ErrPositionModeMismatch)
	}
	return fmt.Errorf("binance: %s: %w", op, err)
}

// parseDecimal converts a venue numeric string to a decimal, treating empty
// and malformed values as zero. Zero is the signal the fallback chain keys on.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ venue.Venue = (*Adapter)(nil)
