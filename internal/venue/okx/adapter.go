package okx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// Codes OKX returns when the posSide parameter does not match the account's
// position mode (hedge vs net).
var positionModeMismatchCodes = map[string]bool{
	"51010": true,
	"51169": true,
}

// Adapter implements venue.Venue for OKX.
type Adapter struct {
	client *Client

	ctValMu sync.RWMutex
	ctVals  map[string]ctValInfo
}

type ctValInfo struct {
	val       decimal.Decimal
	fetchedAt time.Time
}

// New creates an Adapter around an existing Client.
func New(client *Client) *Adapter {
	return &Adapter{
		client: client,
		ctVals: make(map[string]ctValInfo),
	}
}

func (a *Adapter) Name() venue.Name { return venue.OKX }

type placeOrderRequest struct {
	InstID     string `json:"instId"`
	TdMode     string `json:"tdMode"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"`
	Size       string `json:"sz"`
	ReduceOnly string `json:"reduceOnly,omitempty"`
}

type placeOrderResult struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// CreateMarketOrder places a market order sized in contracts. OKX wants the
// posSide + tdMode pair on every hedge-mode order; FlipPositionMode switches
// to net-mode shaping (posSide omitted, reduceOnly allowed) for the single
// corrective retry.
func (a *Adapter) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params venue.OrderParams) (venue.Order, error) {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return venue.Order{}, err
	}
	sz, err := a.contracts(ctx, instID, qty)
	if err != nil {
		return venue.Order{}, err
	}

	req := placeOrderRequest{
		InstID:  instID,
		TdMode:  "cross",
		Side:    orderSide(side),
		OrdType: "market",
		Size:    sz.String(),
	}
	if params.FlipPositionMode {
		if params.ReduceOnly {
			req.ReduceOnly = "true"
		}
	} else {
		req.PosSide = string(params.PositionSide)
	}

	var results []placeOrderResult
	if err := a.client.do(ctx, http.MethodPost, "/api/v5/trade/order", req, &results); err != nil {
		return venue.Order{}, classify(err, "create market order")
	}
	if len(results) == 0 {
		return venue.Order{}, fmt.Errorf("okx: create market order: empty result")
	}
	if r := results[0]; r.SCode != "" && r.SCode != "0" {
		return venue.Order{}, classify(&apiError{Code: r.SCode, Msg: r.SMsg}, "create market order")
	}

	// OKX answers before the fill settles; the caller's fallback chain picks
	// up the price via FetchOrder.
	return venue.Order{ID: results[0].OrdID, Symbol: symbol}, nil
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
	Fee       string `json:"fee"`
	State     string `json:"state"`
}

// FetchOrder re-queries an order; fill size is converted from contracts back
// to coins, and the fee (negative balance change on OKX) is normalized to a
// positive cost.
func (a *Adapter) FetchOrder(ctx context.Context, symbol, orderID string) (venue.Order, error) {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return venue.Order{}, err
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("ordId", orderID)

	var details []orderDetail
	if err := a.client.get(ctx, "/api/v5/trade/order", params, &details); err != nil {
		return venue.Order{}, classify(err, "fetch order")
	}
	if len(details) == 0 {
		return venue.Order{}, fmt.Errorf("okx: order %s: %w", orderID, venue.ErrOrderNotFound)
	}

	ctVal, err := a.contractValue(ctx, instID)
	if err != nil {
		return venue.Order{}, err
	}

	d := details[0]
	return venue.Order{
		ID:       d.OrdID,
		Symbol:   symbol,
		AvgPrice: parseDecimal(d.AvgPx),
		Filled:   parseDecimal(d.AccFillSz).Mul(ctVal),
		Fee:      parseDecimal(d.Fee).Neg(),
	}, nil
}

type fillDetail struct {
	FillPx string `json:"fillPx"`
	FillSz string `json:"fillSz"`
	Fee    string `json:"fee"`
}

// FetchOrderFills returns the executions for one order.
func (a *Adapter) FetchOrderFills(ctx context.Context, symbol, orderID string) ([]venue.Fill, error) {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("instId", instID)
	params.Set("ordId", orderID)

	var details []fillDetail
	if err := a.client.get(ctx, "/api/v5/trade/fills", params, &details); err != nil {
		return nil, classify(err, "fetch order fills")
	}

	ctVal, err := a.contractValue(ctx, instID)
	if err != nil {
		return nil, err
	}

	fills := make([]venue.Fill, 0, len(details))
	for _, d := range details {
		fills = append(fills, venue.Fill{
			Price:  parseDecimal(d.FillPx),
			Amount: parseDecimal(d.FillSz).Mul(ctVal),
			Fee:    parseDecimal(d.Fee).Neg(),
		})
	}
	return fills, nil
}

type placeAlgoRequest struct {
	InstID      string `json:"instId"`
	TdMode      string `json:"tdMode"`
	Side        string `json:"side"`
	PosSide     string `json:"posSide,omitempty"`
	OrdType     string `json:"ordType"`
	Size        string `json:"sz"`
	SlTriggerPx string `json:"slTriggerPx,omitempty"`
	SlOrdPx     string `json:"slOrdPx,omitempty"`
	TpTriggerPx string `json:"tpTriggerPx,omitempty"`
	TpOrdPx     string `json:"tpOrdPx,omitempty"`
}

type placeAlgoResult struct {
	AlgoID string `json:"algoId"`
	SCode  string `json:"sCode"`
	SMsg   string `json:"sMsg"`
}

// PlaceConditional rests a stop-loss or take-profit algo order. The "-1"
// order price means execute at market when triggered.
func (a *Adapter) PlaceConditional(ctx context.Context, symbol string, side domain.Side, qty, triggerPrice decimal.Decimal, kind domain.ConditionalKind, params venue.OrderParams) (venue.Order, error) {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return venue.Order{}, err
	}
	sz, err := a.contracts(ctx, instID, qty)
	if err != nil {
		return venue.Order{}, err
	}

	req := placeAlgoRequest{
		InstID:  instID,
		TdMode:  "cross",
		Side:    orderSide(side),
		PosSide: string(params.PositionSide),
		OrdType: "conditional",
		Size:    sz.String(),
	}
	if kind == domain.ConditionalTakeProfit {
		req.TpTriggerPx = triggerPrice.String()
		req.TpOrdPx = "-1"
	} else {
		req.SlTriggerPx = triggerPrice.String()
		req.SlOrdPx = "-1"
	}

	var results []placeAlgoResult
	if err := a.client.do(ctx, http.MethodPost, "/api/v5/trade/order-algo", req, &results); err != nil {
		return venue.Order{}, classify(err, "place conditional")
	}
	if len(results) == 0 {
		return venue.Order{}, fmt.Errorf("okx: place conditional: empty result")
	}
	if r := results[0]; r.SCode != "" && r.SCode != "0" {
		return venue.Order{}, classify(&apiError{Code: r.SCode, Msg: r.SMsg}, "place conditional")
	}

	return venue.Order{ID: results[0].AlgoID, Symbol: symbol}, nil
}

type cancelAlgoRequest struct {
	AlgoID string `json:"algoId"`
	InstID string `json:"instId"`
}

// CancelConditional removes a resting algo order.
func (a *Adapter) CancelConditional(ctx context.Context, symbol, orderID string) error {
	instID, err := venue.FormatSymbol(venue.OKX, symbol)
	if err != nil {
		return err
	}
	req := []cancelAlgoRequest{{AlgoID: orderID, InstID: instID}}
	if err := a.client.do(ctx, http.MethodPost, "/api/v5/trade/cancel-algos", req, nil); err != nil {
		return classify(err, "cancel conditional")
	}
	return nil
}

type instrument struct {
	InstID string `json:"instId"`
	CtVal  string `json:"ctVal"`
}

// contracts floors a coin quantity into whole contracts for instID.
func (a *Adapter) contracts(ctx context.Context, instID string, qty decimal.Decimal) (decimal.Decimal, error) {
	ctVal, err := a.contractValue(ctx, instID)
	if err != nil {
		return decimal.Zero, err
	}
	sz := venue.ContractQuantity(qty, ctVal)
	if sz.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("okx: quantity %s below one contract (ctVal %s) for %s", qty, ctVal, instID)
	}
	return sz, nil
}

// contractValue returns the coin value of one contract, cached for five
// minutes.
func (a *Adapter) contractValue(ctx context.Context, instID string) (decimal.Decimal, error) {
	a.ctValMu.RLock()
	info, ok := a.ctVals[instID]
	a.ctValMu.RUnlock()
	if ok && time.Since(info.fetchedAt) < 5*time.Minute {
		return info.val, nil
	}

	params := url.Values{}
	params.Set("instType", "SWAP")
	params.Set("instId", instID)

	var instruments []instrument
	if err := a.client.get(ctx, "/api/v5/public/instruments", params, &instruments); err != nil {
		return decimal.Zero, classify(err, "fetch instrument")
	}
	if len(instruments) == 0 {
		return decimal.Zero, fmt.Errorf("okx: instrument %s not found", instID)
	}

	val := parseDecimal(instruments[0].CtVal)
	if val.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("okx: instrument %s has no contract value", instID)
	}

	a.ctValMu.Lock()
	a.ctVals[instID] = ctValInfo{val: val, fetchedAt: time.Now()}
	a.ctValMu.Unlock()
	return val, nil
}

func orderSide(side domain.Side) string {
	if side == domain.SideShort {
		return "sell"
	}
	return "buy"
}

// classify wraps venue errors, surfacing position-mode mismatches as the
// shared sentinel.
func classify(err error, op string) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) && positionModeMismatchCodes[apiErr.Code] {
		return fmt.Errorf("okx: %s: %s: %w", op, apiErr.Msg, venue.ErrPositionModeMismatch)
	}
	return fmt.Errorf("okx: %s: %w", op, err)
}

// parseDecimal converts a venue numeric string to a decimal, treating empty
// and malformed values as zero.
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
