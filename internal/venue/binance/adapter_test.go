package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/venue"
)

// exchangeInfoHandler publishes a single symbol with a 0.001 lot step.
func exchangeInfoHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{
		"symbols": [{
			"symbol": "BTCUSDT",
			"filters": [{"filterType": "LOT_SIZE", "stepSize": "0.001"}]
		}]
	}`))
}

func newTestAdapter(t *testing.T, mux *http.ServeMux) *Adapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := futures.NewClient("test-key", "test-secret")
	client.BaseURL = srv.URL
	return New(client)
}

func TestCreateMarketOrderHedgeMode(t *testing.T) {
	var form map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", exchangeInfoHandler)
	mux.HandleFunc("POST /fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		form = map[string]string{
			"symbol":       r.FormValue("symbol"),
			"side":         r.FormValue("side"),
			"positionSide": r.FormValue("positionSide"),
			"type":         r.FormValue("type"),
			"quantity":     r.FormValue("quantity"),
			"reduceOnly":   r.FormValue("reduceOnly"),
		}
		w.Write([]byte(`{"orderId": 42001, "avgPrice": "95000.5", "executedQty": "0.002", "status": "FILLED"}`))
	})
	a := newTestAdapter(t, mux)

	ord, err := a.CreateMarketOrder(context.Background(), "BTCUSDT", domain.SideLong,
		decimal.RequireFromString("0.0025"),
		venue.OrderParams{PositionSide: domain.SideLong})
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}
	if ord.ID != "42001" {
		t.Errorf("order id = %q, want 42001", ord.ID)
	}
	if !ord.AvgPrice.Equal(decimal.RequireFromString("95000.5")) {
		t.Errorf("AvgPrice = %s", ord.AvgPrice)
	}
	if !ord.Filled.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Filled = %s", ord.Filled)
	}
	if form["symbol"] != "BTCUSDT" || form["side"] != "BUY" || form["type"] != "MARKET" {
		t.Errorf("order params = %v", form)
	}
	if form["positionSide"] != "LONG" {
		t.Errorf("positionSide = %q, want LONG", form["positionSide"])
	}
	// 0.0025 floored to the 0.001 lot step.
	if form["quantity"] != "0.002" {
		t.Errorf("quantity = %q, want 0.002", form["quantity"])
	}
	if form["reduceOnly"] != "" {
		t.Errorf("hedge-mode order must not carry reduceOnly, got %q", form["reduceOnly"])
	}
}

func TestCreateMarketOrderFlipPositionMode(t *testing.T) {
	var form map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", exchangeInfoHandler)
	mux.HandleFunc("POST /fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = map[string]string{
			"positionSide": r.FormValue("positionSide"),
			"reduceOnly":   r.FormValue("reduceOnly"),
		}
		w.Write([]byte(`{"orderId": 42002, "avgPrice": "0", "executedQty": "0"}`))
	})
	a := newTestAdapter(t, mux)

	_, err := a.CreateMarketOrder(context.Background(), "BTCUSDT", domain.SideShort,
		decimal.RequireFromString("0.002"),
		venue.OrderParams{PositionSide: domain.SideShort, FlipPositionMode: true, ReduceOnly: true})
	if err != nil {
		t.Fatalf("CreateMarketOrder: %v", err)
	}
	if form["positionSide"] != "" {
		t.Errorf("one-way order must omit positionSide, got %q", form["positionSide"])
	}
	if form["reduceOnly"] != "true" {
		t.Errorf("reduceOnly = %q, want true", form["reduceOnly"])
	}
}

func TestCreateMarketOrderMismatchClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", exchangeInfoHandler)
	mux.HandleFunc("POST /fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -4061, "msg": "Order's position side does not match user's setting."}`))
	})
	a := newTestAdapter(t, mux)

	_, err := a.CreateMarketOrder(context.Background(), "BTCUSDT", domain.SideLong,
		decimal.RequireFromString("0.002"), venue.OrderParams{PositionSide: domain.SideLong})
	if !errors.Is(err, venue.ErrPositionModeMismatch) {
		t.Fatalf("error = %v, want ErrPositionModeMismatch", err)
	}
}

func TestFetchOrderFillsMatchesOrderID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/userTrades", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"orderId": 7, "price": "95000", "qty": "0.001", "commission": "0.02"},
			{"orderId": 8, "price": "95010", "qty": "0.001", "commission": "0.02"},
			{"orderId": 7, "price": "95020", "qty": "0.001", "commission": "0.02"}
		]`))
	})
	a := newTestAdapter(t, mux)

	fills, err := a.FetchOrderFills(context.Background(), "BTCUSDT", "7")
	if err != nil {
		t.Fatalf("FetchOrderFills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	if !fills[1].Price.Equal(decimal.RequireFromString("95020")) {
		t.Errorf("fill price = %s", fills[1].Price)
	}
}

func TestQuantityBelowLotStep(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fapi/v1/exchangeInfo", exchangeInfoHandler)
	a := newTestAdapter(t, mux)

	_, err := a.CreateMarketOrder(context.Background(), "BTCUSDT", domain.SideLong,
		decimal.RequireFromString("0.0001"), venue.OrderParams{PositionSide: domain.SideLong})
	if err == nil {
		t.Fatal("expected error for quantity below one lot step")
	}
}
