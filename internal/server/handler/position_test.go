package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
	"github.com/alanyoungcy/fundarb/internal/engine"
)

type fakeEngine struct {
	openFn   func(ctx context.Context, req engine.OpenRequest) (domain.Position, error)
	closeFn  func(ctx context.Context, userID, positionID, reason string) (engine.CloseResult, error)
	resumeFn func(ctx context.Context, userID, positionID string) (engine.CloseResult, error)
}

func (f *fakeEngine) Open(ctx context.Context, req engine.OpenRequest) (domain.Position, error) {
	return f.openFn(ctx, req)
}

func (f *fakeEngine) Close(ctx context.Context, userID, positionID, reason string) (engine.CloseResult, error) {
	return f.closeFn(ctx, userID, positionID, reason)
}

func (f *fakeEngine) ResumePartialClose(ctx context.Context, userID, positionID string) (engine.CloseResult, error) {
	return f.resumeFn(ctx, userID, positionID)
}

type fakePositionStore struct {
	domain.PositionStore
	byID map[string]domain.Position
	open []domain.Position
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	p, ok := f.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositionStore) ListOpen(_ context.Context, userID string) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.open {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeTradeStore struct {
	domain.TradeStore
	byPos map[string]domain.Trade
}

func (f *fakeTradeStore) GetByPositionID(_ context.Context, positionID string) (domain.Trade, error) {
	t, ok := f.byPos[positionID]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func newTestHandler(eng PositionEngine, ps *fakePositionStore, ts *fakeTradeStore) *PositionHandler {
	if ps == nil {
		ps = &fakePositionStore{byID: map[string]domain.Position{}}
	}
	if ts == nil {
		ts = &fakeTradeStore{byPos: map[string]domain.Trade{}}
	}
	return NewPositionHandler(eng, ps, ts, slog.New(slog.DiscardHandler))
}

func TestOpenPosition(t *testing.T) {
	var got engine.OpenRequest
	eng := &fakeEngine{
		openFn: func(_ context.Context, req engine.OpenRequest) (domain.Position, error) {
			got = req
			return domain.Position{ID: "pos-1", UserID: req.UserID, Status: domain.PositionStatusOpen}, nil
		},
	}
	h := newTestHandler(eng, nil, nil)

	body := `{"symbol":"BTCUSDT","long_venue":"binance","short_venue":"okx","size":"0.002","long_leverage":5,"short_leverage":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.OpenPosition(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if got.UserID != "u1" || got.Symbol != "BTCUSDT" {
		t.Errorf("engine got %+v", got)
	}
	if !got.Size.Equal(decimal.RequireFromString("0.002")) {
		t.Errorf("Size = %s, want 0.002", got.Size)
	}
	var resp struct {
		Position domain.Position `json:"position"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Position.ID != "pos-1" {
		t.Errorf("position id = %q", resp.Position.ID)
	}
}

func TestOpenPositionRequiresUser(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.OpenPosition(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOpenPositionLockConflict(t *testing.T) {
	eng := &fakeEngine{
		openFn: func(_ context.Context, _ engine.OpenRequest) (domain.Position, error) {
			return domain.Position{}, domain.ErrLockConflict
		},
	}
	h := newTestHandler(eng, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/positions", strings.NewReader(`{"symbol":"BTCUSDT"}`))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.OpenPosition(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestClosePositionPartialIs200(t *testing.T) {
	eng := &fakeEngine{
		closeFn: func(_ context.Context, userID, positionID, reason string) (engine.CloseResult, error) {
			if userID != "u1" || positionID != "pos-1" || reason != "manual" {
				t.Errorf("close got user=%q id=%q reason=%q", userID, positionID, reason)
			}
			return engine.CloseResult{
				Success:    false,
				Error:      engine.PartialCloseError,
				PositionID: positionID,
				ClosedSide: domain.SideLong,
				FailedSide: domain.SideShort,
			}, nil
		},
	}
	h := newTestHandler(eng, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", strings.NewReader(`{"reason":"manual"}`))
	req.SetPathValue("id", "pos-1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.ClosePosition(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result engine.CloseResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Success || result.Error != engine.PartialCloseError {
		t.Errorf("result = %+v", result)
	}
}

func TestClosePositionErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"lock conflict", domain.ErrLockConflict, http.StatusConflict},
		{"invalid status", &domain.InvalidStatusError{Op: "close", Status: domain.PositionStatusClosed}, http.StatusConflict},
		{"both legs failed", &domain.BothLegsFailedError{LongReason: "x", ShortReason: "y"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{
				closeFn: func(_ context.Context, _, _, _ string) (engine.CloseResult, error) {
					return engine.CloseResult{}, tt.err
				},
			}
			h := newTestHandler(eng, nil, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/close", nil)
			req.SetPathValue("id", "pos-1")
			req.Header.Set("X-User-ID", "u1")
			rec := httptest.NewRecorder()

			h.ClosePosition(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestResumePartialClose(t *testing.T) {
	called := false
	eng := &fakeEngine{
		resumeFn: func(_ context.Context, userID, positionID string) (engine.CloseResult, error) {
			called = true
			return engine.CloseResult{Success: true, PositionID: positionID}, nil
		},
	}
	h := newTestHandler(eng, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/positions/pos-1/resume-close", nil)
	req.SetPathValue("id", "pos-1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.ResumePartialClose(rec, req)

	if !called {
		t.Fatal("resume not invoked")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetPositionOwnership(t *testing.T) {
	ps := &fakePositionStore{byID: map[string]domain.Position{
		"pos-1": {ID: "pos-1", UserID: "u1", Symbol: "BTCUSDT"},
	}}
	h := newTestHandler(&fakeEngine{}, ps, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/pos-1", nil)
	req.SetPathValue("id", "pos-1")
	req.Header.Set("X-User-ID", "u2")
	rec := httptest.NewRecorder()

	h.GetPosition(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestGetTrade(t *testing.T) {
	ps := &fakePositionStore{byID: map[string]domain.Position{
		"pos-1": {ID: "pos-1", UserID: "u1"},
	}}
	ts := &fakeTradeStore{byPos: map[string]domain.Trade{
		"pos-1": {ID: "t-1", PositionID: "pos-1", UserID: "u1"},
	}}
	h := newTestHandler(&fakeEngine{}, ps, ts)

	req := httptest.NewRequest(http.MethodGet, "/api/positions/pos-1/trade", nil)
	req.SetPathValue("id", "pos-1")
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.GetTrade(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Trade domain.Trade `json:"trade"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Trade.ID != "t-1" {
		t.Errorf("trade id = %q", resp.Trade.ID)
	}
}

func TestListPositionsEmpty(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakePositionStore{byID: map[string]domain.Position{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()

	h.ListPositions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"positions":[]`) {
		t.Errorf("want empty array, got %s", rec.Body.String())
	}
}
