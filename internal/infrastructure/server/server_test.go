package server

import (
	"dlob_engine/internal/core"
	"dlob_engine/internal/dlob"
	"dlob_engine/internal/subscriber"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "dlob_engine/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

var solPerp = core.MarketID{Index: 0, Type: core.MarketTypePerp}

type fakeQuerier struct {
	store   *dlob.Store
	lastL2  subscriber.L2Request
	lastL3  subscriber.MarketSelector
	l2Err   error
	oracles decimal.Decimal
}

func (f *fakeQuerier) GetL2(req subscriber.L2Request) (*core.L2OrderBook, error) {
	f.lastL2 = req
	if f.l2Err != nil {
		return nil, f.l2Err
	}
	book, _ := f.store.Market(solPerp)
	return dlob.BuildL2(book, dlob.L2Params{Slot: f.store.Slot(), OraclePrice: f.oracles, Depth: req.Depth}), nil
}

func (f *fakeQuerier) GetL3(sel subscriber.MarketSelector) (*core.L3OrderBook, error) {
	f.lastL3 = sel
	if sel.Name == "BTC-PERP" {
		return nil, fmt.Errorf("%w: BTC-PERP", apperrors.ErrMarketNotFound)
	}
	book, _ := f.store.Market(solPerp)
	return dlob.BuildL3(book, f.store.Slot(), f.oracles), nil
}

func (f *fakeQuerier) GetDLOB() *dlob.Store     { return f.store }
func (f *fakeQuerier) State() subscriber.State { return subscriber.StateActive }

type fakeNames struct{}

func (fakeNames) Name(id core.MarketID) (string, bool) {
	if id == solPerp {
		return "SOL-PERP", true
	}
	return "", false
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Register(string, func() error) {}
func (f *fakeHealth) GetStatus() map[string]string {
	if f.err != nil {
		return map[string]string{"dlob_subscriber": "Unhealthy: " + f.err.Error()}
	}
	return map[string]string{"dlob_subscriber": "Healthy"}
}
func (f *fakeHealth) IsHealthy() bool { return f.err == nil }

func newQuerier(t *testing.T) *fakeQuerier {
	t.Helper()
	d := decimal.NewFromInt
	store, err := dlob.NewStore(&core.OrderSnapshot{
		Slot:    42,
		Markets: []core.MarketID{solPerp},
		Orders: []core.Order{
			{Market: solPerp, Side: core.SideBid, Price: d(100), Size: d(5), Slot: 1, Owner: "a"},
			{Market: solPerp, Side: core.SideBid, Price: d(100), Size: d(3), Slot: 2, Owner: "b"},
			{Market: solPerp, Side: core.SideBid, Price: d(99), Size: d(10), Slot: 3, Owner: "c"},
			{Market: solPerp, Side: core.SideAsk, Price: d(101), Size: d(2), Slot: 4, Owner: "d"},
		},
	})
	require.NoError(t, err)
	return &fakeQuerier{store: store, oracles: d(100)}
}

func get(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestAPIServer_L2(t *testing.T) {
	q := newQuerier(t)
	s := NewAPIServer(0, q, fakeNames{}, nil, 10, &mockLogger{})

	rec, body := get(t, s.Handler(), "/l2?market=SOL-PERP&depth=2&include_vamm=true")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "SOL-PERP", q.lastL2.Name)
	assert.Equal(t, 2, q.lastL2.Depth)
	assert.True(t, q.lastL2.IncludeVAMM)
	assert.Nil(t, q.lastL2.NumVAMMOrders)

	assert.Equal(t, "SOL-PERP", body["market"])
	assert.Equal(t, "perp", body["market_type"])
	assert.Equal(t, float64(42), body["slot"])
	bids := body["bids"].([]interface{})
	require.Len(t, bids, 2)
	first := bids[0].(map[string]interface{})
	assert.Equal(t, "100", first["price"])
	assert.Equal(t, "8", first["size"])
	second := bids[1].(map[string]interface{})
	assert.Equal(t, "18", second["cumulative"])
}

func TestAPIServer_L2ExplicitZeroVAMMOrders(t *testing.T) {
	q := newQuerier(t)
	s := NewAPIServer(0, q, fakeNames{}, nil, 10, &mockLogger{})

	rec, _ := get(t, s.Handler(), "/l2?market=SOL-PERP&include_vamm=true&num_vamm_orders=0")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, q.lastL2.NumVAMMOrders)
	assert.Equal(t, 0, *q.lastL2.NumVAMMOrders)
}

func TestAPIServer_L2ByIndexUsesDefaultDepth(t *testing.T) {
	q := newQuerier(t)
	s := NewAPIServer(0, q, nil, nil, 7, &mockLogger{})

	rec, _ := get(t, s.Handler(), "/l2?market_index=0&market_type=perp")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, q.lastL2.Index)
	assert.Equal(t, uint16(0), *q.lastL2.Index)
	assert.Equal(t, core.MarketTypePerp, *q.lastL2.Type)
	assert.Equal(t, 7, q.lastL2.Depth)
}

func TestAPIServer_Errors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		err  error
		code int
	}{
		{"missing selector", "/l2", nil, http.StatusBadRequest},
		{"bad market type", "/l2?market_index=0&market_type=future", nil, http.StatusBadRequest},
		{"bad depth", "/l2?market=SOL-PERP&depth=x", nil, http.StatusBadRequest},
		{"unknown market", "/l3?market=BTC-PERP", nil, http.StatusNotFound},
		{"oracle unavailable", "/l2?market=SOL-PERP", apperrors.ErrOraclePriceUnavailable, http.StatusServiceUnavailable},
		{"conflicting sources", "/l2?market=SOL-PERP", apperrors.ErrConflictingLiquiditySources, http.StatusBadRequest},
		{"invalid market state", "/l2?market=SOL-PERP", apperrors.ErrInvalidMarketState, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQuerier(t)
			q.l2Err = tt.err
			s := NewAPIServer(0, q, nil, nil, 10, &mockLogger{})

			rec, body := get(t, s.Handler(), tt.url)
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPIServer_L3AndMarkets(t *testing.T) {
	q := newQuerier(t)
	s := NewAPIServer(0, q, fakeNames{}, nil, 10, &mockLogger{})

	rec, body := get(t, s.Handler(), "/l3?market=SOL-PERP")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["bids"], 3)
	assert.Len(t, body["asks"], 1)

	rec, body = get(t, s.Handler(), "/markets")
	require.Equal(t, http.StatusOK, rec.Code)
	markets := body["markets"].([]interface{})
	require.Len(t, markets, 1)
	m := markets[0].(map[string]interface{})
	assert.Equal(t, "SOL-PERP", m["market"])
	assert.Equal(t, float64(4), m["orders"])
	assert.Equal(t, "100", m["best_bid"])
	assert.Equal(t, "101", m["best_ask"])
}

func TestAPIServer_HealthAndStatus(t *testing.T) {
	hm := &fakeHealth{}
	s := NewAPIServer(0, newQuerier(t), nil, hm, 10, &mockLogger{})
	s.UpdateStatus("version", "test")

	rec, body := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "active", body["state"])

	hm.err = errors.New("stale order book")
	rec, body = get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	rec, body = get(t, s.Handler(), "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "Unhealthy: stale order book", body["dlob_subscriber"])
}

func TestAPIServer_UseWrapsRoutes(t *testing.T) {
	s := NewAPIServer(0, newQuerier(t), fakeNames{}, nil, 10, &mockLogger{})
	var order []string
	for _, name := range []string{"outer", "inner"} {
		s.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		})
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"outer", "inner"}, order)
}
