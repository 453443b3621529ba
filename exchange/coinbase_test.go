package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "c2VjcmV0LWtleQ==" // base64("secret-key")

func newTestGateway(t *testing.T, handler http.HandlerFunc) *CoinbaseGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCoinbaseGateway(CoinbaseConfig{
		APIKey:     "key",
		APISecret:  testSecret,
		Passphrase: "pass",
		RESTURL:    srv.URL,
	}, nil)
}

func TestCoinbasePlaceOrderSignsAndEncodes(t *testing.T) {
	var payload map[string]interface{}
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))

		ts := r.Header.Get("CB-ACCESS-TIMESTAMP")
		assert.Equal(t, "key", r.Header.Get("CB-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("CB-ACCESS-PASSPHRASE"))
		assert.Equal(t, signCoinbase(testSecret, ts+"POST"+"/orders"+string(body)), r.Header.Get("CB-ACCESS-SIGN"))

		_, _ = w.Write([]byte(`{"id":"ord-1","client_oid":"c-1","side":"buy","type":"limit","price":"100.50","size":"0.5","filled_size":"0","executed_value":"0","status":"pending","settled":false,"created_at":"2024-01-02T03:04:05.000Z"}`))
	})

	ack, err := gw.PlaceOrder(context.Background(), OrderRequest{
		ClientOID:   "c-1",
		ProductID:   "BTC-USD",
		Side:        OrderSideBuy,
		Type:        OrderTypeLimit,
		Size:        0.5,
		Price:       100.5,
		PostOnly:    true,
		TimeInForce: TimeInForceGTT,
		CancelAfter: "min",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.OrderID)
	assert.Equal(t, "pending", ack.Status)
	assert.InDelta(t, 100.5, ack.Price, 1e-9)
	assert.InDelta(t, 0.5, ack.Size, 1e-9)

	assert.Equal(t, "c-1", payload["client_oid"])
	assert.Equal(t, "BTC-USD", payload["product_id"])
	assert.Equal(t, "buy", payload["side"])
	assert.Equal(t, "limit", payload["type"])
	assert.Equal(t, "100.5", payload["price"])
	assert.Equal(t, "0.5", payload["size"])
	assert.Equal(t, true, payload["post_only"])
	assert.Equal(t, "GTT", payload["time_in_force"])
	assert.Equal(t, "min", payload["cancel_after"])
}

func TestCoinbaseMarketOrderOmitsLimitFields(t *testing.T) {
	payload := orderPayload(OrderRequest{
		ProductID: "BTC-USD",
		Side:      OrderSideSell,
		Type:      OrderTypeMarket,
		Size:      1.25,
		Price:     99,
	})
	assert.Equal(t, "market", payload["type"])
	assert.Equal(t, "1.25", payload["size"])
	assert.NotContains(t, payload, "price")
	assert.NotContains(t, payload, "post_only")
	assert.NotContains(t, payload, "client_oid")
}

func TestCoinbasePlaceOrderRejected(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Insufficient funds"}`))
	})

	_, err := gw.PlaceOrder(context.Background(), OrderRequest{
		ProductID: "BTC-USD", Side: OrderSideBuy, Type: OrderTypeLimit, Size: 1, Price: 1,
	})
	require.Error(t, err)
	assert.True(t, IsOrderRejected(err))
	assert.True(t, errors.Is(err, ErrOrderRejected))
	assert.Contains(t, err.Error(), "Insufficient funds")
}

func TestCoinbasePlaceOrderValidatesLocally(t *testing.T) {
	gw := NewCoinbaseGateway(CoinbaseConfig{RESTURL: "http://127.0.0.1:1"}, nil)

	_, err := gw.PlaceOrder(context.Background(), OrderRequest{Side: "hold", Size: 1})
	assert.True(t, IsOrderRejected(err))

	_, err = gw.PlaceOrder(context.Background(), OrderRequest{Side: OrderSideBuy, Size: 0})
	assert.True(t, IsOrderRejected(err))
}

func TestCoinbasePlaceOrderTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	gw := NewCoinbaseGateway(CoinbaseConfig{RESTURL: url}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := gw.PlaceOrder(ctx, OrderRequest{
		ProductID: "BTC-USD", Side: OrderSideBuy, Type: OrderTypeLimit, Size: 1, Price: 1,
	})
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.False(t, IsOrderRejected(err))
}

func TestCoinbaseCancelFailure(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/orders/ord-9", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"order not found"}`))
	})

	err := gw.CancelOrder(context.Background(), "ord-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelFailed))
	assert.Contains(t, err.Error(), "order not found")

	assert.True(t, errors.Is(gw.CancelOrder(context.Background(), ""), ErrCancelFailed))
}

func TestCoinbaseGetBalances(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		_, _ = w.Write([]byte(`[{"currency":"USD","available":"250.10","hold":"0"},{"currency":"BTC","available":"0.5","hold":"0.1"}]`))
	})

	balances, err := gw.GetBalances(context.Background())
	require.NoError(t, err)
	require.Contains(t, balances, "USD")
	assert.Equal(t, "250.10", balances["USD"].Available)
	assert.Equal(t, "0.1", balances["BTC"].Hold)
}

func TestCoinbaseGetCandlesAscending(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "900", r.URL.Query().Get("granularity"))
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("start"))
		_, _ = w.Write([]byte(`[[1704068100,9,12,10,11,5],[1704067200,8,11,9,10,3]]`))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles, err := gw.GetCandles(context.Background(), "BTC-USD", 15*time.Minute, start, start.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1704067200), candles[0].Time)
	assert.Equal(t, 9.0, candles[0].Open)
	assert.Equal(t, 10.0, candles[0].Close)
	assert.Equal(t, 8.0, candles[0].Low)
	assert.Equal(t, 11.0, candles[1].Close)
}

func TestCoinbaseGetCandlesMalformedRow(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1704068100,9,12]]`))
	})

	_, err := gw.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Time{}, time.Time{})
	require.Error(t, err)
	var exErr *GatewayError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, ErrorTypeParsing, exErr.Type)
}

// Integration-style check that the public candles endpoint responds.
func TestCoinbaseGetCandles_BTC_USD(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live Coinbase call in short mode")
	}

	gw := NewCoinbaseGateway(CoinbaseConfig{}, nil)
	end := time.Now().UTC()
	candles, err := gw.GetCandles(context.Background(), "BTC-USD", time.Hour, end.Add(-24*time.Hour), end)
	if err != nil {
		t.Fatalf("failed to fetch BTC-USD candles: %v", err)
	}
	if len(candles) == 0 {
		t.Fatal("no candles returned")
	}
	if candles[len(candles)-1].Close <= 0 {
		t.Fatalf("expected close > 0, got %f", candles[len(candles)-1].Close)
	}
}

func TestEndpointLabelCollapsesOrderIDs(t *testing.T) {
	assert.Equal(t, "DELETE api.exchange.coinbase.com/orders/:id",
		endpointLabel("delete", "https://api.exchange.coinbase.com/orders/abc-123"))
	assert.Equal(t, "GET api.exchange.coinbase.com/products/BTC-USD/candles",
		endpointLabel("GET", "https://api.exchange.coinbase.com/products/BTC-USD/candles?granularity=60"))
}
