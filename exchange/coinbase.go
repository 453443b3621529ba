package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/evdnx/golog"
	http_client "github.com/evdnx/gohttpcl"
	metrics "github.com/evdnx/gotrademetrics"
	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/models"
)

const (
	coinbaseRESTURL        = "https://api.exchange.coinbase.com"
	coinbaseFeedURL        = "wss://ws-feed.exchange.coinbase.com"
	coinbaseSandboxRESTURL = "https://api-public.sandbox.exchange.coinbase.com"
	coinbaseSandboxFeedURL = "wss://ws-feed-public.sandbox.exchange.coinbase.com"

	coinbaseHTTPTimeout = 10 * time.Second
	coinbaseComponent   = "coinbase_gateway"

	// coinbaseMaxCandles is the most candles one /candles request returns.
	coinbaseMaxCandles = 300
)

// CoinbaseConfig holds credentials and endpoints for Coinbase Exchange.
type CoinbaseConfig struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Sandbox    bool
	// RESTURL and FeedURL override the public endpoints.
	RESTURL string
	FeedURL string
}

func (c CoinbaseConfig) restURL() string {
	switch {
	case c.RESTURL != "":
		return strings.TrimRight(c.RESTURL, "/")
	case c.Sandbox:
		return coinbaseSandboxRESTURL
	default:
		return coinbaseRESTURL
	}
}

func (c CoinbaseConfig) feedURL() string {
	switch {
	case c.FeedURL != "":
		return c.FeedURL
	case c.Sandbox:
		return coinbaseSandboxFeedURL
	default:
		return coinbaseFeedURL
	}
}

// HasCredentials reports whether authenticated endpoints can be used.
func (c CoinbaseConfig) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

// CoinbaseGateway implements Gateway against the Coinbase Exchange REST API.
type CoinbaseGateway struct {
	cfg        CoinbaseConfig
	baseURL    string
	httpClient *coinbaseHTTPClient
	metrics    *metrics.Metrics
	logger     *golog.Logger
	now        func() time.Time
}

// NewCoinbaseGateway creates a REST gateway. m may be nil.
func NewCoinbaseGateway(cfg CoinbaseConfig, m *metrics.Metrics) *CoinbaseGateway {
	return &CoinbaseGateway{
		cfg:        cfg,
		baseURL:    cfg.restURL(),
		httpClient: createCoinbaseHTTPClient(m),
		metrics:    m,
		logger:     logutil.Default(),
		now:        time.Now,
	}
}

// createCoinbaseHTTPClient creates a configured HTTP client for Coinbase API
func createCoinbaseHTTPClient(m *metrics.Metrics) *coinbaseHTTPClient {
	opts := []http_client.Option{
		http_client.WithTimeout(coinbaseHTTPTimeout),
		http_client.WithMaxRetries(5),
		http_client.WithMinBackoff(300 * time.Millisecond),
		http_client.WithMaxBackoff(20 * time.Second),
		http_client.WithBackoffFactor(2.5),
		http_client.WithBackoffStrategy(http_client.BackoffExponential),
		http_client.WithRetryBudget(0.2, time.Minute),
		http_client.WithDefaultHeader("User-Agent", "JACT/1.0"),
	}
	if collector := newHTTPMetricsCollector(m, "Coinbase"); collector != nil {
		opts = append(opts, http_client.WithMetrics(collector))
	}
	return &coinbaseHTTPClient{
		client:  http_client.New(opts...),
		timeout: coinbaseHTTPTimeout,
	}
}

type coinbaseHTTPClient struct {
	client  *http_client.Client
	timeout time.Duration
}

// transportError marks failures that happened before an HTTP status was read.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (c *coinbaseHTTPClient) request(ctx context.Context, method, target string, body []byte, headers map[string]string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("http client not initialized")
	}
	options := make([]http_client.ReqOption, 0, len(headers))
	for k, v := range headers {
		options = append(options, http_client.WithHeader(k, v))
	}

	var (
		resp *http.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = c.client.Get(ctx, target, c.timeout, nil, options...)
	case http.MethodPost:
		resp, err = c.client.Post(ctx, target, bytes.NewReader(body), c.timeout, nil, options...)
	case http.MethodDelete:
		resp, err = c.client.Delete(ctx, target, c.timeout, nil, options...)
	default:
		return nil, fmt.Errorf("unsupported HTTP method %s", method)
	}
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &transportError{err: readErr}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, NewExchangeHTTPError(resp.StatusCode, payload, errorMessage(payload))
	}
	return payload, nil
}

// errorMessage extracts Coinbase's {"message": "..."} body, falling back to
// the raw payload.
func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(payload))
}

// signedHeaders returns the CB-ACCESS headers for one request.
func (g *CoinbaseGateway) signedHeaders(method, path, body string) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if !g.cfg.HasCredentials() {
		return headers
	}
	timestamp := strconv.FormatInt(g.now().Unix(), 10)
	headers["CB-ACCESS-KEY"] = g.cfg.APIKey
	headers["CB-ACCESS-SIGN"] = signCoinbase(g.cfg.APISecret, timestamp+method+path+body)
	headers["CB-ACCESS-TIMESTAMP"] = timestamp
	headers["CB-ACCESS-PASSPHRASE"] = g.cfg.Passphrase
	return headers
}

// signCoinbase creates the base64 HMAC-SHA256 signature of message.
func signCoinbase(secret, message string) string {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key = []byte(secret)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (g *CoinbaseGateway) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	headers := g.signedHeaders(method, requestPath, string(body))
	return g.httpClient.request(ctx, method, g.baseURL+requestPath, body, headers)
}

// GetName returns the exchange name.
func (g *CoinbaseGateway) GetName() string { return "Coinbase" }

type coinbaseOrder struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	Status        string `json:"status"`
	Settled       bool   `json:"settled"`
	CreatedAt     string `json:"created_at"`
	Message       string `json:"message"`
}

func orderPayload(req OrderRequest) map[string]interface{} {
	payload := map[string]interface{}{
		"product_id": req.ProductID,
		"side":       strings.ToLower(req.Side.String()),
		"type":       strings.ToLower(req.Type.String()),
		"size":       FormatAmount(req.Size),
	}
	if req.ClientOID != "" {
		payload["client_oid"] = req.ClientOID
	}
	if req.Type == OrderTypeLimit {
		payload["price"] = FormatAmount(req.Price)
		if req.PostOnly {
			payload["post_only"] = true
		}
		if req.TimeInForce != "" {
			payload["time_in_force"] = string(req.TimeInForce)
		}
		if req.TimeInForce == TimeInForceGTT && req.CancelAfter != "" {
			payload["cancel_after"] = req.CancelAfter
		}
	}
	return payload
}

// PlaceOrder submits an order. Exchange refusals are returned as
// OrderRejected, transport failures as NetworkError.
func (g *CoinbaseGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if !req.Side.Valid() {
		return nil, NewOrderRejected("invalid order side "+req.Side.String(), nil)
	}
	if req.Size <= 0 {
		return nil, NewOrderRejected("order size must be positive", nil)
	}
	body, err := json.Marshal(orderPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	response, err := g.do(ctx, http.MethodPost, "/orders", nil, body)
	if err != nil {
		g.logger.Warn("order placement failed",
			golog.String("component", coinbaseComponent),
			golog.String("side", req.Side.String()),
			golog.String("error", err.Error()),
		)
		return nil, classifyOrderError(err)
	}

	var order coinbaseOrder
	if err := json.Unmarshal(response, &order); err != nil {
		return nil, NewParsingError("failed to parse order response", err, response)
	}
	if order.Message != "" || order.ID == "" {
		return nil, NewOrderRejected(order.Message, nil)
	}
	return order.ack()
}

func (o coinbaseOrder) ack() (*OrderAck, error) {
	ack := &OrderAck{
		OrderID: o.ID,
		Status:  o.Status,
		Side:    OrderSide(o.Side),
		Settled: o.Settled,
	}
	var err error
	for _, f := range []struct {
		dst *float64
		src string
	}{
		{&ack.Size, o.Size},
		{&ack.Price, o.Price},
		{&ack.FilledSize, o.FilledSize},
		{&ack.ExecutedValue, o.ExecutedValue},
	} {
		if *f.dst, err = ParseAmount(f.src); err != nil {
			return nil, NewParsingError("invalid numeric field in order response", err, nil)
		}
	}
	if o.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, o.CreatedAt); err == nil {
			ack.CreatedAt = t
		}
	}
	return ack, nil
}

func classifyOrderError(err error) error {
	var transport *transportError
	if errors.As(err, &transport) {
		return NewNetworkError("place_order", "order request did not reach the exchange", err, true)
	}
	var exErr *GatewayError
	if errors.As(err, &exErr) {
		return NewOrderRejected(exErr.Message, err)
	}
	return NewOrderRejected(err.Error(), err)
}

// CancelOrder cancels a resting order. Any failure is a CancelFailed error.
func (g *CoinbaseGateway) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return NewCancelFailed(orderID, "missing order id", nil)
	}
	if _, err := g.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil); err != nil {
		msg := err.Error()
		var exErr *GatewayError
		if errors.As(err, &exErr) {
			msg = exErr.Message
		}
		return NewCancelFailed(orderID, msg, err)
	}
	return nil
}

// GetBalances returns available and held funds per currency.
func (g *CoinbaseGateway) GetBalances(ctx context.Context) (map[string]*Balance, error) {
	response, err := g.do(ctx, http.MethodGet, "/accounts", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	var accounts []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Hold      string `json:"hold"`
	}
	if err := json.Unmarshal(response, &accounts); err != nil {
		return nil, NewParsingError("failed to parse accounts", err, response)
	}

	balances := make(map[string]*Balance, len(accounts))
	for _, account := range accounts {
		balances[account.Currency] = &Balance{
			Asset:     account.Currency,
			Available: account.Available,
			Hold:      account.Hold,
		}
	}
	return balances, nil
}

// GetCandles returns candles for [start, end] in ascending order. Coinbase
// answers with at most 300 rows of [time, low, high, open, close, volume],
// newest first; callers page longer ranges.
func (g *CoinbaseGateway) GetCandles(ctx context.Context, productID string, granularity time.Duration, start, end time.Time) ([]models.Candle, error) {
	seconds := int64(granularity / time.Second)
	if seconds <= 0 {
		return nil, fmt.Errorf("invalid granularity %s", granularity)
	}
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", start.UTC().Format(time.RFC3339))
	}
	if !end.IsZero() {
		params.Set("end", end.UTC().Format(time.RFC3339))
	}
	params.Set("granularity", strconv.FormatInt(seconds, 10))

	response, err := g.do(ctx, http.MethodGet, "/products/"+url.PathEscape(productID)+"/candles", params, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}

	var rows [][]float64
	if err := json.Unmarshal(response, &rows); err != nil {
		return nil, NewParsingError("failed to parse candles", err, response)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, NewParsingError("invalid candle data format", nil, response)
		}
		candles = append(candles, models.Candle{
			Time:   int64(row[0]),
			Low:    row[1],
			High:   row[2],
			Open:   row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

// MaxCandlesPerRequest is the page size callers should use with GetCandles.
func (g *CoinbaseGateway) MaxCandlesPerRequest() int {
	return coinbaseMaxCandles
}
