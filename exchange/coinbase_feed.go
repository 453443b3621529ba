package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/evdnx/golog"
	"github.com/evdnx/gowscl"
	"github.com/kylerberry/JACT/internal/logutil"
)

// CoinbaseChannelType represents WebSocket channel types
type CoinbaseChannelType string

const (
	ChannelHeartbeat CoinbaseChannelType = "heartbeat"
	ChannelTicker    CoinbaseChannelType = "ticker"
	ChannelUser      CoinbaseChannelType = "user"
)

const (
	coinbaseWSComponent                      = "coinbase_ws"
	coinbaseWSMessageText gowscl.MessageType = 1

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// CoinbaseSubscription represents a WebSocket subscription request
type CoinbaseSubscription struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
	Signature  string   `json:"signature,omitempty"`
	Key        string   `json:"key,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// CoinbaseFeed streams ticker, heartbeat and (when credentials are set)
// user channel events for one product and fans them out by event type.
type CoinbaseFeed struct {
	cfg       CoinbaseConfig
	productID string
	logger    *golog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	handlers map[string][]func(FeedEvent)

	connMu    sync.RWMutex
	ws        *gowscl.Client
	connected bool
}

// NewCoinbaseFeed creates a feed for productID. Call Connect to start it.
func NewCoinbaseFeed(cfg CoinbaseConfig, productID string) *CoinbaseFeed {
	return &CoinbaseFeed{
		cfg:       cfg,
		productID: productID,
		logger:    logutil.Default(),
		now:       time.Now,
		handlers:  make(map[string][]func(FeedEvent)),
	}
}

// Subscribe registers handler for eventType, or for every event with AllEvents.
func (f *CoinbaseFeed) Subscribe(eventType string, handler func(FeedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[eventType] = append(f.handlers[eventType], handler)
}

// Connect dials the websocket, replacing any previous connection. The
// subscription request is sent from the open callback so reconnects
// resubscribe.
func (f *CoinbaseFeed) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws := f.replaceClient()
	if err := ws.Connect(); err != nil {
		return NewNetworkError("ws_connect", "failed to connect to "+f.cfg.feedURL(), err, true)
	}
	return nil
}

func (f *CoinbaseFeed) replaceClient() *gowscl.Client {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.ws != nil {
		f.ws.Close()
	}
	f.connected = false
	f.ws = gowscl.NewClient(
		f.cfg.feedURL(),
		gowscl.WithLogger(f.logger),
		gowscl.WithOnMessage(func(data []byte, typ gowscl.MessageType) {
			if err := f.HandleMessage(data); err != nil {
				f.logger.Warn("websocket message handling failed",
					golog.String("component", coinbaseWSComponent),
					golog.String("error", err.Error()),
				)
			}
		}),
		gowscl.WithOnOpen(func() {
			f.setConnected(true)
			if err := f.subscribe(); err != nil {
				f.logger.Warn("failed to subscribe",
					golog.String("component", coinbaseWSComponent),
					golog.String("error", err.Error()),
				)
			}
		}),
		gowscl.WithOnClose(func() {
			f.setConnected(false)
		}),
		gowscl.WithOnError(func(err error) {
			f.logger.Warn("websocket error",
				golog.String("component", coinbaseWSComponent),
				golog.String("error", err.Error()),
			)
		}),
	)
	return f.ws
}

func (f *CoinbaseFeed) setConnected(state bool) {
	f.connMu.Lock()
	f.connected = state
	f.connMu.Unlock()
}

// IsConnected reports whether the underlying websocket is open.
func (f *CoinbaseFeed) IsConnected() bool {
	f.connMu.RLock()
	defer f.connMu.RUnlock()
	return f.connected
}

// Close shuts the websocket down.
func (f *CoinbaseFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.ws != nil {
		f.ws.Close()
		f.ws = nil
	}
	f.connected = false
	return nil
}

func (f *CoinbaseFeed) subscribe() error {
	data, err := json.Marshal(f.SubscriptionRequest())
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	f.connMu.RLock()
	ws := f.ws
	f.connMu.RUnlock()
	if ws == nil {
		return fmt.Errorf("websocket client not initialized")
	}
	return ws.Send(data, coinbaseWSMessageText)
}

// SubscriptionRequest builds the subscribe message. The user channel is
// requested, and the message signed, only when credentials are configured.
func (f *CoinbaseFeed) SubscriptionRequest() CoinbaseSubscription {
	sub := CoinbaseSubscription{
		Type:       "subscribe",
		ProductIDs: []string{f.productID},
		Channels:   []string{string(ChannelHeartbeat), string(ChannelTicker)},
	}
	if !f.cfg.HasCredentials() {
		return sub
	}
	timestamp := strconv.FormatInt(f.now().Unix(), 10)
	sub.Channels = append(sub.Channels, string(ChannelUser))
	sub.Key = f.cfg.APIKey
	sub.Passphrase = f.cfg.Passphrase
	sub.Timestamp = timestamp
	sub.Signature = signCoinbase(f.cfg.APISecret, timestamp+"GET"+"/users/self/verify")
	return sub
}

// HandleMessage decodes one websocket message and dispatches it.
func (f *CoinbaseFeed) HandleMessage(message []byte) error {
	var event FeedEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return NewParsingError("failed to parse feed message", err, message)
	}

	switch event.Type {
	case "":
		return NewParsingError("feed message without type", nil, message)
	case "error":
		var errorMsg struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		}
		_ = json.Unmarshal(message, &errorMsg)
		return fmt.Errorf("feed error: %s (%s)", errorMsg.Message, errorMsg.Reason)
	}
	if event.ProductID != "" && event.ProductID != f.productID {
		return nil
	}
	f.dispatch(event)
	return nil
}

func (f *CoinbaseFeed) dispatch(event FeedEvent) {
	f.mu.RLock()
	handlers := append(append([]func(FeedEvent){}, f.handlers[event.Type]...), f.handlers[AllEvents]...)
	f.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
