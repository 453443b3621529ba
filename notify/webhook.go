// Package notify posts trading summaries to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evdnx/golog"
	http_client "github.com/evdnx/gohttpcl"

	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/ledger"
)

const (
	webhookTimeout = 10 * time.Second
	colorWin       = 0x2ecc71
	colorLoss      = 0xe74c3c
	colorNeutral   = 0x95a5a6
)

// WebhookNotifier sends a Discord style embed for every resolved cycle.
type WebhookNotifier struct {
	url     string
	product string
	client  *http_client.Client
	timeout time.Duration
	logger  *golog.Logger
	now     func() time.Time
}

// NewWebhookNotifier creates a notifier posting to url. An empty url
// disables it.
func NewWebhookNotifier(url, product string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		product: product,
		client: http_client.New(
			http_client.WithTimeout(webhookTimeout),
			http_client.WithMaxRetries(2),
			http_client.WithMinBackoff(500*time.Millisecond),
			http_client.WithMaxBackoff(5*time.Second),
			http_client.WithBackoffStrategy(http_client.BackoffExponential),
			http_client.WithDefaultHeader("User-Agent", "JACT/1.0"),
		),
		timeout: webhookTimeout,
		logger:  logutil.Default(),
		now:     time.Now,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *WebhookNotifier) Enabled() bool {
	return n.url != ""
}

type embed struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Footer      map[string]string `json:"footer"`
	Timestamp   string            `json:"timestamp"`
}

type webhookPayload struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

// Notify posts summary.
func (n *WebhookNotifier) Notify(summary ledger.Summary) error {
	if !n.Enabled() {
		return nil
	}

	body, err := json.Marshal(n.payload(summary))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	resp, err := n.client.Post(ctx, n.url, bytes.NewReader(body), n.timeout, nil,
		http_client.WithHeader("Content-Type", "application/json"))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		n.logger.Warn("webhook rejected notification",
			golog.String("component", "notifier"),
			golog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) payload(s ledger.Summary) webhookPayload {
	color := colorNeutral
	title := n.product + " cycle complete"
	if s.NetProfit != nil {
		if s.NetProfit.USD >= 0 {
			color = colorWin
		} else {
			color = colorLoss
		}
	}
	return webhookPayload{
		Content: title,
		Embeds: []embed{{
			Title:       title,
			Description: Describe(s),
			Color:       color,
			Footer:      map[string]string{"text": "JACT"},
			Timestamp:   n.now().UTC().Format(time.RFC3339),
		}},
	}
}

// Describe renders summary as short text lines.
func Describe(s ledger.Summary) string {
	var b strings.Builder
	if s.LastTrade != nil {
		fmt.Fprintf(&b, "Last trade: %s %.8g @ %.2f\n", s.LastTrade.Side, s.LastTrade.Size, s.LastTrade.Price)
	}
	fmt.Fprintf(&b, "Trades: %d, round trips: %d (%d W / %d L)\n", s.TotalTrades, s.RoundTrips, s.Wins, s.Losses)
	if s.AvgWin != nil {
		fmt.Fprintf(&b, "Avg win: $%.2f (%.2f%%)\n", s.AvgWin.USD, s.AvgWin.Percent)
	}
	if s.AvgLoss != nil {
		fmt.Fprintf(&b, "Avg loss: $%.2f (%.2f%%)\n", s.AvgLoss.USD, s.AvgLoss.Percent)
	}
	if s.NetProfit != nil {
		fmt.Fprintf(&b, "Net: $%.2f (%.2f%%)\n", s.NetProfit.USD, s.NetProfit.Percent)
	}
	if s.Slippage != nil {
		fmt.Fprintf(&b, "Slippage: %.4f%%\n", *s.Slippage)
	}
	fmt.Fprintf(&b, "Open position: %.8g", s.OpenPosition)
	return b.String()
}
