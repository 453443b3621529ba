package exchange

import (
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	metrics "github.com/evdnx/gotrademetrics"
)

// httpMetricsCollector adapts gotrademetrics to gohttpcl's MetricsCollector
// interface. Labels drop the query string so candle paging does not create
// one series per time range.
type httpMetricsCollector struct {
	metrics *metrics.Metrics
	service string
}

func newHTTPMetricsCollector(m *metrics.Metrics, service string) *httpMetricsCollector {
	if m == nil {
		return nil
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "http_client"
	}
	return &httpMetricsCollector{metrics: m, service: service}
}

func (c *httpMetricsCollector) IncRequests(method, target string) {
	if c == nil {
		return
	}
	c.metrics.RecordAPIRequest(c.service, endpointLabel(method, target))
}

func (c *httpMetricsCollector) IncRetries(method, target string, attempt int) {
	if c == nil {
		return
	}
	if attempt == 1 {
		c.metrics.RecordRetryRequest()
	}
	c.metrics.RecordRetryAttempt()
}

func (c *httpMetricsCollector) IncFailures(method, target string, statusCode int) {
	if c == nil {
		return
	}
	c.metrics.RecordAPIError(c.service, failureReason(statusCode))
}

func (c *httpMetricsCollector) ObserveLatency(method, target string, duration time.Duration) {
	if c == nil {
		return
	}
	label := endpointLabel(method, target)
	c.metrics.RecordAPILatency(c.service, label, duration.Seconds())
	c.metrics.RecordAPIRequestDuration(c.service, label, duration.Seconds())
}

func failureReason(statusCode int) metrics.Reason {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return metrics.ReasonRateLimit
	case statusCode >= http.StatusInternalServerError:
		return metrics.ReasonInternal
	case statusCode <= 0:
		return metrics.ReasonNetworkError
	default:
		return metrics.ReasonAPIError
	}
}

// endpointLabel renders "METHOD host/path" with order ids collapsed.
func endpointLabel(method, raw string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	path := raw
	if u, err := neturl.Parse(raw); err == nil {
		path = u.Host + u.EscapedPath()
	}
	if i := strings.Index(path, "/orders/"); i >= 0 {
		path = path[:i] + "/orders/:id"
	}
	if method == "" {
		return path
	}
	return method + " " + path
}
