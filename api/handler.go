package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/evdnx/golog"
	"github.com/gin-gonic/gin"

	"github.com/kylerberry/JACT/exchange"
)

// HealthCheck handles GET /health. It answers 503 once the feed is down.
func (s *Server) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.deps.Health != nil {
		health := s.deps.Health.Health()
		body["feed"] = health
		if health.Status == exchange.FeedStatusDown {
			body["status"] = "DOWN"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// GetConfig handles GET /config with credentials removed.
func (s *Server) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Config.SafeView())
}

// PatchConfig handles PATCH /config. The body maps dotted keys to values;
// keys are applied in sorted order and each is validated before commit.
func (s *Server) PatchConfig(c *gin.Context) {
	var changes map[string]interface{}
	if err := c.ShouldBindJSON(&changes); err != nil {
		s.handleError(c, err, http.StatusBadRequest, "body must be a JSON object of key/value pairs")
		return
	}
	if len(changes) == 0 {
		s.handleError(c, fmt.Errorf("empty update"), http.StatusBadRequest, "no keys to update")
		return
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	applied := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := s.deps.Config.Set(key, changes[key]); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   err.Error(),
				"key":     key,
				"applied": applied,
			})
			return
		}
		applied = append(applied, key)
	}
	c.JSON(http.StatusOK, s.deps.Config.SafeView())
}

// GetStats handles GET /stats.
func (s *Server) GetStats(c *gin.Context) {
	body := gin.H{"ledger": s.deps.Stats.Info()}
	if s.deps.Snapshot != nil {
		body["controller"] = s.deps.Snapshot.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// handleError logs the error and sends appropriate HTTP response
func (s *Server) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	s.logger.Warn("API error",
		golog.String("component", apiComponent),
		golog.String("request_id", requestID),
		golog.String("method", c.Request.Method),
		golog.String("path", c.Request.URL.Path),
		golog.String("error", err.Error()),
		golog.Int("status_code", statusCode),
	)
	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}
