package api

import (
	"time"

	"github.com/evdnx/golog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Set(RequestIDContextKey, requestID)
		c.Next()
	}
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			golog.String("component", apiComponent),
			golog.String("request_id", c.GetString(RequestIDContextKey)),
			golog.String("method", c.Request.Method),
			golog.String("path", c.Request.URL.Path),
			golog.Int("status", c.Writer.Status()),
			golog.String("latency", time.Since(start).String()),
		)
	}
}
