// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// RequestIDKey holds the correlation ID of the request in the gin context.
const RequestIDKey = "requestID"

// RequestIDHeader is honoured when present and echoed on every response.
const RequestIDHeader = "X-Request-ID"

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestID returns the correlation ID assigned by RequestContext, or "".
func RequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(RequestIDKey)
}

// RequestContext assigns a correlation ID and stores a request-scoped logger
// carrying it, the method and the path.
func RequestContext(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With("requestID", id, "method", c.Request.Method, "path", c.Request.URL.Path))
		c.Next()
	}
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the caller
// fields set by authentication (username, role). Returns a new sugared logger.
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if username := c.GetString("username"); username != "" {
		reqLogger = reqLogger.With("username", username)
	}
	if role := c.GetString("role"); role != "" {
		reqLogger = reqLogger.With("role", role)
	}
	return reqLogger
}

// NewRequestsLogger builds the dedicated logger behind the per-request log
// ("requests" logger). outputPaths accepts anything zap does: file paths,
// "stdout" or "stderr". An empty list disables it.
func NewRequestsLogger(outputPaths []string) (*zap.Logger, error) {
	if len(outputPaths) == 0 {
		return zap.NewNop(), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = outputPaths
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building requests logger: %w", err)
	}
	return l.Named("requests"), nil
}

// RequestsLog writes one line per request with the user, method and path.
// Anonymous callers are logged as "anonymous".
func RequestsLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.GetString("username")
		if user == "" {
			user = "anonymous"
		}
		log.Info("request",
			zap.String("user", user),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("requestID", RequestID(c)))
		c.Next()
	}
}
