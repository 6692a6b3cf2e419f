// Package middleware provides HTTP middleware for the ops server.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/churchsync/chms-integration/internal/infrastructure/logger"
	"github.com/churchsync/chms-integration/internal/infrastructure/telemetry"
)

// MaxRequestIDLength caps request ids copied from headers into span attributes
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns otelgin followed by SpanEnricher. Register both with
// engine.Use(middleware.Tracing(cfg)...).
func Tracing(cfg TracingConfig) []gin.HandlerFunc {
	if !cfg.Enabled {
		return nil
	}
	return []gin.HandlerFunc{otelgin.Middleware(cfg.ServiceName), SpanEnricher()}
}

// SpanEnricher tags the active span with the request id and the integration
// id path parameter once the handler has run, and marks 5xx responses as
// errors. It must run inside the otelgin span.
func SpanEnricher() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if requestID := requestID(c); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}
		if id := c.Param("id"); id != "" {
			span.SetAttributes(attribute.String(telemetry.SpanAttrIntegrationID, id))
		}
		if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func requestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	id := c.GetHeader(logger.RequestIDHeader)
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}
