// Package middleware wires request-level observability into the gin router.
package middleware

import (
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moneta/money-transfer/internal/telemetry"
)

// Account ids are high-cardinality; collapse them so metric labels and span
// names stay bounded.
var accountIDPattern = regexp.MustCompile(`/accounts/[^/]+`)

func routeLabel(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return accountIDPattern.ReplaceAllString(path, "/accounts/{account_id}")
}

// Metrics records request counts and latencies per method and route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := routeLabel(c)

		start := time.Now()
		c.Next()

		telemetry.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status()),
		).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, route,
		).Observe(time.Since(start).Seconds())
	}
}

// Tracing opens a server span per request and tags it with the route,
// status, and duration.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		if telemetry.Tracer == nil {
			c.Next()
			return
		}

		route := routeLabel(c)
		ctx, span := telemetry.Tracer.Start(c.Request.Context(), "HTTP "+c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Float64("http.duration_ms", float64(time.Since(start).Milliseconds())),
		)
		if status >= 400 {
			span.SetStatus(codes.Error, "HTTP error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
