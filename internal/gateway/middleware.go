package gateway

import (
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/llmgate/llmgate/internal/auth"
	"github.com/llmgate/llmgate/internal/observability"
)

// RequestIDHeader is the request correlation header.
const RequestIDHeader = "X-Request-ID"

// identityKey is the gin context key holding the authenticated caller.
const identityKey = "identity"

// requestIDMiddleware attaches a correlation id to the request context
// and response.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := observability.ContextWithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// loggingMiddleware logs one line per completed request, leveled by
// status.
func loggingMiddleware(logger observability.Logger, metricsPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/healthz" || path == "/readyz" || (metricsPath != "" && path == metricsPath) {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("method", c.Request.Method),
			observability.String("path", path),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
		}
		if requestID, ok := observability.RequestIDFromContext(c.Request.Context()); ok {
			fields = append(fields, observability.String("request_id", requestID))
		}
		if identity := identityFrom(c); identity != nil {
			fields = append(fields, observability.String("subject", identity.Subject))
		}

		switch {
		case status >= 500:
			logger.Error("request completed", fields...)
		case status >= 400:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					observability.Any("error", err),
					observability.String("path", c.Request.URL.Path),
					observability.String("stack", string(debug.Stack())),
				)
				abortWith(c, 500, reasonInternal, "internal error")
			}
		}()
		c.Next()
	}
}

// metricsMiddleware records request counters and latency.
func metricsMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// tracingMiddleware opens a server span around each request.
func tracingMiddleware(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(serviceName)
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.target", c.Request.URL.Path),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// authMiddleware authenticates the request and resolves roles. The
// identity is attached to both the gin context and the request context.
func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := g.authenticator.Authenticate(c.Request)
		if err != nil {
			writeError(c, err)
			return
		}

		roles := g.roles.Resolve(identity.Claims)
		identity = identity.WithRoles(roles)

		c.Set(identityKey, identity)
		ctx := auth.ContextWithIdentity(c.Request.Context(), identity)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorizeMiddleware gates one action.
func (g *Gateway) authorizeMiddleware(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		if identity == nil {
			abortWith(c, 500, reasonInternal, "no identity on request")
			return
		}
		if err := g.access.Authorize(identity.Roles, action); err != nil {
			writeError(c, err)
			return
		}
		c.Next()
	}
}

// identityFrom returns the authenticated identity, or nil before the
// auth middleware ran.
func identityFrom(c *gin.Context) *auth.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
