package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/referralledger/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request. Spans on webhook and
// admin routes also carry the provider, the acting credential and the
// broker or referral id from the path.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("referralledger/http")
	return func(c *gin.Context) {
		method := strings.ToUpper(c.Request.Method)
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		attrs = append(attrs, routeAttributes(c, route)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

func withRequestBaggage(ctx context.Context, requestID string) context.Context {
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func routeAttributes(c *gin.Context, route string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if provider := c.Param("provider"); provider != "" {
		attrs = append(attrs, attribute.String("payment.provider", provider))
	}
	if actorType, actorID := obscontext.ActorFromContext(c.Request.Context()); actorType != "" {
		attrs = append(attrs,
			attribute.String("actor.type", actorType),
			attribute.String("actor.id", actorID),
		)
	}
	if id := c.Param("id"); id != "" {
		switch {
		case strings.HasPrefix(route, "/admin/brokers/"):
			attrs = append(attrs, attribute.String("broker.id", id))
		case strings.HasPrefix(route, "/admin/referrals/"):
			attrs = append(attrs, attribute.String("referral.id", id))
		}
	}
	return attrs
}
