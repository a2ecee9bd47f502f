package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/orgaccess/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const unmatchedRoute = "unknown"

// GinMiddleware starts a server span per request, named after the matched
// route. Requests addressed to an organization tag the span with the
// organization and user ids from the path or query, and carry the same pair
// on the request context for the loggers further down.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("orgaccess/http")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		}
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			ctx = withRequestBaggage(ctx, requestID)
			attrs = append(attrs, attribute.String("request_id", requestID))
		}
		if orgID, userID := membershipTarget(c, route); orgID != "" {
			ctx = obscontext.WithMembership(ctx, orgID, userID)
			attrs = append(attrs, attribute.String("membership.org_id", orgID))
			if userID != "" {
				attrs = append(attrs, attribute.String("membership.user_id", userID))
			}
		}

		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method)+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(SafeAttributes(attrs...)...),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(SafeAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)
		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, "request error")
	}
}

// membershipTarget returns the organization and user a request under
// /organizations/:id addresses. AddMember names its user in the query.
func membershipTarget(c *gin.Context, route string) (orgID, userID string) {
	if !strings.HasPrefix(route, "/organizations/:id") {
		return "", ""
	}
	orgID = strings.TrimSpace(c.Param("id"))
	userID = strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		userID = strings.TrimSpace(c.Query("user_id"))
	}
	return orgID, userID
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
