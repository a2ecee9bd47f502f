package tracing

import (
	"context"
	"errors"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var errStoreFailure = errors.New("store_failure")

var allowedSpanKeys = map[attribute.Key]struct{}{
	"request_id":              {},
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"membership.operation":    {},
	"membership.outcome":      {},
	"membership.org_id":       {},
	"membership.user_id":      {},
	"docstore.collection":     {},
	"docstore.operation":      {},
}

// ExtractContext pulls upstream trace context out of carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry user supplied data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; ok {
			out = append(out, attr)
		}
	}
	return out
}

// SafeError returns an error suitable for span recording. Backend errors
// are replaced so driver messages never reach the trace pipeline.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	if docstore.IsStoreError(err) {
		return errStoreFailure
	}
	return err
}
