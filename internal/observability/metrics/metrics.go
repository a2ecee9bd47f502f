package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	membershipOps   metric.Int64Counter
	conflictRetries metric.Int64Counter
	partialWrites   metric.Int64Counter
	lockContention  metric.Int64Counter
	entitiesCreated metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "orgaccess"
	}
	meter := provider.Meter(name)

	membershipOps, err := meter.Int64Counter("orgaccess_membership_operations_total")
	if err != nil {
		return nil, err
	}
	conflictRetries, err := meter.Int64Counter("orgaccess_membership_conflict_retries_total")
	if err != nil {
		return nil, err
	}
	partialWrites, err := meter.Int64Counter("orgaccess_membership_partial_writes_total")
	if err != nil {
		return nil, err
	}
	lockContention, err := meter.Int64Counter("orgaccess_membership_lock_contention_total")
	if err != nil {
		return nil, err
	}
	entitiesCreated, err := meter.Int64Counter("orgaccess_entities_created_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		membershipOps:   membershipOps,
		conflictRetries: conflictRetries,
		partialWrites:   partialWrites,
		lockContention:  lockContention,
		entitiesCreated: entitiesCreated,
	}, nil
}

// RecordMembershipOperation counts membership operations by outcome.
func (m *Metrics) RecordMembershipOperation(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.membershipOps.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConflictRetry counts version conflicts that forced a re-read.
func (m *Metrics) RecordConflictRetry(ctx context.Context, operation, collection string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("collection", strings.TrimSpace(collection)),
	)
	m.conflictRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPartialWrite counts operations that left only one side written.
func (m *Metrics) RecordPartialWrite(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.partialWrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLockContention counts lock acquisitions that timed out.
func (m *Metrics) RecordLockContention(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.lockContention.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEntityCreated counts created users and organizations.
func (m *Metrics) RecordEntityCreated(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("collection", strings.TrimSpace(collection)))
	m.entitiesCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":   {},
	"outcome":     {},
	"collection":  {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
