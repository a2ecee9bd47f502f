package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

const (
	StoreReasonNone                 = "none"
	StoreReasonNotFound             = "not_found"
	StoreReasonConflict             = "version_conflict"
	StoreReasonDeadlineExceeded     = "deadline_exceeded"
	StoreReasonCanceled             = "canceled"
	StoreReasonNetwork              = "network"
	StoreReasonTimeout              = "timeout"
	StoreReasonUniqueViolation      = "unique_violation"
	StoreReasonSerializationFailure = "serialization_failure"
	StoreReasonLockTimeout          = "lock_timeout"
	StoreReasonUnknown              = "unknown"
)

// StoreMetrics tracks document store latency and failures per collection.
type StoreMetrics struct {
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

var (
	storeMetricsOnce sync.Once
	storeMetrics     *StoreMetrics
)

// NewStoreMetrics returns the process-wide store metrics registered on the default registerer.
func NewStoreMetrics(cfg Config) *StoreMetrics {
	storeMetricsOnce.Do(func() {
		storeMetrics = newStoreMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return storeMetrics
}

func newStoreMetrics(registerer prometheus.Registerer, cfg Config) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "orgaccess_store_operation_duration_seconds",
		Help:        "Document store operation latency by collection and operation.",
		Buckets:     []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	}, []string{"collection", "operation"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "orgaccess_store_operation_errors_total",
		Help:        "Document store operation failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"collection", "operation", "reason"})

	registerer.MustRegister(duration, errs)

	return &StoreMetrics{duration: duration, errors: errs}
}

// Observe records one store call. Expected outcomes such as a missing
// document or a version conflict are not counted as errors.
func (m *StoreMetrics) Observe(collection, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	collection = strings.TrimSpace(collection)
	operation = strings.TrimSpace(operation)
	m.duration.WithLabelValues(collection, operation).Observe(elapsed.Seconds())

	switch reason := ClassifyStoreError(err); reason {
	case StoreReasonNone, StoreReasonNotFound, StoreReasonConflict:
	default:
		m.errors.WithLabelValues(collection, operation, reason).Inc()
	}
}

// ClassifyStoreError maps backend failures onto a bounded set of reasons.
func ClassifyStoreError(err error) string {
	if err == nil {
		return StoreReasonNone
	}
	switch {
	case errors.Is(err, docstore.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, mongo.ErrNoDocuments):
		return StoreReasonNotFound
	case errors.Is(err, docstore.ErrConflict):
		return StoreReasonConflict
	case errors.Is(err, context.DeadlineExceeded):
		return StoreReasonDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return StoreReasonCanceled
	case errors.Is(err, gorm.ErrDuplicatedKey), mongo.IsDuplicateKeyError(err):
		return StoreReasonUniqueViolation
	case mongo.IsTimeout(err):
		return StoreReasonTimeout
	case mongo.IsNetworkError(err):
		return StoreReasonNetwork
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return StoreReasonUniqueViolation
		case "40001", "40P01":
			return StoreReasonSerializationFailure
		case "55P03":
			return StoreReasonLockTimeout
		}
	}
	return StoreReasonUnknown
}
