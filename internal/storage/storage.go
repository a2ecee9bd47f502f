// Package storage owns the process-wide document store handle and hands
// out typed collections bound to it.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/orgaccess/internal/ident"
	"github.com/smallbiznis/orgaccess/internal/observability/metrics"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"github.com/smallbiznis/orgaccess/pkg/docstore/mongostore"
	"github.com/smallbiznis/orgaccess/pkg/docstore/sqlstore"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// Backend is one connected store. Exactly one of Mongo or SQL is set.
type Backend struct {
	Kind    string
	Mongo   *mongo.Database
	SQL     *gorm.DB
	IDs     ident.Scheme
	Metrics *metrics.StoreMetrics
}

// NewSQLBackend wraps an open gorm connection, typically in tests.
func NewSQLBackend(kind string, conn *gorm.DB, ids ident.Scheme) *Backend {
	return &Backend{Kind: kind, SQL: conn, IDs: ids}
}

// Open returns the collection called name on b.
func Open[T any, PT docstore.DocumentPtr[T]](b *Backend, name string) docstore.Collection[T] {
	var coll docstore.Collection[T]
	if b.Mongo != nil {
		coll = mongostore.New[T, PT](b.Mongo, name)
	} else {
		coll = sqlstore.New[T, PT](b.SQL, name, b.IDs.New)
	}
	if b.Metrics != nil {
		coll = &instrumented[T]{next: coll, metrics: b.Metrics}
	}
	return coll
}

// Ping checks the backend is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	switch {
	case b == nil:
		return errors.New("storage backend not configured")
	case b.Mongo != nil:
		return b.Mongo.Client().Ping(ctx, nil)
	case b.SQL != nil:
		sqlDB, err := b.SQL.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	default:
		return errors.New("storage backend not configured")
	}
}

type instrumented[T any] struct {
	next    docstore.Collection[T]
	metrics *metrics.StoreMetrics
}

func (c *instrumented[T]) observe(op string, start time.Time, err error) {
	c.metrics.Observe(c.next.Name(), op, time.Since(start), err)
}

func (c *instrumented[T]) Name() string { return c.next.Name() }

func (c *instrumented[T]) FindByID(ctx context.Context, id string) (*T, error) {
	start := time.Now()
	doc, err := c.next.FindByID(ctx, id)
	c.observe("find_by_id", start, err)
	return doc, err
}

func (c *instrumented[T]) Find(ctx context.Context, filter docstore.Filter, page docstore.Page) ([]*T, error) {
	start := time.Now()
	docs, err := c.next.Find(ctx, filter, page)
	c.observe("find", start, err)
	return docs, err
}

func (c *instrumented[T]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	start := time.Now()
	count, err := c.next.Count(ctx, filter)
	c.observe("count", start, err)
	return count, err
}

func (c *instrumented[T]) Insert(ctx context.Context, doc *T) (string, error) {
	start := time.Now()
	id, err := c.next.Insert(ctx, doc)
	c.observe("insert", start, err)
	return id, err
}

func (c *instrumented[T]) UpdateFields(ctx context.Context, id string, fields docstore.Fields) error {
	start := time.Now()
	err := c.next.UpdateFields(ctx, id, fields)
	c.observe("update_fields", start, err)
	return err
}

func (c *instrumented[T]) CompareAndUpdate(ctx context.Context, id string, version int64, fields docstore.Fields) error {
	start := time.Now()
	err := c.next.CompareAndUpdate(ctx, id, version, fields)
	c.observe("compare_and_update", start, err)
	return err
}
