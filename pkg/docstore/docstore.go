// Package docstore defines the collection contract shared by the document
// store backends. Callers get point lookups, filtered scans, inserts and
// partial field updates. There is no cross-collection transaction support.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("document_not_found")
	ErrConflict = errors.New("document_version_conflict")
)

// Document is implemented by pointers to persisted types.
type Document interface {
	DocumentID() string
	SetDocumentID(id string)
	DocumentVersion() int64
	SetDocumentVersion(version int64)
}

// DocumentPtr constrains PT to be *T and a Document.
type DocumentPtr[T any] interface {
	*T
	Document
}

// VersionField is maintained by the backends on every write.
const VersionField = "version"

// Fields is a partial document keyed by stored field name.
type Fields map[string]any

type Match int

const (
	MatchExact Match = iota
	MatchContainsFold
)

// Filter restricts a scan to documents whose Field matches Value.
// The zero Filter matches everything.
type Filter struct {
	Field string
	Value string
	Match Match
}

func (f Filter) IsZero() bool {
	return f.Field == ""
}

// Page selects a window of an ordered scan.
type Page struct {
	Offset int64
	Limit  int64
}

// Collection is a typed handle over one collection or table.
type Collection[T any] interface {
	Name() string
	FindByID(ctx context.Context, id string) (*T, error)
	Find(ctx context.Context, filter Filter, page Page) ([]*T, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	// Insert assigns the id and the initial version and returns the id.
	Insert(ctx context.Context, doc *T) (string, error)
	UpdateFields(ctx context.Context, id string, fields Fields) error
	// CompareAndUpdate applies fields only while the stored version equals version.
	CompareAndUpdate(ctx context.Context, id string, version int64, fields Fields) error
}

// Error wraps a backend failure.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("docstore %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as an *Error unless it is nil or a docstore sentinel.
func Wrap(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return &Error{Op: op, Collection: collection, Err: err}
}

// IsStoreError reports whether err came from a backend failure.
func IsStoreError(err error) bool {
	var storeErr *Error
	return errors.As(err, &storeErr)
}

const (
	DefaultLimit int64 = 10
	MaxLimit     int64 = 250
)

// NewPage builds a Page from caller supplied values. A non-positive limit
// or a negative offset falls back to the default and limit is capped at
// MaxLimit.
func NewPage(limit, offset int64) Page {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Offset: offset, Limit: limit}
}
