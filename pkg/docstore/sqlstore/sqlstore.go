// Package sqlstore implements docstore collections on top of gorm.
// Relationship lists live in JSON columns and every row carries a version
// column used for compare-and-update.
package sqlstore

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// likeEscape is accepted by postgres, mysql and sqlite alike.
const likeEscape = "!"

type collection[T any, PT docstore.DocumentPtr[T]] struct {
	db    *gorm.DB
	name  string
	newID func() string
}

// New returns a collection over the table backing T. newID issues the ids
// assigned on insert.
func New[T any, PT docstore.DocumentPtr[T]](db *gorm.DB, name string, newID func() string) docstore.Collection[T] {
	return &collection[T, PT]{db: db, name: name, newID: newID}
}

func (c *collection[T, PT]) Name() string { return c.name }

func (c *collection[T, PT]) FindByID(ctx context.Context, id string) (*T, error) {
	var doc T
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, docstore.ErrNotFound
		}
		return nil, docstore.Wrap("find_by_id", c.name, err)
	}
	return &doc, nil
}

func (c *collection[T, PT]) Find(ctx context.Context, filter docstore.Filter, page docstore.Page) ([]*T, error) {
	stmt, err := c.scope(ctx, filter)
	if err != nil {
		return nil, docstore.Wrap("find", c.name, err)
	}
	if page.Offset > 0 {
		stmt = stmt.Offset(int(page.Offset))
	}
	if page.Limit > 0 {
		stmt = stmt.Limit(int(page.Limit))
	}

	var docs []*T
	if err := stmt.Order("id asc").Find(&docs).Error; err != nil {
		return nil, docstore.Wrap("find", c.name, err)
	}
	return docs, nil
}

func (c *collection[T, PT]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	stmt, err := c.scope(ctx, filter)
	if err != nil {
		return 0, docstore.Wrap("count", c.name, err)
	}
	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return 0, docstore.Wrap("count", c.name, err)
	}
	return count, nil
}

func (c *collection[T, PT]) Insert(ctx context.Context, doc *T) (string, error) {
	ptr := PT(doc)
	id := c.newID()
	ptr.SetDocumentID(id)
	ptr.SetDocumentVersion(1)

	if err := c.db.WithContext(ctx).Create(doc).Error; err != nil {
		ptr.SetDocumentID("")
		ptr.SetDocumentVersion(0)
		return "", docstore.Wrap("insert", c.name, err)
	}
	return id, nil
}

func (c *collection[T, PT]) UpdateFields(ctx context.Context, id string, fields docstore.Fields) error {
	res := c.db.WithContext(ctx).
		Model(new(T)).
		Where("id = ?", id).
		Updates(assignments(fields))
	if res.Error != nil {
		return docstore.Wrap("update_fields", c.name, res.Error)
	}
	if res.RowsAffected == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (c *collection[T, PT]) CompareAndUpdate(ctx context.Context, id string, version int64, fields docstore.Fields) error {
	res := c.db.WithContext(ctx).
		Model(new(T)).
		Where("id = ? AND version = ?", id, version).
		Updates(assignments(fields))
	if res.Error != nil {
		return docstore.Wrap("compare_and_update", c.name, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := c.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Count(&count).Error; err != nil {
		return docstore.Wrap("compare_and_update", c.name, err)
	}
	if count == 0 {
		return docstore.ErrNotFound
	}
	return docstore.ErrConflict
}

func (c *collection[T, PT]) scope(ctx context.Context, filter docstore.Filter) (*gorm.DB, error) {
	stmt := c.db.WithContext(ctx).Model(new(T))
	if filter.IsZero() {
		return stmt, nil
	}

	column := clause.Column{Name: filter.Field}
	switch filter.Match {
	case docstore.MatchContainsFold:
		if !foldsUnicode(c.db) {
			ids, err := c.idsContainingFold(ctx, filter)
			if err != nil {
				return nil, err
			}
			return stmt.Where("id IN ?", ids), nil
		}
		pattern := "%" + EscapeLike(strings.ToLower(filter.Value)) + "%"
		return stmt.Where("LOWER(?) LIKE ? ESCAPE '"+likeEscape+"'", column, pattern), nil
	default:
		return stmt.Where("? = ?", column, filter.Value), nil
	}
}

// foldsUnicode reports whether LOWER on this dialect folds beyond ASCII.
// SQLite's built-in LOWER only folds A-Z.
func foldsUnicode(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}

// idsContainingFold matches filter in Go with the same folding used to
// build LIKE patterns, returning the ids of matching rows.
func (c *collection[T, PT]) idsContainingFold(ctx context.Context, filter docstore.Filter) ([]string, error) {
	rows, err := c.db.WithContext(ctx).
		Model(new(T)).
		Select([]string{"id", filter.Field}).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	needle := strings.ToLower(filter.Value)
	ids := make([]string, 0)
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		if strings.Contains(strings.ToLower(value), needle) {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

func assignments(fields docstore.Fields) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		if key == docstore.VersionField {
			continue
		}
		out[key] = value
	}
	out[docstore.VersionField] = gorm.Expr("version + ?", 1)
	return out
}

// EscapeLike makes value match literally inside a LIKE pattern.
func EscapeLike(value string) string {
	replacer := strings.NewReplacer(
		likeEscape, likeEscape+likeEscape,
		"%", likeEscape+"%",
		"_", likeEscape+"_",
	)
	return replacer.Replace(value)
}
