package domain

import (
	"context"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
)

type ListUserFilter struct {
	// Name matches case-insensitively anywhere in the user's name.
	Name string
}

type Repository interface {
	Insert(ctx context.Context, user *UserDocument) error
	// FindByID returns nil, nil when the user does not exist.
	FindByID(ctx context.Context, id string) (*UserDocument, error)
	List(ctx context.Context, filter ListUserFilter, page docstore.Page) ([]*UserDocument, error)
	Count(ctx context.Context, filter ListUserFilter) (int64, error)
	UpdateFields(ctx context.Context, id string, fields docstore.Fields) error
	// ReplaceOrganizationAccess writes access only if the stored version is
	// still version. It returns docstore.ErrConflict otherwise.
	ReplaceOrganizationAccess(ctx context.Context, id string, version int64, access []AccessEntry) error
}
