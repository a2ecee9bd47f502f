package domain

import (
	"context"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
)

type ListOrganizationFilter struct {
	// Name must equal the organization name exactly.
	Name string
}

type Repository interface {
	Insert(ctx context.Context, org *OrganizationDocument) error
	// FindByID returns nil, nil when the organization does not exist.
	FindByID(ctx context.Context, id string) (*OrganizationDocument, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context, filter ListOrganizationFilter, page docstore.Page) ([]*OrganizationDocument, error)
	Count(ctx context.Context, filter ListOrganizationFilter) (int64, error)
	// ReplaceUsersID writes usersID only if the stored version is still
	// version. It returns docstore.ErrConflict otherwise.
	ReplaceUsersID(ctx context.Context, id string, version int64, usersID []string) error
}
