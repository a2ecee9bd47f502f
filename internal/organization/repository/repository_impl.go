package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/orgaccess/internal/organization/domain"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"gorm.io/datatypes"
)

type repository struct {
	orgs docstore.Collection[domain.OrganizationDocument]
}

func NewRepository(backend *storage.Backend) domain.Repository {
	return &repository{orgs: storage.Open[domain.OrganizationDocument](backend, domain.CollectionName)}
}

// Schema registers the organizations collection with the migrator.
func Schema() storage.Schema {
	return storage.Schema{
		Collection: domain.CollectionName,
		Model:      &domain.OrganizationDocument{},
		Indexes:    []string{domain.FieldName},
	}
}

func (r *repository) Insert(ctx context.Context, org *domain.OrganizationDocument) error {
	if org.UsersID == nil {
		org.UsersID = datatypes.NewJSONSlice([]string{})
	}
	_, err := r.orgs.Insert(ctx, org)
	return err
}

func (r *repository) FindByID(ctx context.Context, id string) (*domain.OrganizationDocument, error) {
	org, err := r.orgs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if org.UsersID == nil {
		org.UsersID = datatypes.NewJSONSlice([]string{})
	}
	return org, nil
}

func (r *repository) ExistsByName(ctx context.Context, name string) (bool, error) {
	count, err := r.orgs.Count(ctx, nameFilter(domain.ListOrganizationFilter{Name: name}))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) List(ctx context.Context, filter domain.ListOrganizationFilter, page docstore.Page) ([]*domain.OrganizationDocument, error) {
	return r.orgs.Find(ctx, nameFilter(filter), page)
}

func (r *repository) Count(ctx context.Context, filter domain.ListOrganizationFilter) (int64, error) {
	return r.orgs.Count(ctx, nameFilter(filter))
}

func (r *repository) ReplaceUsersID(ctx context.Context, id string, version int64, usersID []string) error {
	if usersID == nil {
		usersID = []string{}
	}
	return r.orgs.CompareAndUpdate(ctx, id, version, docstore.Fields{
		domain.FieldUsersID: datatypes.NewJSONSlice(usersID),
	})
}

func nameFilter(filter domain.ListOrganizationFilter) docstore.Filter {
	if filter.Name == "" {
		return docstore.Filter{}
	}
	return docstore.Filter{
		Field: domain.FieldName,
		Value: filter.Name,
		Match: docstore.MatchExact,
	}
}
