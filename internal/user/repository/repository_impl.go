package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/orgaccess/internal/storage"
	"github.com/smallbiznis/orgaccess/internal/user/domain"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"gorm.io/datatypes"
)

type repo struct {
	users docstore.Collection[domain.UserDocument]
}

func Provide(backend *storage.Backend) domain.Repository {
	return &repo{users: storage.Open[domain.UserDocument](backend, domain.CollectionName)}
}

// Schema registers the users collection with the migrator.
func Schema() storage.Schema {
	return storage.Schema{
		Collection: domain.CollectionName,
		Model:      &domain.UserDocument{},
		Indexes:    []string{domain.FieldName},
	}
}

func (r *repo) Insert(ctx context.Context, user *domain.UserDocument) error {
	if user.OrganizationAccess == nil {
		user.OrganizationAccess = datatypes.NewJSONSlice([]domain.AccessEntry{})
	}
	_, err := r.users.Insert(ctx, user)
	return err
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.UserDocument, error) {
	user, err := r.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if user.OrganizationAccess == nil {
		user.OrganizationAccess = datatypes.NewJSONSlice([]domain.AccessEntry{})
	}
	return user, nil
}

func (r *repo) List(ctx context.Context, filter domain.ListUserFilter, page docstore.Page) ([]*domain.UserDocument, error) {
	return r.users.Find(ctx, nameFilter(filter), page)
}

func (r *repo) Count(ctx context.Context, filter domain.ListUserFilter) (int64, error) {
	return r.users.Count(ctx, nameFilter(filter))
}

func (r *repo) UpdateFields(ctx context.Context, id string, fields docstore.Fields) error {
	return r.users.UpdateFields(ctx, id, fields)
}

func (r *repo) ReplaceOrganizationAccess(ctx context.Context, id string, version int64, access []domain.AccessEntry) error {
	if access == nil {
		access = []domain.AccessEntry{}
	}
	return r.users.CompareAndUpdate(ctx, id, version, docstore.Fields{
		domain.FieldOrganizationAccess: datatypes.NewJSONSlice(access),
	})
}

func nameFilter(filter domain.ListUserFilter) docstore.Filter {
	if filter.Name == "" {
		return docstore.Filter{}
	}
	return docstore.Filter{
		Field: domain.FieldName,
		Value: filter.Name,
		Match: docstore.MatchContainsFold,
	}
}
