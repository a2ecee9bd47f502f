package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/ident"
	"github.com/smallbiznis/orgaccess/internal/organization/domain"
	"github.com/smallbiznis/orgaccess/internal/organization/repository"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"github.com/smallbiznis/orgaccess/pkg/db"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (domain.Service, domain.Repository) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.OrganizationDocument{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	backend := storage.NewSQLBackend(config.StoreSQLite, conn, ident.NewSnowflakeScheme(node))

	repo := repository.NewRepository(backend)
	return NewService(Params{Log: zap.NewNop(), Repo: repo, IDs: backend.IDs}), repo
}

func TestCreateOrganization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "  Acme "})
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, []string{}, org.UsersID)

	got, err := svc.GetByID(ctx, " "+org.ID)
	require.NoError(t, err)
	assert.Equal(t, org, got)

	_, err = svc.Create(ctx, domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	// exact comparison, so a different case is a different name
	_, err = svc.Create(ctx, domain.CreateOrganizationRequest{Name: "acme"})
	assert.NoError(t, err)
}

func TestGetByIDErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetByID(ctx, "not-an-id")
	assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)

	_, err = svc.GetByID(ctx, "123456789")
	require.ErrorIs(t, err, domain.ErrNotFound)
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "123456789", notFound.ID)
}

func TestListFiltersByExactName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"Alice Org", "ali", "Bob Org"} {
		_, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: name})
		require.NoError(t, err)
	}

	res, err := svc.List(ctx, domain.ListOrganizationRequest{Name: "ali"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "ali", res.Data[0].Name)

	res, err = svc.List(ctx, domain.ListOrganizationRequest{Name: "alice org"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Count)
	assert.Empty(t, res.Data)

	res, err = svc.List(ctx, domain.ListOrganizationRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Count)
	assert.Len(t, res.Data, 3)
}

func TestListPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: name})
		require.NoError(t, err)
	}

	res, err := svc.List(ctx, domain.ListOrganizationRequest{Limit: 2, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Count)
	assert.Equal(t, int64(2), res.Limit)
	assert.Equal(t, int64(3), res.Offset)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "d", res.Data[0].Name)

	res, err = svc.List(ctx, domain.ListOrganizationRequest{Limit: -1, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, docstore.DefaultLimit, res.Limit)
	assert.Equal(t, int64(0), res.Offset)
}

func TestReplaceUsersIDDetectsConflict(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	org, err := svc.Create(ctx, domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)

	require.NoError(t, repo.ReplaceUsersID(ctx, org.ID, 1, []string{"42"}))
	err = repo.ReplaceUsersID(ctx, org.ID, 1, []string{"43"})
	assert.ErrorIs(t, err, docstore.ErrConflict)

	doc, err := repo.FindByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, []string(doc.UsersID))
	assert.Equal(t, int64(2), doc.Version)
	assert.True(t, doc.HasMember("42"))
}
