package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/orgaccess/internal/ident"
	obslogger "github.com/smallbiznis/orgaccess/internal/observability/logger"
	"github.com/smallbiznis/orgaccess/internal/observability/metrics"
	"github.com/smallbiznis/orgaccess/internal/organization/domain"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Repo    domain.Repository
	IDs     ident.Scheme
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	log     *zap.Logger
	repo    domain.Repository
	ids     ident.Scheme
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		log:     p.Log.Named("organization.service"),
		repo:    p.Repo,
		ids:     p.IDs,
		metrics: p.Metrics,
	}
}

// Create checks for an existing organization with the same name before
// inserting. Two concurrent creates with one name can both pass the check.
func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (domain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Organization{}, domain.ErrInvalidName
	}

	exists, err := s.repo.ExistsByName(ctx, name)
	if err != nil {
		return domain.Organization{}, err
	}
	if exists {
		return domain.Organization{}, domain.ErrDuplicateName
	}

	org := domain.OrganizationDocument{
		Name:    name,
		UsersID: datatypes.NewJSONSlice([]string{}),
	}
	if err := s.repo.Insert(ctx, &org); err != nil {
		obslogger.WithContext(ctx, s.log).Error("insert organization failed", zap.Error(err))
		return domain.Organization{}, err
	}

	s.metrics.RecordEntityCreated(ctx, domain.CollectionName)
	obslogger.WithContext(ctx, s.log).Info("organization created",
		zap.String("org_id", org.ID),
		zap.String("name", org.Name),
	)
	return org.ToOrganization(), nil
}

func (s *service) GetByID(ctx context.Context, rawID string) (domain.Organization, error) {
	id, err := ident.Normalize(rawID, s.ids)
	if err != nil {
		return domain.Organization{}, err
	}

	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.Organization{}, err
	}
	if org == nil {
		return domain.Organization{}, &domain.NotFoundError{ID: id}
	}
	return org.ToOrganization(), nil
}

func (s *service) List(ctx context.Context, req domain.ListOrganizationRequest) (domain.ListOrganizationResponse, error) {
	// exact match, unlike the user list; the name is not trimmed either
	filter := domain.ListOrganizationFilter{Name: req.Name}
	page := docstore.NewPage(req.Limit, req.Offset)

	count, err := s.repo.Count(ctx, filter)
	if err != nil {
		return domain.ListOrganizationResponse{}, err
	}

	items, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return domain.ListOrganizationResponse{}, err
	}

	orgs := make([]domain.Organization, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		orgs = append(orgs, item.ToOrganization())
	}

	return domain.ListOrganizationResponse{
		Count:  count,
		Limit:  page.Limit,
		Offset: page.Offset,
		Data:   orgs,
	}, nil
}
