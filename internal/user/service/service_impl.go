package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/orgaccess/internal/clock"
	"github.com/smallbiznis/orgaccess/internal/ident"
	obslogger "github.com/smallbiznis/orgaccess/internal/observability/logger"
	"github.com/smallbiznis/orgaccess/internal/observability/metrics"
	"github.com/smallbiznis/orgaccess/internal/password"
	"github.com/smallbiznis/orgaccess/internal/user/domain"
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
	Clock   clock.Clock
	Hasher  password.Hasher
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	repo    domain.Repository
	ids     ident.Scheme
	clock   clock.Clock
	hasher  password.Hasher
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("user.service"),
		repo:    p.Repo,
		ids:     p.IDs,
		clock:   p.Clock,
		hasher:  p.Hasher,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (domain.User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.User{}, domain.ErrInvalidName
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.User{}, err
	}

	if strings.TrimSpace(req.Password) == "" {
		return domain.User{}, domain.ErrInvalidPassword
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := s.clock.Now().UTC()
	doc := domain.UserDocument{
		Name:               name,
		Email:              email,
		Password:           hash,
		OrganizationAccess: datatypes.NewJSONSlice([]domain.AccessEntry{}),
		CreatedAt:          now,
		LastUpdatedAt:      now,
	}

	if err := s.repo.Insert(ctx, &doc); err != nil {
		obslogger.WithContext(ctx, s.log).Error("insert user failed", zap.Error(err))
		return domain.User{}, err
	}

	s.metrics.RecordEntityCreated(ctx, domain.CollectionName)
	obslogger.WithContext(ctx, s.log).Info("user created", zap.String("user_id", doc.ID))
	return doc.ToUser(), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.User, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return doc.ToUser(), nil
}

func (s *Service) List(ctx context.Context, req domain.ListUserRequest) (domain.ListUserResponse, error) {
	filter := domain.ListUserFilter{Name: strings.TrimSpace(req.Name)}
	page := docstore.NewPage(req.Limit, req.Offset)

	count, err := s.repo.Count(ctx, filter)
	if err != nil {
		return domain.ListUserResponse{}, err
	}

	items, err := s.repo.List(ctx, filter, page)
	if err != nil {
		return domain.ListUserResponse{}, err
	}

	users := make([]domain.User, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		users = append(users, item.ToUser())
	}

	return domain.ListUserResponse{
		Count:  count,
		Limit:  page.Limit,
		Offset: page.Offset,
		Data:   users,
	}, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateUserRequest) (domain.User, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return domain.User{}, err
	}

	fields := docstore.Fields{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.User{}, domain.ErrInvalidName
		}
		doc.Name = name
		fields[domain.FieldName] = name
	}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return domain.User{}, err
		}
		doc.Email = email
		fields[domain.FieldEmail] = email
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return domain.User{}, err
		}
		doc.Password = hash
		fields[domain.FieldPassword] = hash
	}

	doc.LastUpdatedAt = s.clock.Now().UTC()
	fields[domain.FieldLastUpdatedAt] = doc.LastUpdatedAt

	if err := s.repo.UpdateFields(ctx, doc.ID, fields); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.User{}, &domain.NotFoundError{ID: doc.ID}
		}
		return domain.User{}, err
	}
	doc.Version++

	return doc.ToUser(), nil
}

func (s *Service) find(ctx context.Context, rawID string) (*domain.UserDocument, error) {
	id, err := ident.Normalize(rawID, s.ids)
	if err != nil {
		return nil, err
	}

	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, &domain.NotFoundError{ID: id}
	}
	return doc, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" || !strings.Contains(email, "@") {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}
