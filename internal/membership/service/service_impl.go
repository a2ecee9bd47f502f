package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/ident"
	"github.com/smallbiznis/orgaccess/internal/lock"
	"github.com/smallbiznis/orgaccess/internal/membership/domain"
	obscontext "github.com/smallbiznis/orgaccess/internal/observability/context"
	obslogger "github.com/smallbiznis/orgaccess/internal/observability/logger"
	"github.com/smallbiznis/orgaccess/internal/observability/metrics"
	"github.com/smallbiznis/orgaccess/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/orgaccess/internal/organization/domain"
	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultMaxAttempts   = 5
	retryInitialInterval = 10 * time.Millisecond
	retryMaxInterval     = 200 * time.Millisecond
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Users   userdomain.Repository
	Orgs    orgdomain.Repository
	IDs     ident.Scheme
	Locker  lock.Locker                `optional:"true"`
	Policy  *config.AccessPolicyHolder `optional:"true"`
	Metrics *metrics.Metrics           `optional:"true"`
}

type service struct {
	log         *zap.Logger
	users       userdomain.Repository
	orgs        orgdomain.Repository
	ids         ident.Scheme
	locker      lock.Locker
	policy      *config.AccessPolicyHolder
	metrics     *metrics.Metrics
	maxAttempts uint
}

func NewService(p Params) domain.Service {
	locker := p.Locker
	if locker == nil {
		locker = lock.Noop{}
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticAccessPolicy(config.DefaultAccessPolicy())
	}
	attempts := p.Cfg.Membership.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &service{
		log:         p.Log.Named("membership.service"),
		users:       p.Users,
		orgs:        p.Orgs,
		ids:         p.IDs,
		locker:      locker,
		policy:      policy,
		metrics:     p.Metrics,
		maxAttempts: uint(attempts),
	}
}

// membership is the pair of documents one operation works on. writes
// counts sides already persisted so a later failure can be reported as a
// partial write.
type membership struct {
	org    *orgdomain.OrganizationDocument
	user   *userdomain.UserDocument
	writes int
}

func (s *service) AddMember(ctx context.Context, orgID, userID, accessLevel string) (userdomain.User, error) {
	return s.run(ctx, domain.OpAddMember, orgID, userID, &accessLevel, func(ctx context.Context, m *membership, level string) error {
		err := s.writeUser(ctx, domain.OpAddMember, m, func(access []userdomain.AccessEntry) ([]userdomain.AccessEntry, bool, error) {
			next, changed := upsertAccess(access, m.org.ID, level)
			return next, changed, nil
		})
		if err != nil {
			return err
		}
		return s.writeOrg(ctx, domain.OpAddMember, m, func(usersID []string) ([]string, bool, error) {
			next, changed := appendMember(usersID, m.user.ID)
			return next, changed, nil
		})
	})
}

// UpdateAccessLevel changes the level of an existing entry. The
// organization side is left alone.
func (s *service) UpdateAccessLevel(ctx context.Context, orgID, userID, accessLevel string) (userdomain.User, error) {
	return s.run(ctx, domain.OpUpdateAccessLevel, orgID, userID, &accessLevel, func(ctx context.Context, m *membership, level string) error {
		if indexOfAccess(m.user.OrganizationAccess, m.org.ID) < 0 {
			return domain.ErrMembershipNotFound
		}
		return s.writeUser(ctx, domain.OpUpdateAccessLevel, m, func(access []userdomain.AccessEntry) ([]userdomain.AccessEntry, bool, error) {
			return setAccessLevel(access, m.org.ID, level)
		})
	})
}

// RemoveAccessEntry pulls the user from the organization first and then
// drops the access entry. Both happen only when the entry exists.
func (s *service) RemoveAccessEntry(ctx context.Context, orgID, userID string) (userdomain.User, error) {
	return s.run(ctx, domain.OpRemoveAccessEntry, orgID, userID, nil, func(ctx context.Context, m *membership, _ string) error {
		if indexOfAccess(m.user.OrganizationAccess, m.org.ID) < 0 {
			return domain.ErrMembershipNotFound
		}
		err := s.writeOrg(ctx, domain.OpRemoveAccessEntry, m, func(usersID []string) ([]string, bool, error) {
			next, changed := removeMember(usersID, m.user.ID)
			return next, changed, nil
		})
		if err != nil {
			return err
		}
		return s.writeUser(ctx, domain.OpRemoveAccessEntry, m, func(access []userdomain.AccessEntry) ([]userdomain.AccessEntry, bool, error) {
			next, changed := removeAccess(access, m.org.ID)
			return next, changed, nil
		})
	})
}

// RemoveMember requires both sides to record the membership.
func (s *service) RemoveMember(ctx context.Context, orgID, userID string) (userdomain.User, error) {
	return s.run(ctx, domain.OpRemoveMember, orgID, userID, nil, func(ctx context.Context, m *membership, _ string) error {
		if indexOfAccess(m.user.OrganizationAccess, m.org.ID) < 0 {
			return domain.ErrMembershipNotFound
		}
		if !m.org.HasMember(m.user.ID) {
			return domain.ErrMembershipNotFound
		}
		err := s.writeUser(ctx, domain.OpRemoveMember, m, func(access []userdomain.AccessEntry) ([]userdomain.AccessEntry, bool, error) {
			next, changed := removeAccess(access, m.org.ID)
			return next, changed, nil
		})
		if err != nil {
			return err
		}
		return s.writeOrg(ctx, domain.OpRemoveMember, m, func(usersID []string) ([]string, bool, error) {
			next, changed := removeMember(usersID, m.user.ID)
			return next, changed, nil
		})
	})
}

type mutateFunc func(ctx context.Context, m *membership, level string) error

// run validates input, takes the pair lock, loads both documents and
// applies mutate. level is nil for operations that take no access level.
func (s *service) run(ctx context.Context, op, rawOrgID, rawUserID string, rawLevel *string, mutate mutateFunc) (user userdomain.User, err error) {
	ctx, span := otel.Tracer("orgaccess/membership").Start(ctx, "membership."+op)
	span.SetAttributes(tracing.SafeAttributes(attribute.String("membership.operation", op))...)

	log := obslogger.WithContext(ctx, s.log)
	defer func() {
		outcome := outcomeOf(err)
		s.metrics.RecordMembershipOperation(ctx, op, outcome)
		span.SetAttributes(attribute.String("membership.outcome", outcome))
		if err != nil && outcome == "error" {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "membership operation failed")
		}
		span.End()
	}()

	orgID, err := ident.Normalize(rawOrgID, s.ids)
	if err != nil {
		return userdomain.User{}, err
	}
	userID, err := ident.Normalize(rawUserID, s.ids)
	if err != nil {
		return userdomain.User{}, err
	}

	var level string
	if rawLevel != nil {
		level = strings.TrimSpace(*rawLevel)
		if !s.policy.Allows(level) {
			return userdomain.User{}, domain.ErrInvalidAccessLevel
		}
	}

	ctx = obscontext.WithMembership(ctx, orgID, userID)
	log = obslogger.WithMembership(log, orgID, userID)

	release, err := s.locker.Acquire(ctx, lock.MembershipKey(orgID, userID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordLockContention(ctx, op)
			log.Warn("membership lock busy", zap.String("operation", op))
			return userdomain.User{}, domain.ErrConcurrentUpdate
		}
		return userdomain.User{}, fmt.Errorf("acquire membership lock: %w", err)
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warn("release membership lock failed", zap.Error(releaseErr))
		}
	}()

	m, err := s.load(ctx, orgID, userID)
	if err != nil {
		return userdomain.User{}, err
	}

	if err := mutate(ctx, m, level); err != nil {
		if m.writes > 0 {
			s.metrics.RecordPartialWrite(ctx, op)
			log.Error("membership.partial_write",
				zap.String("operation", op),
				zap.Int("sides_written", m.writes),
				zap.Error(err),
			)
		}
		return userdomain.User{}, err
	}

	log.Info("membership updated",
		zap.String("operation", op),
		zap.Int("sides_written", m.writes),
	)
	return m.user.ToUser(), nil
}

func (s *service) load(ctx context.Context, orgID, userID string) (*membership, error) {
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, &orgdomain.NotFoundError{ID: orgID}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &userdomain.NotFoundError{ID: userID}
	}
	return &membership{org: org, user: user}, nil
}

func (s *service) writeUser(ctx context.Context, op string, m *membership, mutate func([]userdomain.AccessEntry) ([]userdomain.AccessEntry, bool, error)) error {
	reload := func(ctx context.Context) error {
		fresh, err := s.users.FindByID(ctx, m.user.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return &userdomain.NotFoundError{ID: m.user.ID}
		}
		m.user = fresh
		return nil
	}
	apply := func(ctx context.Context) (bool, error) {
		next, changed, err := mutate(m.user.OrganizationAccess)
		if err != nil || !changed {
			return false, err
		}
		err = s.users.ReplaceOrganizationAccess(ctx, m.user.ID, m.user.Version, next)
		if errors.Is(err, docstore.ErrNotFound) {
			return false, &userdomain.NotFoundError{ID: m.user.ID}
		}
		if err != nil {
			return false, err
		}
		m.user.OrganizationAccess = datatypes.NewJSONSlice(next)
		m.user.Version++
		return true, nil
	}

	written, err := s.compareAndSwap(ctx, op, userdomain.CollectionName, reload, apply)
	if written {
		m.writes++
	}
	return err
}

func (s *service) writeOrg(ctx context.Context, op string, m *membership, mutate func([]string) ([]string, bool, error)) error {
	reload := func(ctx context.Context) error {
		fresh, err := s.orgs.FindByID(ctx, m.org.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return &orgdomain.NotFoundError{ID: m.org.ID}
		}
		m.org = fresh
		return nil
	}
	apply := func(ctx context.Context) (bool, error) {
		next, changed, err := mutate(m.org.UsersID)
		if err != nil || !changed {
			return false, err
		}
		err = s.orgs.ReplaceUsersID(ctx, m.org.ID, m.org.Version, next)
		if errors.Is(err, docstore.ErrNotFound) {
			return false, &orgdomain.NotFoundError{ID: m.org.ID}
		}
		if err != nil {
			return false, err
		}
		m.org.UsersID = datatypes.NewJSONSlice(next)
		m.org.Version++
		return true, nil
	}

	written, err := s.compareAndSwap(ctx, op, orgdomain.CollectionName, reload, apply)
	if written {
		m.writes++
	}
	return err
}

// compareAndSwap runs apply until it stops reporting a version conflict,
// reloading the document between attempts. The mutation applied must be
// idempotent because it is computed again from the reloaded document.
func (s *service) compareAndSwap(ctx context.Context, op, collection string, reload func(context.Context) error, apply func(context.Context) (bool, error)) (bool, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval

	tries := 0
	written, err := backoff.Retry(ctx, func() (bool, error) {
		tries++
		if tries > 1 {
			if err := reload(ctx); err != nil {
				return false, backoff.Permanent(err)
			}
		}
		written, err := apply(ctx)
		if err != nil && !errors.Is(err, docstore.ErrConflict) {
			return false, backoff.Permanent(err)
		}
		return written, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(error, time.Duration) {
			s.metrics.RecordConflictRetry(ctx, op, collection)
		}),
	)
	if errors.Is(err, docstore.ErrConflict) {
		obslogger.WithContext(ctx, s.log).Warn("membership write kept conflicting",
			zap.String("operation", op),
			zap.String("collection", collection),
			zap.Int("attempts", tries),
		)
		return false, domain.ErrConcurrentUpdate
	}
	return written, err
}

func outcomeOf(err error) string {
	var userMissing *userdomain.NotFoundError
	var orgMissing *orgdomain.NotFoundError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ident.ErrInvalidIdentifier), errors.Is(err, domain.ErrInvalidAccessLevel):
		return "invalid"
	case errors.Is(err, domain.ErrMembershipNotFound), errors.As(err, &userMissing), errors.As(err, &orgMissing):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return "conflict"
	default:
		return "error"
	}
}
