package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/ident"
	"github.com/smallbiznis/orgaccess/internal/lock"
	"github.com/smallbiznis/orgaccess/internal/membership/domain"
	orgdomain "github.com/smallbiznis/orgaccess/internal/organization/domain"
	orgrepository "github.com/smallbiznis/orgaccess/internal/organization/repository"
	"github.com/smallbiznis/orgaccess/internal/storage"
	userdomain "github.com/smallbiznis/orgaccess/internal/user/domain"
	userrepository "github.com/smallbiznis/orgaccess/internal/user/repository"
	"github.com/smallbiznis/orgaccess/pkg/db"
	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
)

type fixture struct {
	users userdomain.Repository
	orgs  orgdomain.Repository
	ids   ident.Scheme
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&userdomain.UserDocument{}, &orgdomain.OrganizationDocument{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	backend := storage.NewSQLBackend(config.StoreSQLite, conn, ident.NewSnowflakeScheme(node))

	return &fixture{
		users: userrepository.Provide(backend),
		orgs:  orgrepository.NewRepository(backend),
		ids:   backend.IDs,
	}
}

func (f *fixture) params() Params {
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	return Params{
		Log:   zap.New(core),
		Cfg:   config.Config{Membership: config.MembershipConfig{MaxAttempts: 3}},
		Users: f.users,
		Orgs:  f.orgs,
		IDs:   f.ids,
	}
}

func (f *fixture) service(opts ...func(*Params)) domain.Service {
	p := f.params()
	for _, opt := range opts {
		opt(&p)
	}
	return NewService(p)
}

func (f *fixture) createOrg(t *testing.T, name string) string {
	t.Helper()
	org := &orgdomain.OrganizationDocument{Name: name, UsersID: datatypes.NewJSONSlice([]string{})}
	require.NoError(t, f.orgs.Insert(context.Background(), org))
	return org.ID
}

func (f *fixture) createUser(t *testing.T, name string) string {
	t.Helper()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	user := &userdomain.UserDocument{
		Name:          name,
		Email:         name + "@example.com",
		Password:      "hash",
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	require.NoError(t, f.users.Insert(context.Background(), user))
	return user.ID
}

func (f *fixture) org(t *testing.T, id string) *orgdomain.OrganizationDocument {
	t.Helper()
	org, err := f.orgs.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, org)
	return org
}

func (f *fixture) user(t *testing.T, id string) *userdomain.UserDocument {
	t.Helper()
	user, err := f.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

func TestAcmeBobScenario(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	acme := f.createOrg(t, "Acme")
	bob := f.createUser(t, "Bob")

	user, err := svc.AddMember(ctx, acme, bob, "admin")
	require.NoError(t, err)
	assert.Equal(t, []userdomain.AccessEntry{{OrganizationID: acme, AccessLevel: "admin"}}, user.OrganizationAccess)
	assert.Equal(t, []string{bob}, []string(f.org(t, acme).UsersID))

	user, err = svc.UpdateAccessLevel(ctx, acme, bob, "viewer")
	require.NoError(t, err)
	assert.Equal(t, []userdomain.AccessEntry{{OrganizationID: acme, AccessLevel: "viewer"}}, user.OrganizationAccess)

	user, err = svc.RemoveMember(ctx, acme, bob)
	require.NoError(t, err)
	assert.Empty(t, user.OrganizationAccess)
	assert.Empty(t, f.org(t, acme).UsersID)
	assert.Empty(t, f.user(t, bob).OrganizationAccess)

	_, err = svc.RemoveMember(ctx, acme, bob)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

func TestAddMemberIsIdempotent(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	for _, level := range []string{"admin", "admin", " viewer "} {
		_, err := svc.AddMember(ctx, org, user, level)
		require.NoError(t, err)
	}

	stored := f.user(t, user)
	assert.Equal(t, []userdomain.AccessEntry{{OrganizationID: org, AccessLevel: "viewer"}}, []userdomain.AccessEntry(stored.OrganizationAccess))
	assert.Equal(t, []string{user}, []string(f.org(t, org).UsersID))
	assert.Equal(t, int64(2), f.org(t, org).Version)
}

func TestAddMemberDoesNotTouchTimestamps(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")
	before := f.user(t, user)

	got, err := svc.AddMember(context.Background(), org, user, "admin")
	require.NoError(t, err)
	assert.True(t, before.LastUpdatedAt.Equal(got.LastUpdatedAt))
	assert.True(t, before.LastUpdatedAt.Equal(f.user(t, user).LastUpdatedAt))
}

func TestUpdateAccessLevelRequiresMembership(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.UpdateAccessLevel(context.Background(), org, user, "viewer")
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
	assert.Empty(t, f.user(t, user).OrganizationAccess)
	assert.Empty(t, f.org(t, org).UsersID)
}

func TestRemoveAccessEntry(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	other := f.createOrg(t, "Globex")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(ctx, org, user, "admin")
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, other, user, "viewer")
	require.NoError(t, err)

	got, err := svc.RemoveAccessEntry(ctx, org, user)
	require.NoError(t, err)
	assert.Equal(t, []userdomain.AccessEntry{{OrganizationID: other, AccessLevel: "viewer"}}, got.OrganizationAccess)
	assert.Empty(t, f.org(t, org).UsersID)
	assert.Equal(t, []string{user}, []string(f.org(t, other).UsersID))

	_, err = svc.RemoveAccessEntry(ctx, org, user)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
}

func TestRemoveAccessEntryChecksBeforeWriting(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	// one-sided membership: only the organization lists the user
	require.NoError(t, f.orgs.ReplaceUsersID(ctx, org, 1, []string{user}))

	_, err := svc.RemoveAccessEntry(ctx, org, user)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
	assert.Equal(t, []string{user}, []string(f.org(t, org).UsersID))
}

func TestRemoveMemberRequiresBothSides(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	require.NoError(t, f.users.ReplaceOrganizationAccess(ctx, user, 1, []userdomain.AccessEntry{
		{OrganizationID: org, AccessLevel: "admin"},
	}))

	_, err := svc.RemoveMember(ctx, org, user)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)
	assert.Len(t, f.user(t, user).OrganizationAccess, 1)
}

func TestResolvesOrganizationBeforeUser(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(ctx, "111", "222", "admin")
	var orgMissing *orgdomain.NotFoundError
	require.ErrorAs(t, err, &orgMissing)
	assert.Equal(t, "111", orgMissing.ID)

	_, err = svc.RemoveMember(ctx, org, "222")
	assert.ErrorIs(t, err, userdomain.ErrNotFound)

	_, err = svc.UpdateAccessLevel(ctx, "111", user, "admin")
	assert.ErrorIs(t, err, orgdomain.ErrNotFound)
}

func TestRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	svc := f.service(func(p *Params) {
		p.Policy = config.NewStaticAccessPolicy(config.AccessPolicy{Levels: []string{"admin", "viewer"}})
	})
	ctx := context.Background()

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(ctx, "abc", user, "admin")
	assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)

	_, err = svc.AddMember(ctx, org, "  ", "admin")
	assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)

	_, err = svc.AddMember(ctx, org, user, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidAccessLevel)

	_, err = svc.AddMember(ctx, org, user, "owner")
	assert.ErrorIs(t, err, domain.ErrInvalidAccessLevel)

	assert.Empty(t, f.user(t, user).OrganizationAccess)
}

type stubLocker struct {
	mu       sync.Mutex
	err      error
	keys     []string
	released int
}

func (l *stubLocker) Acquire(_ context.Context, key string) (lock.Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

func TestHoldsPairLock(t *testing.T) {
	f := newFixture(t)
	locker := &stubLocker{}
	svc := f.service(func(p *Params) { p.Locker = locker })

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(context.Background(), " "+org, user, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{lock.MembershipKey(org, user)}, locker.keys)
	assert.Equal(t, 1, locker.released)
}

func TestBusyLockIsConcurrentUpdate(t *testing.T) {
	f := newFixture(t)
	svc := f.service(func(p *Params) { p.Locker = &stubLocker{err: lock.ErrNotAcquired} })

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(context.Background(), org, user, "admin")
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Empty(t, f.user(t, user).OrganizationAccess)
	assert.Equal(t, 1, f.logs.FilterMessage("membership lock busy").Len())
}

// racingUsers lets another writer modify the user right before each of
// the first n writes, so those writes hit a version conflict.
type racingUsers struct {
	userdomain.Repository
	n int
}

func (r *racingUsers) ReplaceOrganizationAccess(ctx context.Context, id string, version int64, access []userdomain.AccessEntry) error {
	if r.n > 0 {
		r.n--
		current, err := r.Repository.FindByID(ctx, id)
		if err != nil {
			return err
		}
		other, _ := upsertAccess(current.OrganizationAccess, "999", "viewer")
		if err := r.Repository.ReplaceOrganizationAccess(ctx, id, current.Version, other); err != nil {
			return err
		}
	}
	return r.Repository.ReplaceOrganizationAccess(ctx, id, version, access)
}

func TestConflictRetryConverges(t *testing.T) {
	f := newFixture(t)
	racing := &racingUsers{Repository: f.users, n: 2}
	svc := f.service(func(p *Params) { p.Users = racing })

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	got, err := svc.AddMember(context.Background(), org, user, "admin")
	require.NoError(t, err)
	assert.Equal(t, 0, racing.n)

	want := []userdomain.AccessEntry{
		{OrganizationID: "999", AccessLevel: "viewer"},
		{OrganizationID: org, AccessLevel: "admin"},
	}
	assert.Equal(t, want, got.OrganizationAccess)
	assert.Equal(t, want, []userdomain.AccessEntry(f.user(t, user).OrganizationAccess))
	assert.Equal(t, []string{user}, []string(f.org(t, org).UsersID))
}

func TestConflictRetryGivesUp(t *testing.T) {
	f := newFixture(t)
	svc := f.service(func(p *Params) { p.Users = &racingUsers{Repository: f.users, n: 10} })

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(context.Background(), org, user, "admin")
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.Empty(t, f.org(t, org).UsersID)
	assert.Equal(t, 1, f.logs.FilterMessage("membership write kept conflicting").Len())
}

type failingOrgs struct {
	orgdomain.Repository
}

func (failingOrgs) ReplaceUsersID(context.Context, string, int64, []string) error {
	return docstore.Wrap("compare_and_update", orgdomain.CollectionName, errors.New("connection reset"))
}

func TestPartialWriteIsReported(t *testing.T) {
	f := newFixture(t)
	svc := f.service(func(p *Params) { p.Orgs = failingOrgs{Repository: f.orgs} })

	org := f.createOrg(t, "Acme")
	user := f.createUser(t, "Bob")

	_, err := svc.AddMember(context.Background(), org, user, "admin")
	require.Error(t, err)
	assert.True(t, docstore.IsStoreError(err))

	// the user side landed, the organization side did not
	assert.Len(t, f.user(t, user).OrganizationAccess, 1)
	assert.Empty(t, f.org(t, org).UsersID)

	entries := f.logs.FilterMessage("membership.partial_write").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, org, fields["org_id"])
	assert.Equal(t, user, fields["user_id"])
	assert.Equal(t, domain.OpAddMember, fields["operation"])
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "invalid", outcomeOf(ident.ErrInvalidIdentifier))
	assert.Equal(t, "invalid", outcomeOf(domain.ErrInvalidAccessLevel))
	assert.Equal(t, "not_found", outcomeOf(&userdomain.NotFoundError{ID: "1"}))
	assert.Equal(t, "not_found", outcomeOf(&orgdomain.NotFoundError{ID: "1"}))
	assert.Equal(t, "not_found", outcomeOf(domain.ErrMembershipNotFound))
	assert.Equal(t, "conflict", outcomeOf(domain.ErrConcurrentUpdate))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
}
