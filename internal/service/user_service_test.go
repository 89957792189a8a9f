package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zivenyang/auth-api/internal/models"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
)

type mockUserRepo struct {
	users       map[string]*models.User
	profiles    map[string]*models.UserProfile
	listUsers   []models.User
	listTotal   int
	listErr     error
	listCalls   int
	findCalls   int
	deleted     []string
	lastUpserts []*models.UserProfile
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.listCalls++
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.listUsers, m.listTotal, nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.findCalls++
	if user, ok := m.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	if user, ok := m.users[id]; ok {
		user.Active = false
	}
	return nil
}

func (m *mockUserRepo) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if profile, ok := m.profiles[userID]; ok {
		cp := *profile
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpsertProfile(ctx context.Context, profile *models.UserProfile) error {
	if m.profiles == nil {
		m.profiles = make(map[string]*models.UserProfile)
	}
	cp := *profile
	m.profiles[profile.UserID] = &cp
	m.lastUpserts = append(m.lastUpserts, &cp)
	return nil
}

type stubHasher struct{}

func (stubHasher) Hash(plaintext string) (string, error) { return "hashed:" + plaintext, nil }

func (stubHasher) Verify(plaintext, hash string) bool { return hash == "hashed:"+plaintext }

type recordingAudit struct {
	entries []*models.AuditLog
}

func (r *recordingAudit) Record(entry *models.AuditLog) {
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) actions() []string {
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type stubCacheRepo struct {
	store map[string][]byte
}

func (s *stubCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if s.store == nil {
		return appErrors.ErrCacheMiss
	}
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCacheRepo) DeleteByPattern(_ context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range s.store {
		if strings.HasPrefix(key, prefix) {
			delete(s.store, key)
		}
	}
	return nil
}

func newUserService(repo *mockUserRepo, cache *CacheService, audit auditRecorder) *UserService {
	return NewUserService(UserServiceParams{
		Repo:      repo,
		Cache:     cache,
		Passwords: stubHasher{},
		Audit:     audit,
		Validator: validator.New(),
		Logger:    zap.NewNop(),
		CacheTTL:  time.Minute,
	})
}

func TestUserServiceListCaching(t *testing.T) {
	repo := &mockUserRepo{listUsers: []models.User{{ID: "u1", Email: "a@example.com"}}, listTotal: 1}
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := newUserService(repo, cacheSvc, nil)
	ctx := context.Background()

	users, pagination, cacheHit, err := svc.List(ctx, models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 1, repo.listCalls)

	again, pagination2, cacheHit2, err := svc.List(ctx, models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.True(t, cacheHit2)
	assert.Equal(t, users, again)
	assert.Equal(t, pagination.TotalCount, pagination2.TotalCount)
	assert.Equal(t, 1, repo.listCalls)
}

func TestUserServiceListDefaultsPagination(t *testing.T) {
	repo := &mockUserRepo{listUsers: nil, listTotal: 0}
	svc := newUserService(repo, nil, nil)

	_, pagination, _, err := svc.List(context.Background(), models.UserFilter{Page: -3, PageSize: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}

func TestUserServiceGetCaching(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {ID: "u1", Email: "a@example.com", Active: true}}}
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := newUserService(repo, cacheSvc, nil)
	ctx := context.Background()

	user, cacheHit, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, 1, repo.findCalls)

	cached, cacheHit2, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cacheHit2)
	assert.Equal(t, user.Email, cached.Email)
	assert.Equal(t, 1, repo.findCalls)
}

func TestUserServiceGetNotFound(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	_, _, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceRegister(t *testing.T) {
	repo := &mockUserRepo{}
	audit := &recordingAudit{}
	svc := newUserService(repo, nil, audit)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "NEW@Example.com",
		Password: "password1",
		Username: "newbie",
	}, models.RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, user.Active)
	assert.False(t, user.Superuser)
	assert.False(t, user.Verified)
	assert.Equal(t, "hashed:password1", user.PasswordHash)
	assert.Contains(t, audit.actions(), models.AuditActionRegister)
}

func TestUserServiceRegisterDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {ID: "u1", Email: "new@example.com"}}}
	svc := newUserService(repo, nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		Password: "password1",
	}, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceRegisterValidation(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "not-an-email",
		Password: "short",
	}, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateDefaultsActive(t *testing.T) {
	repo := &mockUserRepo{}
	audit := &recordingAudit{}
	svc := newUserService(repo, nil, audit)

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:     "ops@example.com",
		Password:  "password1",
		Superuser: true,
	}, "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, user.Active)
	assert.True(t, user.Superuser)
	assert.Contains(t, audit.actions(), models.AuditActionUserCreate)
	require.NotEmpty(t, audit.entries)
	assert.Equal(t, "admin-1", *audit.entries[0].UserID)
}

func TestUserServiceCreateInactive(t *testing.T) {
	repo := &mockUserRepo{}
	svc := newUserService(repo, nil, nil)

	inactive := false
	user, err := svc.Create(context.Background(), CreateUserRequest{
		Email:    "dormant@example.com",
		Password: "password1",
		Active:   &inactive,
	}, "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, user.Active)
}

func TestUserServiceUpdateMergesFields(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {
		ID: "u1", Email: "a@example.com", Username: "olduser", FullName: "Old Name",
		PasswordHash: "hashed:original", Active: true,
	}}}
	audit := &recordingAudit{}
	svc := newUserService(repo, nil, audit)

	name := "New Name"
	password := "rotated-pass"
	user, err := svc.Update(context.Background(), "u1", UpdateUserRequest{
		FullName: &name,
		Password: &password,
	}, "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "New Name", user.FullName)
	assert.Equal(t, "olduser", user.Username)
	assert.Equal(t, "hashed:rotated-pass", user.PasswordHash)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Contains(t, audit.actions(), models.AuditActionUserUpdate)
}

func TestUserServiceUpdateNotFound(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	name := "New Name"
	_, err := svc.Update(context.Background(), "missing", UpdateUserRequest{FullName: &name}, "admin-1", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateSelfIgnoresFlags(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {
		ID: "u1", Email: "a@example.com", Username: "olduser", Active: true, Superuser: false,
	}}}
	svc := newUserService(repo, nil, nil)

	username := "renamed"
	user, err := svc.UpdateSelf(context.Background(), "u1", UpdateSelfRequest{Username: &username}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Username)
	assert.False(t, user.Superuser)
	assert.True(t, user.Active)
}

func TestUserServiceDelete(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"u1": {ID: "u1", Email: "a@example.com", Active: true}}}
	audit := &recordingAudit{}
	svc := newUserService(repo, nil, audit)

	err := svc.Delete(context.Background(), "u1", "admin-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, repo.deleted)
	assert.False(t, repo.users["u1"].Active)
	assert.Contains(t, audit.actions(), models.AuditActionUserDelete)
}

func TestUserServiceMutationInvalidatesListCache(t *testing.T) {
	repo := &mockUserRepo{
		users:     map[string]*models.User{"u1": {ID: "u1", Email: "a@example.com", Active: true}},
		listUsers: []models.User{{ID: "u1", Email: "a@example.com"}},
		listTotal: 1,
	}
	cacheSvc := NewCacheService(&stubCacheRepo{}, nil, time.Minute, zap.NewNop(), true)
	svc := newUserService(repo, cacheSvc, nil)
	ctx := context.Background()

	_, _, _, err := svc.List(ctx, models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)

	name := "Changed"
	_, err = svc.Update(ctx, "u1", UpdateUserRequest{FullName: &name}, "admin-1", models.RequestMeta{})
	require.NoError(t, err)

	_, _, cacheHit, err := svc.List(ctx, models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 2, repo.listCalls)
}

func TestUserServiceProfileNotFound(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	_, err := svc.Profile(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceProfileRoundTrip(t *testing.T) {
	repo := &mockUserRepo{}
	audit := &recordingAudit{}
	svc := newUserService(repo, nil, audit)
	ctx := context.Background()

	bio := "hello"
	saved, err := svc.UpdateProfile(ctx, "u1", UpdateProfileRequest{Bio: &bio}, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "u1", saved.UserID)
	require.NotNil(t, saved.Bio)
	assert.Equal(t, "hello", *saved.Bio)
	assert.Contains(t, audit.actions(), models.AuditActionProfileUpdate)

	loaded, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, saved.UserID, loaded.UserID)
}

func TestUserServiceProfileReplaceClearsOmittedFields(t *testing.T) {
	repo := &mockUserRepo{}
	svc := newUserService(repo, nil, nil)
	ctx := context.Background()

	bio := "first"
	phone := "123456"
	_, err := svc.UpdateProfile(ctx, "u1", UpdateProfileRequest{Bio: &bio, PhoneNumber: &phone}, models.RequestMeta{})
	require.NoError(t, err)

	only := "second"
	saved, err := svc.UpdateProfile(ctx, "u1", UpdateProfileRequest{Bio: &only}, models.RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, saved.Bio)
	assert.Equal(t, "second", *saved.Bio)
	assert.Nil(t, saved.PhoneNumber)
}

func TestUserServiceUpdateProfileValidation(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	bad := "not a url"
	_, err := svc.UpdateProfile(context.Background(), "u1", UpdateProfileRequest{AvatarURL: &bad}, models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceExportCSV(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := &mockUserRepo{listUsers: []models.User{{
		ID: "u1", Email: "a@example.com", Username: "usera", Active: true, CreatedAt: created,
	}}, listTotal: 1}
	svc := newUserService(repo, nil, nil)

	payload, filename, err := svc.Export(context.Background(), models.UserFilter{}, "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filename, "users_"))
	assert.True(t, strings.HasSuffix(filename, ".csv"))
	content := string(payload)
	assert.Contains(t, content, "ID,Email,Username")
	assert.Contains(t, content, "a@example.com")
	assert.Contains(t, content, "2025-03-01T10:00:00Z")
}

func TestUserServiceExportPDF(t *testing.T) {
	repo := &mockUserRepo{listUsers: []models.User{{ID: "u1", Email: "a@example.com"}}, listTotal: 1}
	svc := newUserService(repo, nil, nil)

	payload, filename, err := svc.Export(context.Background(), models.UserFilter{}, "pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".pdf"))
	assert.True(t, len(payload) > 0)
	assert.Equal(t, "%PDF", string(payload[:4]))
}

func TestUserServiceExportDefaultsToCSV(t *testing.T) {
	repo := &mockUserRepo{listUsers: nil, listTotal: 0}
	svc := newUserService(repo, nil, nil)

	_, filename, err := svc.Export(context.Background(), models.UserFilter{}, "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(filename, ".csv"))
}

func TestUserServiceExportUnsupportedFormat(t *testing.T) {
	svc := newUserService(&mockUserRepo{}, nil, nil)

	_, _, err := svc.Export(context.Background(), models.UserFilter{}, "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestMakeUserCacheKeySkipsEmptyAndEscapes(t *testing.T) {
	key := makeUserCacheKey("list", "", "p=1", "q=a:b")
	assert.Equal(t, "users:list:p=1:q=a|b", key)
}
