package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zivenyang/auth-api/internal/models"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
	"github.com/zivenyang/auth-api/pkg/export"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *models.UserProfile) error
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// exportPageLimit caps how many rows a single export renders.
const exportPageLimit = 1000

// CreateUserRequest represents the admin payload for creating users.
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Username  string `json:"username" validate:"omitempty,min=3,max=50"`
	FullName  string `json:"full_name" validate:"omitempty,max=100"`
	Active    *bool  `json:"active"`
	Superuser bool   `json:"superuser"`
	Verified  bool   `json:"verified"`
}

// UpdateUserRequest represents the admin payload for updating users.
type UpdateUserRequest struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=50"`
	FullName  *string `json:"full_name" validate:"omitempty,max=100"`
	Password  *string `json:"password" validate:"omitempty,min=8"`
	Active    *bool   `json:"active"`
	Superuser *bool   `json:"superuser"`
	Verified  *bool   `json:"verified"`
}

// UpdateSelfRequest represents the self-service account update payload.
type UpdateSelfRequest struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=50"`
	FullName *string `json:"full_name" validate:"omitempty,max=100"`
	Password *string `json:"password" validate:"omitempty,min=8"`
}

// UpdateProfileRequest replaces the caller's profile fields. Absent fields
// clear their columns; profile PUT is a full replace, not a merge.
type UpdateProfileRequest struct {
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url"`
	Bio         *string `json:"bio" validate:"omitempty,max=500"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Address     *string `json:"address" validate:"omitempty,max=255"`
}

type userListPage struct {
	Users []models.User `json:"users"`
	Total int           `json:"total"`
}

// UserServiceParams groups constructor dependencies.
type UserServiceParams struct {
	Repo      userRepository
	Cache     *CacheService
	Metrics   *MetricsService
	Passwords credentialVerifier
	Audit     auditRecorder
	Validator *validator.Validate
	Logger    *zap.Logger
	CacheTTL  time.Duration
}

// UserService handles account management workflows. Reads go through the
// response cache when one is configured; every mutation invalidates the whole
// users namespace so list and detail reads never serve stale rows.
type UserService struct {
	repo      userRepository
	cache     *CacheService
	metrics   *MetricsService
	passwords credentialVerifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
	csv       csvRenderer
	pdf       pdfRenderer
	now       func() time.Time
}

// NewUserService constructs a UserService instance.
func NewUserService(params UserServiceParams) *UserService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:      params.Repo,
		cache:     params.Cache,
		metrics:   params.Metrics,
		passwords: params.Passwords,
		audit:     params.Audit,
		validator: validate,
		logger:    logger,
		cacheTTL:  params.CacheTTL,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		now:       time.Now,
	}
}

// List returns paginated users and pagination metadata. The boolean reports
// whether the page came from cache.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, bool, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	cacheKey := s.listCacheKey(filter, page, pageSize)
	var cached userListPage
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached.Users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: cached.Total}, true, nil
		}
	}

	start := time.Now()
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, false, appErrors.Internal(err,"failed to list users")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("users_list", time.Since(start))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, userListPage{Users: users, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("cache user list", zap.Error(err))
		}
	}

	return users, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, false, nil
}

// Get returns a user by ID. The boolean reports whether the record came from
// cache.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, bool, error) {
	cacheKey := makeUserCacheKey("id", id)
	var cached models.User
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, false, appErrors.Internal(err,"failed to load user")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("users_get", time.Since(start))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, user, s.cacheTTL); err != nil {
			s.logger.Warn("cache user", zap.String("id", id), zap.Error(err))
		}
	}

	return user, false, nil
}

// Register creates a self-service account: active, non-admin, unverified.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err,"invalid registration payload")
	}

	if err := s.ensureEmailFree(ctx, req.Email); err != nil {
		return nil, err
	}

	passwordHash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err,"failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		Username:     req.Username,
		PasswordHash: passwordHash,
		FullName:     req.FullName,
		Active:       true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Internal(err,"failed to create user")
	}

	s.invalidateCache(ctx)

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email})
	s.recordUserAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRegister,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return user, nil
}

// Create adds a new user on behalf of an administrator.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err,"invalid create user payload")
	}

	if err := s.ensureEmailFree(ctx, req.Email); err != nil {
		return nil, err
	}

	passwordHash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Internal(err,"failed to hash password")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(req.Email),
		Username:     req.Username,
		PasswordHash: passwordHash,
		FullName:     req.FullName,
		Active:       active,
		Superuser:    req.Superuser,
		Verified:     req.Verified,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Internal(err,"failed to create user")
	}

	s.invalidateCache(ctx)

	newPayload, _ := json.Marshal(map[string]interface{}{"id": user.ID, "email": user.Email, "superuser": user.Superuser})
	s.recordUserAudit(&models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return user, nil
}

// Update modifies user attributes on behalf of an administrator.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err,"invalid update payload")
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{
		"username": user.Username, "full_name": user.FullName,
		"active": user.Active, "superuser": user.Superuser, "verified": user.Verified,
	})

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.Superuser != nil {
		user.Superuser = *req.Superuser
	}
	if req.Verified != nil {
		user.Verified = *req.Verified
	}
	passwordChanged := false
	if req.Password != nil {
		hash, err := s.passwords.Hash(*req.Password)
		if err != nil {
			return nil, appErrors.Internal(err,"failed to hash password")
		}
		user.PasswordHash = hash
		passwordChanged = true
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Internal(err,"failed to update user")
	}

	s.invalidateCache(ctx)

	newPayload, _ := json.Marshal(map[string]interface{}{
		"username": user.Username, "full_name": user.FullName,
		"active": user.Active, "superuser": user.Superuser, "verified": user.Verified,
		"password_changed": passwordChanged,
	})
	s.recordUserAudit(&models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return user, nil
}

// UpdateSelf lets the caller change their own username, full name, or
// password. Flag fields stay untouched.
func (s *UserService) UpdateSelf(ctx context.Context, userID string, req UpdateSelfRequest, meta models.RequestMeta) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err,"invalid account update payload")
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldPayload, _ := json.Marshal(map[string]interface{}{"username": user.Username, "full_name": user.FullName})

	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.FullName != nil {
		user.FullName = *req.FullName
	}
	passwordChanged := false
	if req.Password != nil {
		hash, err := s.passwords.Hash(*req.Password)
		if err != nil {
			return nil, appErrors.Internal(err,"failed to hash password")
		}
		user.PasswordHash = hash
		passwordChanged = true
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Internal(err,"failed to update user")
	}

	s.invalidateCache(ctx)

	newPayload, _ := json.Marshal(map[string]interface{}{
		"username": user.Username, "full_name": user.FullName, "password_changed": passwordChanged,
	})
	s.recordUserAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return user, nil
}

// Delete performs a soft delete (marks inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.RequestMeta) error {
	user, err := s.loadUser(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err,"failed to delete user")
	}

	s.invalidateCache(ctx)

	oldPayload, _ := json.Marshal(map[string]interface{}{"active": user.Active})
	newPayload, _ := json.Marshal(map[string]interface{}{"active": false})
	s.recordUserAudit(&models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionUserDelete,
		Resource:   "users",
		ResourceID: &user.ID,
		OldValues:  oldPayload,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return nil
}

// Profile returns the caller's profile. It stays a 404 until the first
// profile write.
func (s *UserService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Internal(err,"failed to load profile")
	}
	return profile, nil
}

// UpdateProfile creates or replaces the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest, meta models.RequestMeta) (*models.UserProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err,"invalid profile payload")
	}

	profile := &models.UserProfile{
		ID:          uuid.NewString(),
		UserID:      userID,
		AvatarURL:   req.AvatarURL,
		Bio:         req.Bio,
		PhoneNumber: req.PhoneNumber,
		Address:     req.Address,
	}

	if err := s.repo.UpsertProfile(ctx, profile); err != nil {
		return nil, appErrors.Internal(err,"failed to save profile")
	}

	s.invalidateCache(ctx)

	newPayload, _ := json.Marshal(req)
	s.recordUserAudit(&models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionProfileUpdate,
		Resource:   "user_profiles",
		ResourceID: &profile.ID,
		NewValues:  newPayload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return profile, nil
}

// Export renders the filtered user list as a downloadable file. Supported
// formats are csv and pdf.
func (s *UserService) Export(ctx context.Context, filter models.UserFilter, format string) ([]byte, string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > exportPageLimit {
		filter.PageSize = exportPageLimit
	}

	start := time.Now()
	users, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Internal(err,"failed to list users")
	}
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("users_export", time.Since(start))
	}

	dataset := buildUserDataset(users)
	var payload []byte
	switch format {
	case "csv":
		payload, err = s.csv.Render(dataset)
	case "pdf":
		payload, err = s.pdf.Render(dataset, "User Accounts")
	}
	if err != nil {
		return nil, "", appErrors.Internal(err,"failed to render export")
	}

	filename := fmt.Sprintf("users_%s.%s", s.now().UTC().Format("20060102_150405"), format)
	return payload, filename, nil
}

func (s *UserService) loadUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err,"failed to load user")
	}
	return user, nil
}

func (s *UserService) ensureEmailFree(ctx context.Context, email string) error {
	if _, err := s.repo.FindByEmail(ctx, strings.ToLower(email)); err == nil {
		return appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Internal(err,"failed to check email uniqueness")
	}
	return nil
}

func (s *UserService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "users:*"); err != nil {
		s.logger.Warn("user cache invalidation failed", zap.Error(err))
	}
}

func (s *UserService) recordUserAudit(entry *models.AuditLog) {
	if s.audit != nil {
		s.audit.Record(entry)
	}
}

func (s *UserService) listCacheKey(filter models.UserFilter, page, pageSize int) string {
	return makeUserCacheKey("list",
		"p="+strconv.Itoa(page),
		"ps="+strconv.Itoa(pageSize),
		prefixedBool("active", filter.Active),
		prefixedBool("verified", filter.Verified),
		prefixedPart("q", filter.Search),
		prefixedPart("sort", filter.SortBy),
		prefixedPart("order", filter.SortOrder),
	)
}

func makeUserCacheKey(parts ...string) string {
	var builder strings.Builder
	builder.Grow(len(parts) * 16)
	builder.WriteString("users")
	for _, part := range parts {
		if part == "" {
			continue
		}
		builder.WriteByte(':')
		builder.WriteString(strings.ReplaceAll(part, ":", "|"))
	}
	return builder.String()
}

func prefixedPart(prefix, value string) string {
	if value == "" {
		return ""
	}
	return prefix + "=" + value
}

func prefixedBool(prefix string, value *bool) string {
	if value == nil {
		return ""
	}
	return prefix + "=" + strconv.FormatBool(*value)
}

func buildUserDataset(users []models.User) export.Dataset {
	rows := make([]map[string]string, 0, len(users))
	for _, user := range users {
		rows = append(rows, map[string]string{
			"ID":         user.ID,
			"Email":      user.Email,
			"Username":   user.Username,
			"Full Name":  user.FullName,
			"Active":     strconv.FormatBool(user.Active),
			"Admin":      strconv.FormatBool(user.Superuser),
			"Verified":   strconv.FormatBool(user.Verified),
			"Last Login": formatExportTime(user.LastLogin),
			"Created At": user.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Headers: []string{"ID", "Email", "Username", "Full Name", "Active", "Admin", "Verified", "Last Login", "Created At"},
		Rows:    rows,
	}
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
