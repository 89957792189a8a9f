package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zivenyang/auth-api/internal/models"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
)

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// RevocationStore is the shared set of revoked token identifiers. Entries
// expire on their own once the token they belong to would have expired.
type RevocationStore interface {
	Revoke(ctx context.Context, key string, ttl time.Duration) error
	IsRevoked(ctx context.Context, key string) (bool, error)
}

type tokenCodec interface {
	Issue(subject string) (string, error)
	Decode(raw string) (*models.AccessClaims, error)
}

type credentialVerifier interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

type auditRecorder interface {
	Record(entry *models.AuditLog)
}

// AuthServiceParams groups constructor dependencies.
type AuthServiceParams struct {
	Users       authUserRepository
	Revocations RevocationStore
	Tokens      tokenCodec
	Passwords   credentialVerifier
	Audit       auditRecorder
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// AuthService authenticates bearer tokens and drives the login and logout
// flows. Authenticate walks a fixed chain: decode, expiry check, revocation
// check, subject lookup, active check. Each step terminates with its own
// error kind so the transport layer can map them to status codes.
type AuthService struct {
	users       authUserRepository
	revocations RevocationStore
	tokens      tokenCodec
	passwords   credentialVerifier
	audit       auditRecorder
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(params AuthServiceParams) *AuthService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:       params.Users,
		revocations: params.Revocations,
		tokens:      params.Tokens,
		passwords:   params.Passwords,
		audit:       params.Audit,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// Authenticate resolves a raw bearer token into the caller's user record.
// The revocation check runs after decode because the revocation key lives
// inside the payload, and before the subject lookup so revoked tokens never
// cost a database round trip.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string) (*models.User, error) {
	claims, err := s.tokens.Decode(rawToken)
	if err != nil {
		s.recordAuthFailure("malformed")
		return nil, err
	}

	if !claims.ExpiresAt.Time.After(s.now()) {
		s.recordAuthFailure("expired")
		return nil, appErrors.Clone(appErrors.ErrTokenExpired, "")
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.RevocationKey())
	if err != nil {
		// Fail closed: an unreachable store must never admit a revoked token.
		s.logger.Warn("revocation check failed, treating token as revoked",
			zap.String("key", claims.RevocationKey()), zap.Error(err))
		revoked = true
	}
	if revoked {
		s.recordAuthFailure("revoked")
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordAuthFailure("not_found")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err,"failed to load user")
	}

	if !user.Active {
		s.recordAuthFailure("inactive")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	return user, nil
}

// Login verifies credentials and issues a fresh access token. The login field
// is matched against emails first, then usernames. Unknown account and wrong
// password collapse into the same error so the response does not reveal which
// check failed.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.RequestMeta) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid login payload")
	}

	user, err := s.resolveAccount(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Internal(err,"failed to fetch user")
	}

	if !s.passwords.Verify(req.Password, user.PasswordHash) {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !user.Active {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInactiveLogin, "")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, appErrors.Internal(err,"failed to issue token")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.recordLogin(true)
	s.recordAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return &models.TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// Logout revokes the presented token for the remainder of its lifetime. The
// caller already authenticated with this exact token, so decoding it again
// cannot fail under normal operation. A second logout with the same token
// never reaches this method: authentication rejects it as revoked.
func (s *AuthService) Logout(ctx context.Context, rawToken string, identity *models.User, meta models.RequestMeta) error {
	claims, err := s.tokens.Decode(rawToken)
	if err != nil {
		return err
	}

	// Tokens without a jti revoke under the subject id, which logs out every
	// jti-less session of that user at once.
	key := claims.RevocationKey()

	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining > 0 {
		if err := s.revocations.Revoke(ctx, key, remaining); err != nil {
			// The token dies at its natural expiry regardless, so a failed
			// write downgrades to a logged warning instead of failing the
			// user-visible logout.
			s.logger.Warn("failed to record revocation", zap.String("key", key), zap.Error(err))
		} else {
			s.recordRevocation()
		}
	}

	var userID *string
	if identity != nil {
		userID = &identity.ID
	}
	s.recordAudit(&models.AuditLog{
		UserID:     userID,
		Action:     models.AuditActionLogout,
		Resource:   "auth",
		ResourceID: userID,
		NewValues:  []byte(`{"status":"logout"}`),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	})

	return nil
}

func (s *AuthService) resolveAccount(ctx context.Context, login string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, strings.ToLower(login))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return s.users.FindByUsername(ctx, login)
}

func (s *AuthService) recordAudit(entry *models.AuditLog) {
	if s.audit != nil {
		s.audit.Record(entry)
	}
}

func (s *AuthService) recordAuthFailure(reason string) {
	if s.metrics != nil {
		s.metrics.RecordAuthFailure(reason)
	}
}

func (s *AuthService) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *AuthService) recordRevocation() {
	if s.metrics != nil {
		s.metrics.RecordTokenRevocation()
	}
}
