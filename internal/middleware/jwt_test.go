package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/zivenyang/auth-api/internal/models"
	"github.com/zivenyang/auth-api/internal/service"
)

type stubUserDirectory struct {
	users map[string]*models.User
}

func (s *stubUserDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserDirectory) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubUserDirectory) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

type stubRevocations struct {
	revoked map[string]bool
	err     error
}

func (s *stubRevocations) Revoke(ctx context.Context, key string, ttl time.Duration) error {
	s.revoked[key] = true
	return nil
}

func (s *stubRevocations) IsRevoked(ctx context.Context, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[key], nil
}

func newJWTTestStack(t *testing.T, users map[string]*models.User) (*service.AuthService, *service.TokenService, *stubRevocations) {
	t.Helper()
	tokens, err := service.NewTokenService(service.TokenConfig{Secret: "middleware-test-secret", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	revocations := &stubRevocations{revoked: map[string]bool{}}
	auth := service.NewAuthService(service.AuthServiceParams{
		Users:       &stubUserDirectory{users: users},
		Revocations: revocations,
		Tokens:      tokens,
		Passwords:   service.NewPasswordService(bcrypt.MinCost),
		Logger:      zap.NewNop(),
	})
	return auth, tokens, revocations
}

func newProtectedRouter(auth *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", JWT(auth), func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		user, ok := value.(*models.User)
		if !exists || !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID, "token": c.GetString(ContextTokenKey)})
	})
	return router
}

func TestJWTMiddlewareMissingHeader(t *testing.T) {
	auth, _, _ := newJWTTestStack(t, nil)
	router := newProtectedRouter(auth)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareMalformedHeader(t *testing.T) {
	auth, _, _ := newJWTTestStack(t, nil)
	router := newProtectedRouter(auth)

	for _, header := range []string{"token-without-scheme", "Basic dXNlcjpwYXNz"} {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", header)
		router.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: unexpected status: %d", header, recorder.Code)
		}
		if !strings.Contains(recorder.Body.String(), "invalid authorization header") {
			t.Fatalf("header %q: unexpected body: %s", header, recorder.Body.String())
		}
	}
}

func TestJWTMiddlewareGarbageToken(t *testing.T) {
	auth, _, _ := newJWTTestStack(t, nil)
	router := newProtectedRouter(auth)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareValidToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true}
	auth, tokens, _ := newJWTTestStack(t, map[string]*models.User{user.ID: user})
	router := newProtectedRouter(auth)

	token, err := tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), `"id":"u1"`) {
		t.Fatalf("expected user id in body: %s", recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), token) {
		t.Fatalf("expected raw token on context: %s", recorder.Body.String())
	}
}

func TestJWTMiddlewareLowercaseScheme(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true}
	auth, tokens, _ := newJWTTestStack(t, map[string]*models.User{user.ID: user})
	router := newProtectedRouter(auth)

	token, err := tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "bearer "+token)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareRevokedToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true}
	auth, tokens, revocations := newJWTTestStack(t, map[string]*models.User{user.ID: user})
	router := newProtectedRouter(auth)

	token, err := tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := tokens.Decode(token)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	revocations.revoked[claims.RevocationKey()] = true

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "TOKEN_REVOKED") {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestJWTMiddlewareInactiveUser(t *testing.T) {
	user := &models.User{ID: "u1", Email: "ann@example.com", Username: "ann", Active: false}
	auth, tokens, _ := newJWTTestStack(t, map[string]*models.User{user.ID: user})
	router := newProtectedRouter(auth)

	token, err := tokens.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}
