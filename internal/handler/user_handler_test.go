package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zivenyang/auth-api/internal/middleware"
	"github.com/zivenyang/auth-api/internal/models"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUserHandlerList(t *testing.T) {
	stack := newHandlerStack(t)
	stack.repo.listUsers = []models.User{
		{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true},
		{ID: "u2", Email: "bob@example.com", Username: "bob", Active: true},
	}
	stack.repo.listTotal = 2

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users?page=2&page_size=5&active=true&search=ann", nil)

	stack.users.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope listEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 2)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 2, envelope.Pagination.Page)
	assert.Equal(t, 5, envelope.Pagination.PageSize)
	assert.Equal(t, 2, envelope.Pagination.TotalCount)
	assert.Equal(t, false, envelope.Meta["cache_hit"])

	assert.Equal(t, 2, stack.repo.lastFilter.Page)
	assert.Equal(t, 5, stack.repo.lastFilter.PageSize)
	require.NotNil(t, stack.repo.lastFilter.Active)
	assert.True(t, *stack.repo.lastFilter.Active)
	assert.Equal(t, "ann", stack.repo.lastFilter.Search)
}

func TestUserHandlerMe(t *testing.T) {
	stack := newHandlerStack(t)
	user := stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	c.Set(middleware.ContextUserKey, user)

	stack.users.Me(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "u1", envelope.Data["id"])
	assert.NotContains(t, rec.Body.String(), "password_hash")
}

func TestUserHandlerUpdateMe(t *testing.T) {
	stack := newHandlerStack(t)
	user := stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPut, "/users/me", `{"full_name":"Ann Example"}`)
	c.Set(middleware.ContextUserKey, user)

	stack.users.UpdateMe(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "Ann Example", envelope.Data["full_name"])
	assert.Equal(t, "Ann Example", stack.repo.users["u1"].FullName)
}

func TestUserHandlerGet(t *testing.T) {
	stack := newHandlerStack(t)
	stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/u1", nil)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}

	stack.users.Get(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "u1", envelope.Data["id"])
	assert.Equal(t, false, envelope.Meta["cache_hit"])
}

func TestUserHandlerGetNotFound(t *testing.T) {
	stack := newHandlerStack(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	stack.users.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestUserHandlerCreate(t *testing.T) {
	stack := newHandlerStack(t)
	admin := stack.seedUser(t, "admin", "admin@example.com", "admin", "secret123", true)
	admin.Superuser = true

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/users", `{"email":"bob@example.com","password":"secret123","username":"bob"}`)
	c.Set(middleware.ContextUserKey, admin)

	stack.users.Create(c)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "bob@example.com", envelope.Data["email"])
	require.Len(t, stack.repo.created, 1)
}

func TestUserHandlerCreateDuplicateEmail(t *testing.T) {
	stack := newHandlerStack(t)
	admin := stack.seedUser(t, "admin", "admin@example.com", "admin", "secret123", true)
	stack.seedUser(t, "u1", "bob@example.com", "bob", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPost, "/users", `{"email":"bob@example.com","password":"secret123"}`)
	c.Set(middleware.ContextUserKey, admin)

	stack.users.Create(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUserHandlerUpdate(t *testing.T) {
	stack := newHandlerStack(t)
	admin := stack.seedUser(t, "admin", "admin@example.com", "admin", "secret123", true)
	stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPut, "/users/u1", `{"active":false,"verified":true}`)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}
	c.Set(middleware.ContextUserKey, admin)

	stack.users.Update(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, false, envelope.Data["active"])
	assert.Equal(t, true, envelope.Data["verified"])
	assert.False(t, stack.repo.users["u1"].Active)
}

func TestUserHandlerDelete(t *testing.T) {
	stack := newHandlerStack(t)
	admin := stack.seedUser(t, "admin", "admin@example.com", "admin", "secret123", true)
	stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodDelete, "/users/u1", nil)
	c.Params = gin.Params{{Key: "id", Value: "u1"}}
	c.Set(middleware.ContextUserKey, admin)

	stack.users.Delete(c)
	// Flush gin's buffered status to the recorder; the engine does this
	// after the handler chain, but a directly invoked handler does not.
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, []string{"u1"}, stack.repo.deleted)
}

func TestUserHandlerExportCSV(t *testing.T) {
	stack := newHandlerStack(t)
	stack.repo.listUsers = []models.User{{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true}}
	stack.repo.listTotal = 1

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/export?format=csv", nil)

	stack.users.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, `attachment; filename="users_`)
	assert.Contains(t, disposition, `.csv"`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "ID,Email"))
	assert.Contains(t, rec.Body.String(), "ann@example.com")
}

func TestUserHandlerExportPDF(t *testing.T) {
	stack := newHandlerStack(t)
	stack.repo.listUsers = []models.User{{ID: "u1", Email: "ann@example.com", Username: "ann", Active: true}}
	stack.repo.listTotal = 1

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/export?format=pdf", nil)

	stack.users.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `.pdf"`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestUserHandlerExportUnknownFormat(t *testing.T) {
	stack := newHandlerStack(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/export?format=xlsx", nil)

	stack.users.Export(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandlerProfileNotFound(t *testing.T) {
	stack := newHandlerStack(t)
	user := stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/me/profile", nil)
	c.Set(middleware.ContextUserKey, user)

	stack.users.Profile(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserHandlerProfileRoundTrip(t *testing.T) {
	stack := newHandlerStack(t)
	user := stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPut, "/users/me/profile", `{"bio":"hello","avatar_url":"https://example.com/a.png"}`)
	c.Set(middleware.ContextUserKey, user)

	stack.users.UpdateProfile(c)

	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/users/me/profile", nil)
	c.Set(middleware.ContextUserKey, user)

	stack.users.Profile(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "hello", envelope.Data["bio"])
	assert.Equal(t, "u1", envelope.Data["user_id"])
}

func TestUserHandlerUpdateProfileInvalidURL(t *testing.T) {
	stack := newHandlerStack(t)
	user := stack.seedUser(t, "u1", "ann@example.com", "ann", "secret123", true)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = jsonRequest(http.MethodPut, "/users/me/profile", `{"avatar_url":"not a url"}`)
	c.Set(middleware.ContextUserKey, user)

	stack.users.UpdateProfile(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserHandlerRequiresIdentity(t *testing.T) {
	stack := newHandlerStack(t)
	handlers := map[string]gin.HandlerFunc{
		"me":             stack.users.Me,
		"update_me":      stack.users.UpdateMe,
		"profile":        stack.users.Profile,
		"update_profile": stack.users.UpdateProfile,
		"create":         stack.users.Create,
		"update":         stack.users.Update,
		"delete":         stack.users.Delete,
	}

	for name, handler := range handlers {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/users", nil)

		handler(c)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}
