package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/service"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
	"github.com/zivenyang/auth-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated user.
const ContextUserKey = "currentUser"

// ContextTokenKey is the gin context key storing the raw bearer token.
const ContextTokenKey = "accessToken"

// JWT protects routes by resolving the bearer token into a user. The full
// chain runs on every request: signature, expiry, revocation, subject lookup,
// active flag. The raw token stays on the context so logout can revoke the
// exact token that authenticated the call.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		user, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextTokenKey, token)
		c.Next()
	}
}

// bearerToken pulls the token out of the Authorization header. The scheme
// comparison is case insensitive per RFC 7235.
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return token, nil
}
