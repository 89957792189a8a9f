package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/models"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
	"github.com/zivenyang/auth-api/pkg/response"
)

// RequireAdmin restricts a route to superuser accounts.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !user.Superuser {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminOrSelf lets superusers through unconditionally; other callers pass
// only when the :id route parameter is their own id.
func AdminOrSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if user.Superuser || c.Param("id") == user.ID {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

func currentUser(c *gin.Context) (*models.User, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*models.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}
