package middleware

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/models"
	"github.com/zivenyang/auth-api/internal/service"
)

// Audit records an audit entry once a request finishes successfully. The
// entry rides the async audit queue, so the response never waits on the
// write. Failed requests leave no trail; the access log already covers them.
func Audit(audit *service.AuditService, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if audit == nil || c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if user, ok := currentUser(c); ok {
			userID = &user.ID
		}

		summary, _ := json.Marshal(map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		})

		audit.Record(&models.AuditLog{
			UserID:    userID,
			Action:    action,
			Resource:  resource,
			NewValues: summary,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
	}
}
