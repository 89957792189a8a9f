package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header is the request id header honored on ingress and echoed on egress.
const Header = "X-Request-ID"

const contextKey = "request_id"

// Middleware tags every request with an id. An inbound X-Request-ID is
// trusted as-is so ids survive proxy hops; otherwise a fresh uuid is minted.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(Header)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(contextKey, id)
		c.Writer.Header().Set(Header, id)

		c.Next()
	}
}

// Value returns the request id assigned to this request, or empty when the
// middleware did not run.
func Value(c *gin.Context) string {
	return c.GetString(contextKey)
}
