package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout bounds every request by d. Handlers pass c.Request.Context() down
// to the services, which give up once it is done.
//
// Go Learning Note: context.WithTimeout
// The derived context is canceled when d elapses or when cancel runs,
// whichever comes first. The defer guarantees cancel runs so the timer is
// released even on the fast path.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
