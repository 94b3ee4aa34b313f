package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bluele/gcache"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per authenticated user. Buckets for
// users that go quiet expire out of an LRU, so memory stays bounded by the
// number of recently active users.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int
	buckets   gcache.Cache
}

// NewRateLimiter allows perSecond requests per user with the given burst,
// tracking at most maxUsers buckets.
func NewRateLimiter(perSecond float64, burst, maxUsers int) *RateLimiter {
	rl := &RateLimiter{perSecond: rate.Limit(perSecond), burst: burst}
	rl.buckets = gcache.New(maxUsers).
		LRU().
		Expiration(10 * time.Minute).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return rate.NewLimiter(rl.perSecond, rl.burst), nil
		}).
		Build()
	return rl
}

func (rl *RateLimiter) limiter(userID string) *rate.Limiter {
	v, err := rl.buckets.Get(userID)
	if err != nil {
		return rate.NewLimiter(rl.perSecond, rl.burst)
	}
	return v.(*rate.Limiter)
}

// Allow reports whether userID may make a request now. When it may not, the
// returned duration says how long until it could.
func (rl *RateLimiter) Allow(userID string) (bool, time.Duration) {
	lim := rl.limiter(userID)
	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// RateLimit rejects requests over the caller's budget with 429. It must run
// after Auth; unauthenticated requests pass through untouched.
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if rl == nil || userID == "" {
			c.Next()
			return
		}
		if ok, wait := rl.Allow(userID); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many location updates"})
			return
		}
		c.Next()
	}
}
