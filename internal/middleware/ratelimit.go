package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"messaging-service/internal/observability"
)

// SendLimiter enforces the per-user message send quota with one token-bucket
// limiter per user.
type SendLimiter struct {
	mu       sync.Mutex
	limiters map[int]*rate.Limiter
	perMin   int
	burst    int
}

// NewSendLimiter builds a limiter pool allowing perMinute sends with the
// given burst.
func NewSendLimiter(perMinute, burst int) *SendLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &SendLimiter{
		limiters: make(map[int]*rate.Limiter),
		perMin:   perMinute,
		burst:    burst,
	}
}

func (l *SendLimiter) get(userID int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[userID]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.burst)
	l.limiters[userID] = lim
	return lim
}

// Allow reports whether the user may send now.
func (l *SendLimiter) Allow(userID int) bool {
	return l.get(userID).Allow()
}

// Middleware rejects over-quota sends with 429 and a retry hint. It must run
// after AuthMiddleware.
func (l *SendLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt(UserIDKey)
		if !l.Allow(userID) {
			observability.IncRateLimited()
			retryAfter := int(time.Minute.Seconds()) / l.perMin
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
			return
		}
		c.Next()
	}
}
