package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Ayash-Bera/intake/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// RateLimiter counts requests per client IP in fixed one-minute windows.
type RateLimiter struct {
	counts *cache.Cache
	rate   int
	now    func() time.Time
}

// NewRateLimiter allows rate requests per minute per IP. A rate of zero
// disables limiting.
func NewRateLimiter(rate int) *RateLimiter {
	return &RateLimiter{
		counts: cache.New(2*time.Minute, 5*time.Minute),
		rate:   rate,
		now:    time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	key := fmt.Sprintf("%s:%d", ip, rl.now().Unix()/60)
	n, err := rl.counts.IncrementInt64(key, 1)
	if err != nil {
		if addErr := rl.counts.Add(key, int64(1), cache.DefaultExpiration); addErr == nil {
			return true
		}
		n, _ = rl.counts.IncrementInt64(key, 1)
	}
	return n <= int64(rl.rate)
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 || rl.allow(c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", "60")
		utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
		c.Abort()
	}
}
