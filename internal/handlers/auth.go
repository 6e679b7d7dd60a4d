package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"book-monitor/internal/ratelimit"
)

// KeyAuth guards the API with static keys and a per-key request quota.
// With no keys configured the guard is disabled and requests pass through.
type KeyAuth struct {
	keys    map[string]struct{}
	limiter *ratelimit.KeyedLimiter
	log     zerolog.Logger
}

// NewKeyAuth creates the guard. A non-positive requestsPerMinute disables
// the quota but keeps key validation.
func NewKeyAuth(keys []string, requestsPerMinute int, log zerolog.Logger) *KeyAuth {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return &KeyAuth{
		keys:    allowed,
		limiter: ratelimit.NewKeyedLimiter(time.Minute, requestsPerMinute, requestsPerMinute > 0),
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// Middleware validates the request's API key and applies the per-key quota.
// The key is read from the Authorization bearer token or the X-API-Key
// header.
func (k *KeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(k.keys) == 0 {
			c.Next()
			return
		}

		key := requestKey(c)
		if _, ok := k.keys[key]; !ok {
			k.log.Warn().Str("path", c.FullPath()).Msg("rejected request with invalid api key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		if !k.limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

func requestKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("X-API-Key")
}
