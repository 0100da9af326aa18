package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"eventmarket/server/internal/config"
)

const (
	limiterIdleTTL         = 30 * time.Minute
	limiterCleanupInterval = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterMiddleware applies a token bucket per client.
type RateLimiterMiddleware struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
	stop    chan struct{}
}

// NewRateLimiterMiddleware starts a janitor goroutine; call Close to stop it.
func NewRateLimiterMiddleware(cfg *config.Config) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(cfg.RateLimitRefillRate),
		burst:   cfg.RateLimitBucketSize,
		stop:    make(chan struct{}),
	}
	go rm.cleanupClients()
	return rm
}

// clientIdentifier keys by IP and the optional X-Client-ID header.
func clientIdentifier(c *gin.Context) string {
	return fmt.Sprintf("%s|%s", c.ClientIP(), c.GetHeader("X-Client-ID"))
}

func (rm *RateLimiterMiddleware) clientLimiter(identifier string) *rate.Limiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cl, ok := rm.clients[identifier]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rm.rate, rm.burst)}
		rm.clients[identifier] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (rm *RateLimiterMiddleware) cleanupClients() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stop:
			return
		case <-ticker.C:
			if n := rm.evictIdle(time.Now()); n > 0 {
				log.Printf("Rate limiter cleanup removed %d idle client entries.", n)
			}
		}
	}
}

func (rm *RateLimiterMiddleware) evictIdle(now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	count := 0
	for id, cl := range rm.clients {
		if now.Sub(cl.lastSeen) > limiterIdleTTL {
			delete(rm.clients, id)
			count++
		}
	}
	return count
}

func (rm *RateLimiterMiddleware) Close() {
	close(rm.stop)
}

// Limit returns the gin handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientIdentifier(c)
		if !rm.clientLimiter(key).Allow() {
			log.Printf("Rate limit exceeded for client %s on %s", key, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
