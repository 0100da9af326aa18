package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"eventmarket/server/internal/config"
)

func setupLimitedEngine(cfg *config.Config) (*gin.Engine, *RateLimiterMiddleware) {
	gin.SetMode(gin.TestMode)
	rm := NewRateLimiterMiddleware(cfg)
	r := gin.New()
	r.Use(rm.Limit())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	return r, rm
}

func doRequest(r http.Handler, remote, clientID string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remote
	if clientID != "" {
		req.Header.Set("X-Client-ID", clientID)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_BucketPerClient(t *testing.T) {
	r, rm := setupLimitedEngine(&config.Config{RateLimitBucketSize: 2, RateLimitRefillRate: 1})
	defer rm.Close()

	assert.Equal(t, http.StatusOK, doRequest(r, "1.2.3.4:1000", ""))
	assert.Equal(t, http.StatusOK, doRequest(r, "1.2.3.4:1001", ""))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(r, "1.2.3.4:1002", ""))

	assert.Equal(t, http.StatusOK, doRequest(r, "5.6.7.8:1000", ""), "other IPs have their own bucket")
	assert.Equal(t, http.StatusOK, doRequest(r, "1.2.3.4:1003", "tab-2"), "client id splits the bucket")
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rm := NewRateLimiterMiddleware(&config.Config{RateLimitBucketSize: 1, RateLimitRefillRate: 1})
	defer rm.Close()

	rm.clientLimiter("a")
	rm.clientLimiter("b")
	rm.clients["a"].lastSeen = time.Now().Add(-time.Hour)

	assert.Equal(t, 1, rm.evictIdle(time.Now()))
	assert.Contains(t, rm.clients, "b")
	assert.NotContains(t, rm.clients, "a")
}
