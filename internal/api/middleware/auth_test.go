package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventmarket/server/internal/auth"
	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/utils"
)

const testSecret = "middleware-secret"

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	actor := models.Actor{ID: utils.NewSixID(), Role: models.RoleProvider}
	token, err := auth.GenerateJWT(actor, testSecret, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", AuthMiddleware(testSecret), func(c *gin.Context) {
		fromGin, _ := CurrentActor(c)
		fromCtx, _ := services.ActorFromContext(c.Request.Context())
		assert.Equal(t, fromGin, fromCtx)
		c.JSON(http.StatusOK, fromGin)
	})
	r.GET("/offer", AuthMiddleware(testSecret), RoleMiddleware(models.RoleProvider, models.RoleBusiness), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"valid", "/me", "Bearer " + token, http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"malformed", "/me", "Token " + token, http.StatusUnauthorized},
		{"wrong secret", "/me", "Bearer " + mustToken(t, actor, "other"), http.StatusUnauthorized},
		{"role allowed", "/offer", "Bearer " + token, http.StatusNoContent},
		{"role denied", "/offer", "Bearer " + mustToken(t, models.Actor{ID: utils.NewSixID(), Role: models.RoleClient}, testSecret), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", OptionalAuthMiddleware(testSecret), func(c *gin.Context) {
		_, ok := CurrentActor(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
}

func mustToken(t *testing.T, actor models.Actor, secret string) string {
	token, err := auth.GenerateJWT(actor, secret, time.Hour)
	require.NoError(t, err)
	return token
}
