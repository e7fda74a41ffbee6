package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(), func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	r.GET("/admin", AuthMiddleware(), AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, token string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestTokenRoundTrip(t *testing.T) {
	InitJWT("test-secret")
	token, err := GenerateToken(7, true, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.True(t, claims.IsAdmin)
}

func TestExpiredTokenRejected(t *testing.T) {
	InitJWT("test-secret")
	token, err := GenerateToken(7, false, -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token)
	assert.Error(t, err)
}

func TestMiddlewareGuards(t *testing.T) {
	InitJWT("test-secret")
	r := newRouter()
	user, err := GenerateToken(3, false, time.Hour)
	require.NoError(t, err)
	admin, err := GenerateToken(1, true, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", ""))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "garbage"))
	assert.Equal(t, http.StatusOK, do(r, "/me", user))
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", user))
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", admin))
}
