package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", BearerAuth(token), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/api/logs", BearerAuth(token), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestBearerAuthAllowsAllWhenTokenUnset(t *testing.T) {
	r := newTestEngine("")
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuthRejectsMissingToken(t *testing.T) {
	r := newTestEngine("secret")
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuthAcceptsAuthorizationHeader(t *testing.T) {
	r := newTestEngine("secret")
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuthAcceptsQueryTokenForSSE(t *testing.T) {
	r := newTestEngine("secret")
	req := httptest.NewRequest(http.MethodGet, "/api/logs?token=secret", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerAuthRejectsQueryTokenOnNonSSERoutes(t *testing.T) {
	r := newTestEngine("secret")
	req := httptest.NewRequest(http.MethodGet, "/protected?token=secret", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query-param fallback is scoped to the SSE log route only")
}

func TestBearerAuthRejectsWrongToken(t *testing.T) {
	r := newTestEngine("secret")
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
