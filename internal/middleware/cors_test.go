package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/fuzumoe/smartspider-api/internal/middleware"
)

func newCORSRouter(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORS(origins))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return r
}

func doCORSRequest(r *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	t.Run("AllowedOriginEchoed", func(t *testing.T) {
		r := newCORSRouter([]string{"http://a.test", "http://b.test"})

		w := doCORSRequest(r, http.MethodGet, "http://b.test")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://b.test", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("UnknownOriginGetsNoAllowHeader", func(t *testing.T) {
		r := newCORSRouter([]string{"http://a.test"})

		w := doCORSRequest(r, http.MethodGet, "http://evil.test")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("WildcardAllowsEverything", func(t *testing.T) {
		r := newCORSRouter([]string{"*"})

		w := doCORSRequest(r, http.MethodGet, "http://anywhere.test")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("PreflightShortCircuits", func(t *testing.T) {
		r := newCORSRouter([]string{"http://a.test"})

		w := doCORSRequest(r, http.MethodOptions, "http://a.test")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://a.test", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("NoOriginHeaderLeavesResponseAlone", func(t *testing.T) {
		r := newCORSRouter([]string{"http://a.test"})

		w := doCORSRequest(r, http.MethodGet, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}
