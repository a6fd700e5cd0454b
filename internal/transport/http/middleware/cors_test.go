package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newCORSRouter(allowed []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(NewOriginPolicy(allowed)))
	router.POST("/api/v1/events", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router
}

func corsRequest(router http.Handler, method, origin string, preflight bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/events", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestOriginPolicy(t *testing.T) {
	open := NewOriginPolicy(nil)
	require.True(t, open.AllowsAny())
	require.True(t, open.Allows("https://anything.example.com"))

	wildcard := NewOriginPolicy([]string{"https://portal.example.com", "*"})
	require.True(t, wildcard.AllowsAny())

	strict := NewOriginPolicy([]string{" https://portal.example.com/ ", ""})
	require.False(t, strict.AllowsAny())
	require.True(t, strict.Allows("https://portal.example.com"))
	require.True(t, strict.Allows(""))
	require.False(t, strict.Allows("https://evil.example.com"))
}

func TestCORSEchoesListedOrigin(t *testing.T) {
	router := newCORSRouter([]string{"https://portal.example.com"})

	rr := corsRequest(router, http.MethodPost, "https://portal.example.com", false)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "https://portal.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	require.Equal(t, "Origin", rr.Header().Get("Vary"))
	require.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestCORSPreflight(t *testing.T) {
	router := newCORSRouter([]string{"https://portal.example.com"})

	rr := corsRequest(router, http.MethodOptions, "https://portal.example.com", true)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), WebhookSecretHeader)
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)

	rr = corsRequest(router, http.MethodOptions, "https://evil.example.com", true)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	router := newCORSRouter(nil)

	rr := corsRequest(router, http.MethodPost, "https://elsewhere.example.com", false)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresNonBrowserRequests(t *testing.T) {
	router := newCORSRouter([]string{"https://portal.example.com"})

	rr := corsRequest(router, http.MethodPost, "", false)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
