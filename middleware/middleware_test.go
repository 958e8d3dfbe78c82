package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.com/"}
	assert.True(t, OriginAllowed(nil, "https://any.example.com"))
	assert.True(t, OriginAllowed(allowed, ""))
	assert.True(t, OriginAllowed(allowed, "https://APP.example.com"))
	assert.False(t, OriginAllowed(allowed, "https://evil.example.com"))
	assert.True(t, OriginAllowed([]string{"*"}, "https://evil.example.com"))
}

func TestChainStopsAtAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seen []string
	ch := NewChain(func(c *gin.Context) { seen = append(seen, "a") })
	ch.Add(func(c *gin.Context) {
		seen = append(seen, "b")
		if c.Query("deny") != "" {
			c.AbortWithStatus(http.StatusForbidden)
		}
	})
	assert.Equal(t, 2, ch.Len())

	r := gin.New()
	r.Use(ch.Handler())
	r.GET("/x", func(c *gin.Context) {
		seen = append(seen, "route")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a", "b", "route"}, seen)

	seen = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?deny=1", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestOriginMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Origin([]string{"https://app.example.com"}))
	r.POST("/webhook", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusOK, w.Code, "server-to-server calls carry no Origin")

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), ReasonOriginRejected)
}

type keyGate string

func (g keyGate) Admit(credential string) error {
	if credential != string(g) {
		return errors.New("invalid_credential")
	}
	return nil
}

func TestRouteGuards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	opt := RouteOpt{IsAuth: true, Gate: keyGate("k"), Browser: true, Origins: []string{"https://app.example.com"}}
	GET(r, "/rooms", func(c *gin.Context) { c.Status(http.StatusOK) }, opt)
	Preflight(r, "/rooms", opt)

	call := func(method, target, origin string) int {
		req := httptest.NewRequest(method, target, nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/rooms", ""))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/rooms?apikey=k", ""))
	assert.Equal(t, http.StatusForbidden, call(http.MethodGet, "/rooms?apikey=k", "https://evil.example.com"))
	// preflights carry no credential
	assert.Equal(t, http.StatusNoContent, call(http.MethodOptions, "/rooms", "https://app.example.com"))
}
