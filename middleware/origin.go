package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ReasonOriginRejected is the error body for a browser origin outside the allow list.
const ReasonOriginRejected = "origin_not_allowed"

// OriginAllowed reports whether origin may talk to the relay. An empty allow list
// admits everyone, and so does a request without Origin (non-browser clients).
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return true
		}
	}
	return false
}

// Origin enforces the allow list on plain HTTP (long-polling, webhook) and answers
// CORS preflights. Websocket upgrades go through the same check in the upgrader.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !OriginAllowed(allowed, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": ReasonOriginRejected})
			return
		}
		if origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "apikey, Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
		}
	}
}
