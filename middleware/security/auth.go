package security

import (
	"net/http"
	"strings"

	"PRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// where the shared credential may travel
const (
	HeaderAPIKey = "apikey"
	QueryAPIKey  = "apikey"
	CtxAdmitted  = "relay.admitted"
)

// Admitter is the auth gate as seen by HTTP middleware.
type Admitter interface {
	Admit(credential string) error
}

// Credential returns the first non-empty of: query apikey, header apikey,
// Authorization: Bearer <token>.
func Credential(c *gin.Context) string {
	if v := strings.TrimSpace(c.Query(QueryAPIKey)); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); v != "" {
		return v
	}
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return ""
}

// Reject writes the uniform auth failure body.
func Reject(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errs.ReasonInvalidCredential})
}

// Middleware guards plain HTTP routes (webhook ingress, room listing) with the gate.
func Middleware(a Admitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Admit(Credential(c)); err != nil {
			Reject(c)
			return
		}
		c.Set(CtxAdmitted, true)
		c.Next()
	}
}
