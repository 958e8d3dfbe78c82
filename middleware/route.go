package middleware

import (
	"net/http"

	midsec "PRelay/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth  bool
	Gate    midsec.Admitter
	Origins []string // allow list for the origin guard
	Browser bool     // browsers call this route: guard the origin and answer preflights
}

// handlers puts the guards selected by opt in front of h. Origin runs first so a
// preflight never needs a credential.
func (opt RouteOpt) handlers(h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, 3)
	if opt.Browser {
		out = append(out, Origin(opt.Origins))
	}
	if opt.IsAuth {
		out = append(out, midsec.Middleware(opt.Gate))
	}
	return append(out, h)
}

// Handle mounts h for method behind the guards opt selects.
func Handle(r gin.IRoutes, method, path string, h gin.HandlerFunc, opt RouteOpt) {
	r.Handle(method, path, opt.handlers(h)...)
}

func POST(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodPost, path, h, opt)
}

func GET(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodGet, path, h, opt)
}

func DELETE(r gin.IRoutes, path string, h gin.HandlerFunc, opt RouteOpt) {
	Handle(r, http.MethodDelete, path, h, opt)
}

// Preflight answers OPTIONS on path through the origin guard alone.
func Preflight(r gin.IRoutes, path string, opt RouteOpt) {
	r.OPTIONS(path, Origin(opt.Origins))
}
