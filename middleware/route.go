package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	Auth gin.HandlerFunc // nil: public route
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Auth != nil {
		r.GET(path, opt.Auth, handler)
	} else {
		r.GET(path, handler)
	}
}
