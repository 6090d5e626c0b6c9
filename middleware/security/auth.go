package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"PPChat/logger"
	"PPChat/service/store"
	jwtsec "PPChat/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ---- context key ----
// 后续模块统一用这俩 key 读取
const (
	PPCtxAuthKey = "authorization" // string, raw access token
	PPCtxUserKey = "ppchat.user"   // store.User
)

var ErrNoUser = errors.New("could not validate credentials")

// UserLookup resolves the token subject (username or email) to a user.
type UserLookup interface {
	UserByLogin(ctx context.Context, login string) (*store.User, error)
}

type Options struct {
	CookieName                string // 默认 "access_token"
	EnableAuthorizationBearer bool   // 默认 true
	JWT                       jwtsec.Options
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		CookieName:                "access_token",
		EnableAuthorizationBearer: true,
		JWT:                       jwtsec.DefaultOptions(secret),
	}
}

// Middleware verifies the access token and stores the user under PPCtxUserKey.
// Token lookup order: cookie, then Authorization: Bearer.
func Middleware(opts *Options, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFrom(c, opts)
		if token == "" {
			abort(c, jwtsec.ErrInvalidToken)
			return
		}
		c.Set(PPCtxAuthKey, token)

		login, err := jwtsec.Subject(opts.JWT, token)
		if err != nil {
			abort(c, err)
			return
		}
		u, err := users.UserByLogin(c.Request.Context(), login)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Error("[auth] user lookup", zap.String("login", login), zap.Error(err))
			}
			abort(c, ErrNoUser)
			return
		}
		c.Set(PPCtxUserKey, *u)
		c.Next()
	}
}

func tokenFrom(c *gin.Context, opts *Options) string {
	if opts.CookieName != "" {
		if v, err := c.Cookie(opts.CookieName); err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	// 兼容 Authorization: Bearer xxx
	if opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	return ""
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
}

// CurrentUser returns the user set by Middleware.
func CurrentUser(c *gin.Context) (store.User, bool) {
	v, ok := c.Get(PPCtxUserKey)
	if !ok {
		return store.User{}, false
	}
	u, ok := v.(store.User)
	return u, ok
}
