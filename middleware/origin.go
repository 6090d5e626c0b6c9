package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Origin rejects browser requests from origins outside allowed. An empty list
// or "*" allows everything; requests without an Origin header pass.
func Origin(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if len(set) == 0 || wildcard || origin == "" {
			return
		}
		if _, ok := set[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "origin not allowed"})
		}
	}
}
