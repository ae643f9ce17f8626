package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// AdminTokenHeader carries the shared admin token spec.md §4.12's
// narrow admin surface (volume reload, lifecycle manual-run, migration
// re-queue) is gated behind.
const AdminTokenHeader = "X-Admin-Token"

// Authorize rejects any request whose X-Admin-Token header does not
// match token, the same shared-secret-header shape as the teacher's
// internal-service gate (authority.VerifyToken). An empty token disables
// the admin surface entirely, rejecting every request.
func Authorize(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "security-violation", "message": "admin surface disabled"})
			return
		}
		got := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			klog.Warning("rejected admin request with invalid token")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "security-violation", "message": "invalid admin token"})
			return
		}
		c.Next()
	}
}
