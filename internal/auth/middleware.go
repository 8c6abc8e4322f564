package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"smartattend/internal/apperr"
	"smartattend/internal/attendance"
)

const principalKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   attendance.Role
	Name   string
}

// Authenticate enforces bearer JWT tokens signed with HS256.
func Authenticate(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "kind": "unauthenticated"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": "unauthenticated"})
			return
		}
		c.Set(principalKey, Principal{UserID: claims.Subject, Role: claims.Role, Name: claims.Name})
		c.Next()
	}
}

// FromContext returns the principal set by Authenticate.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RequireRole rejects callers whose role is not listed with 403.
func RequireRole(roles ...attendance.Role) gin.HandlerFunc {
	return requireRole(http.StatusForbidden, roles)
}

// RequireIssuer admits teachers and admins. Anyone else is not an issuer
// and gets 401, the same answer as an unauthenticated caller.
func RequireIssuer() gin.HandlerFunc {
	return requireRole(http.StatusUnauthorized, []attendance.Role{attendance.RoleTeacher, attendance.RoleAdmin})
}

func requireRole(status int, roles []attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "kind": "unauthenticated"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error": "this action requires the " + roleList(roles) + " role",
			"kind":  apperr.KindAuthorization.String(),
		})
	}
}

func roleList(roles []attendance.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return strings.Join(names, " or ")
}
