package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/models"
	"gorm.io/gorm"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeySystemRole is the key for system role in gin context
	ContextKeySystemRole = "system_role"
	// ContextKeyTenantID is the key for tenant ID in gin context
	ContextKeyTenantID = "tenant_id"
	// ContextKeyTenantRole is the key for tenant role in gin context
	ContextKeyTenantRole = "tenant_role"

	// TenantHeader selects the tenant for users with several memberships.
	TenantHeader = "X-Tenant-ID"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		tokenString, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		SetUser(c, claims.UserID, claims.Email, claims.SystemRole)
		c.Next()
	}
}

// SetUser stores the authenticated user in the gin context.
func SetUser(c *gin.Context, userID uint, email, systemRole string) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeySystemRole, systemRole)
}

// RequireAdmin middleware checks if the user has admin system role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(ContextKeySystemRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		if role != string(models.SystemRoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}

		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	return userID.(uint), true
}

// GetTenantID returns the tenant ID from the gin context
func GetTenantID(c *gin.Context) (uint, bool) {
	tenantID, exists := c.Get(ContextKeyTenantID)
	if !exists {
		return 0, false
	}
	return tenantID.(uint), true
}

// GetTenantRole returns the tenant role from the gin context
func GetTenantRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(ContextKeyTenantRole)
	if !exists {
		return "", false
	}
	return role.(string), true
}

// TenantMiddleware resolves the tenant for the request and verifies the user
// belongs to it. The X-Tenant-ID header wins; without it the user's oldest
// membership is used. A tenant already pinned by an API key cannot be
// overridden by the header.
func TenantMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := GetUserID(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		pinned, isPinned := GetTenantID(c)

		var requested uint
		if raw := c.GetHeader(TenantHeader); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
				return
			}
			requested = uint(parsed)
		}
		if isPinned {
			if requested != 0 && requested != pinned {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "API key is bound to another tenant"})
				return
			}
			requested = pinned
		}

		var membership models.TenantMembership
		query := db.Where("user_id = ?", userID)
		if requested != 0 {
			query = query.Where("tenant_id = ?", requested)
		}
		if err := query.Order("id ASC").First(&membership).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not a member of this tenant"})
			return
		}

		c.Set(ContextKeyTenantID, membership.TenantID)
		c.Set(ContextKeyTenantRole, string(membership.Role))
		c.Next()
	}
}

// RequireTenantAdmin middleware checks if the user is an admin of the current tenant
func RequireTenantAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetTenantRole(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Tenant context required"})
			return
		}

		if role != string(models.TenantRoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Tenant admin access required"})
			return
		}

		c.Next()
	}
}
