package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/models"
	"gorm.io/gorm"
)

// Handler handles system admin requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	SystemRole  string `json:"system_role"`
	CreatedAt   string `json:"created_at"`
	TenantCount int64  `json:"tenant_count"`
	APIKeyCount int64  `json:"api_key_count"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name       *string `json:"name"`
	SystemRole *string `json:"system_role"`
}

// StatsResponse represents system statistics
type StatsResponse struct {
	TotalTenants      int64 `json:"total_tenants"`
	TotalUsers        int64 `json:"total_users"`
	AdminUsers        int64 `json:"admin_users"`
	TotalInstances    int64 `json:"total_instances"`
	TotalGroups       int64 `json:"total_groups"`
	FullGroups        int64 `json:"full_groups"`
	TotalDynamicLinks int64 `json:"total_dynamic_links"`
	TotalParticipants int64 `json:"total_participants"`
	ActiveAPIKeys     int64 `json:"active_api_keys"`
}

func (h *Handler) userResponse(user models.User) UserResponse {
	var tenantCount, keyCount int64
	h.db.Model(&models.TenantMembership{}).Where("user_id = ?", user.ID).Count(&tenantCount)
	h.db.Model(&models.APIKey{}).Where("user_id = ?", user.ID).Count(&keyCount)

	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		SystemRole:  string(user.SystemRole),
		CreatedAt:   user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		TenantCount: tenantCount,
		APIKeyCount: keyCount,
	}
}

// userParam loads the user named by the :id path parameter and writes the
// error response itself when it cannot.
func (h *Handler) userParam(c *gin.Context) (models.User, bool) {
	var user models.User
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return user, false
	}
	if err := h.db.First(&user, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return user, false
	}
	return user, true
}

// ListUsers returns all users (admin only)
func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User

	query := h.db.Order("created_at DESC")

	if search := c.Query("q"); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("system_role = ?", role)
	}

	if err := query.Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.userResponse(user)
	}

	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID (admin only)
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, h.userResponse(user))
}

// UpdateUser updates a user's name or system role (admin only)
func (h *Handler) UpdateUser(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID && req.SystemRole != nil && *req.SystemRole != string(models.SystemRoleAdmin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot demote yourself"})
		return
	}

	updates := make(map[string]any)
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.SystemRole != nil {
		switch models.SystemRole(*req.SystemRole) {
		case models.SystemRoleAdmin, models.SystemRoleUser:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid system role"})
			return
		}
		updates["system_role"] = *req.SystemRole
	}

	if len(updates) > 0 {
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
			return
		}
	}

	h.db.First(&user, user.ID)
	c.JSON(http.StatusOK, h.userResponse(user))
}

// DeleteUser removes a user with their keys and memberships (admin only).
// Tenants and their groups are left in place.
func (h *Handler) DeleteUser(c *gin.Context) {
	user, ok := h.userParam(c)
	if !ok {
		return
	}

	if currentUserID, _ := auth.GetUserID(c); user.ID == currentUserID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete yourself"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.TenantMembership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// GetStats returns system-wide statistics (admin only)
func (h *Handler) GetStats(c *gin.Context) {
	var stats StatsResponse

	h.db.Model(&models.Tenant{}).Count(&stats.TotalTenants)
	h.db.Model(&models.User{}).Count(&stats.TotalUsers)
	h.db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&stats.AdminUsers)
	h.db.Model(&models.Instance{}).Count(&stats.TotalInstances)
	h.db.Model(&models.Group{}).Count(&stats.TotalGroups)
	h.db.Model(&models.Group{}).Where("current_participants >= capacity").Count(&stats.FullGroups)
	h.db.Model(&models.DynamicLink{}).Count(&stats.TotalDynamicLinks)
	h.db.Model(&models.APIKey{}).Count(&stats.ActiveAPIKeys)

	h.db.Model(&models.Group{}).Select("COALESCE(SUM(current_participants), 0)").Scan(&stats.TotalParticipants)

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PUT("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
}
