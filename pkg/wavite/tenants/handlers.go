// Package tenants exposes the caller's tenants and member management for the
// tenant selected by auth.TenantMiddleware.
package tenants

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/models"
	"gorm.io/gorm"
)

// Handler handles tenant and membership requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new tenants handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UpdateTenantRequest represents the request to rename the tenant
type UpdateTenantRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Role        string `json:"role,omitempty"`
	MemberCount int64  `json:"member_count"`
	CreatedAt   string `json:"created_at"`
}

// MemberResponse represents a member in API responses
type MemberResponse struct {
	ID        uint   `json:"id"`
	UserID    uint   `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// AddMemberRequest represents the request to add a member
type AddMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

// UpdateMemberRequest represents the request to update a member's role
type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

const timeFormat = "2006-01-02T15:04:05Z"

func (h *Handler) tenantResponse(t models.Tenant, role string) TenantResponse {
	var memberCount int64
	h.db.Model(&models.TenantMembership{}).Where("tenant_id = ?", t.ID).Count(&memberCount)
	return TenantResponse{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		Role:        role,
		MemberCount: memberCount,
		CreatedAt:   t.CreatedAt.UTC().Format(timeFormat),
	}
}

func memberResponse(m models.TenantMembership) MemberResponse {
	return MemberResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		Email:     m.User.Email,
		Name:      m.User.Name,
		Role:      string(m.Role),
		CreatedAt: m.CreatedAt.UTC().Format(timeFormat),
	}
}

func (h *Handler) adminCount(tenantID uint) int64 {
	var n int64
	h.db.Model(&models.TenantMembership{}).Where("tenant_id = ? AND role = ?", tenantID, models.TenantRoleAdmin).Count(&n)
	return n
}

// List returns all tenants the current user belongs to
// @Summary List tenants
// @Tags tenants
// @Produce json
// @Success 200 {array} TenantResponse
// @Security BearerAuth
// @Router /tenants [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var memberships []models.TenantMembership
	if err := h.db.Preload("Tenant").Where("user_id = ?", userID).Order("id ASC").Find(&memberships).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch tenants"})
		return
	}

	out := make([]TenantResponse, len(memberships))
	for i, m := range memberships {
		out[i] = h.tenantResponse(m.Tenant, string(m.Role))
	}
	c.JSON(http.StatusOK, out)
}

// Current returns the tenant selected for this request
// @Summary Get current tenant
// @Tags tenants
// @Produce json
// @Success 200 {object} TenantResponse
// @Security BearerAuth
// @Router /tenant [get]
func (h *Handler) Current(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)
	role, _ := auth.GetTenantRole(c)

	var tenant models.Tenant
	if err := h.db.First(&tenant, tenantID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}
	c.JSON(http.StatusOK, h.tenantResponse(tenant, role))
}

// Update renames the current tenant (tenant admin only)
func (h *Handler) Update(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)
	role, _ := auth.GetTenantRole(c)

	var req UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tenant models.Tenant
	if err := h.db.First(&tenant, tenantID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}
	tenant.Name = strings.TrimSpace(req.Name)
	if err := h.db.Save(&tenant).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, h.tenantResponse(tenant, role))
}

// ListMembers returns all members of the current tenant
// @Summary List tenant members
// @Tags tenants
// @Produce json
// @Success 200 {array} MemberResponse
// @Security BearerAuth
// @Router /tenant/members [get]
func (h *Handler) ListMembers(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var memberships []models.TenantMembership
	if err := h.db.Preload("User").Where("tenant_id = ?", tenantID).Order("id ASC").Find(&memberships).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch members"})
		return
	}

	members := make([]MemberResponse, len(memberships))
	for i, m := range memberships {
		members[i] = memberResponse(m)
	}
	c.JSON(http.StatusOK, members)
}

// AddMember adds an existing user to the current tenant (tenant admin only)
// @Summary Add a member
// @Tags tenants
// @Accept json
// @Produce json
// @Param request body AddMemberRequest true "Member details"
// @Success 201 {object} MemberResponse
// @Failure 404 {object} map[string]string "User not found"
// @Failure 409 {object} map[string]string "Already a member"
// @Security BearerAuth
// @Router /tenant/members [post]
func (h *Handler) AddMember(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", strings.ToLower(req.Email)).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	var existing models.TenantMembership
	if err := h.db.Where("tenant_id = ? AND user_id = ?", tenantID, user.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "User is already a member"})
		return
	}

	membership := models.TenantMembership{
		TenantID: tenantID,
		UserID:   user.ID,
		Role:     models.TenantRole(req.Role),
	}
	if err := h.db.Create(&membership).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
		return
	}
	membership.User = user

	c.JSON(http.StatusCreated, memberResponse(membership))
}

// UpdateMember changes a member's role (tenant admin only)
func (h *Handler) UpdateMember(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	tenantID, _ := auth.GetTenantID(c)
	targetUserID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	var req UpdateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var membership models.TenantMembership
	if err := h.db.Preload("User").Where("tenant_id = ? AND user_id = ?", tenantID, targetUserID).First(&membership).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	if userID == uint(targetUserID) && req.Role == string(models.TenantRoleMember) && h.adminCount(tenantID) <= 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot demote the only admin"})
		return
	}

	membership.Role = models.TenantRole(req.Role)
	if err := h.db.Save(&membership).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update member"})
		return
	}
	c.JSON(http.StatusOK, memberResponse(membership))
}

// RemoveMember removes a member from the current tenant. Admins may remove
// anyone; members may only leave.
func (h *Handler) RemoveMember(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	tenantID, _ := auth.GetTenantID(c)
	role, _ := auth.GetTenantRole(c)
	targetUserID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	if userID != uint(targetUserID) && role != string(models.TenantRoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Tenant admin access required"})
		return
	}

	var membership models.TenantMembership
	if err := h.db.Where("tenant_id = ? AND user_id = ?", tenantID, targetUserID).First(&membership).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Member not found"})
		return
	}

	if membership.Role == models.TenantRoleAdmin && h.adminCount(tenantID) <= 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot remove the only admin"})
		return
	}

	// Unscoped so the user can be added again under the unique index.
	if err := h.db.Unscoped().Delete(&membership).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// RegisterRoutes registers tenant routes. The group must run
// auth.TenantMiddleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tenants", h.List)
	rg.GET("/tenant", h.Current)
	rg.PUT("/tenant", auth.RequireTenantAdmin(), h.Update)
	rg.GET("/tenant/members", h.ListMembers)
	rg.POST("/tenant/members", auth.RequireTenantAdmin(), h.AddMember)
	rg.PUT("/tenant/members/:userId", auth.RequireTenantAdmin(), h.UpdateMember)
	rg.DELETE("/tenant/members/:userId", h.RemoveMember)
}
