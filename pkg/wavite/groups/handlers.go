package groups

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/auth"
)

// Handler handles group directory requests
type Handler struct {
	dir *Directory
}

// NewHandler creates a new groups handler
func NewHandler(dir *Directory) *Handler {
	return &Handler{dir: dir}
}

// CreateGroupRequest represents the request to create a group
type CreateGroupRequest struct {
	GroupName     string   `json:"groupName" binding:"required"`
	Participants  []string `json:"participants"`
	InstanceName  string   `json:"instanceName" binding:"required"`
	DynamicLinkID *string  `json:"dynamicLinkId"`
}

// SyncRequest represents the request to reconcile an instance
type SyncRequest struct {
	InstanceName string `json:"instanceName" binding:"required"`
}

// AddParticipantsRequest lists the phone numbers to add to a group
type AddParticipantsRequest struct {
	Participants []string `json:"participants" binding:"required,min=1"`
}

// Create provisions a WhatsApp group
// @Summary Create a group
// @Tags groups
// @Accept json
// @Produce json
// @Param request body CreateGroupRequest true "Group details"
// @Success 201 {object} models.Group
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 500 {object} map[string]string "Provider error"
// @Security BearerAuth
// @Router /groups [post]
func (h *Handler) Create(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DynamicLinkID != nil && *req.DynamicLinkID == "" {
		req.DynamicLinkID = nil
	}

	group, err := h.dir.CreateGroup(c.Request.Context(), tenantID, CreateGroupInput{
		InstanceName:  req.InstanceName,
		GroupName:     req.GroupName,
		Participants:  req.Participants,
		DynamicLinkID: req.DynamicLinkID,
	})
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}

	c.JSON(http.StatusCreated, group)
}

// List returns the tenant's groups
// @Summary List groups
// @Tags groups
// @Produce json
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param instance query string false "Instance name"
// @Param dynamicLinkId query string false "Spawning dynamic link"
// @Success 200 {array} models.Group
// @Security BearerAuth
// @Router /groups [get]
func (h *Handler) List(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultPageSize)))

	groups, total, err := h.dir.ListGroups(c.Request.Context(), tenantID, ListOptions{
		Page:          page,
		Limit:         limit,
		InstanceName:  c.Query("instance"),
		DynamicLinkID: c.Query("dynamicLinkId"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch groups"})
		return
	}

	c.Header("X-Total-Count", strconv.FormatInt(total, 10))
	c.JSON(http.StatusOK, groups)
}

// Sync reconciles participant counters with the provider
// @Summary Sync groups from the provider
// @Tags groups
// @Accept json
// @Produce json
// @Param request body SyncRequest true "Instance"
// @Success 200 {object} SyncResult
// @Security BearerAuth
// @Router /groups/sync [post]
func (h *Handler) Sync(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.dir.SyncGroupsFromEvolution(c.Request.Context(), tenantID, req.InstanceName)
	if result == nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}
	if err != nil {
		// Partial sync: the failed rows are listed in the result.
		c.Error(err)
	}

	c.JSON(http.StatusOK, result)
}

// AddParticipants adds people to an existing group
// @Summary Add participants to a group
// @Tags groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param request body AddParticipantsRequest true "Phone numbers"
// @Success 200 {object} models.Group
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "Group not found"
// @Failure 409 {object} map[string]string "Group is full"
// @Security BearerAuth
// @Router /groups/{id}/participants [post]
func (h *Handler) AddParticipants(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req AddParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.dir.AddParticipants(c.Request.Context(), tenantID, c.Param("id"), req.Participants)
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}

	c.JSON(http.StatusOK, group)
}

// RegisterRoutes registers group routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/groups", h.Create)
	rg.GET("/groups", h.List)
	rg.POST("/groups/sync", h.Sync)
	rg.POST("/groups/:id/participants", h.AddParticipants)
}
