package dynamiclinks

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/auth"
	"github.com/wavite/wavite/pkg/wavite/models"
)

// Syncer brings a link's active group up to date and returns its invite link.
type Syncer interface {
	Sync(ctx context.Context, tenantID uint, linkID string) (*models.DynamicLink, string, error)
}

// Handler handles dynamic link requests
type Handler struct {
	registry *Registry
	syncer   Syncer
	baseURL  string
}

// NewHandler creates a new dynamic links handler. baseURL prefixes the
// public invite URL shown to admins.
func NewHandler(registry *Registry, syncer Syncer, baseURL string) *Handler {
	return &Handler{registry: registry, syncer: syncer, baseURL: strings.TrimRight(baseURL, "/")}
}

// CreateRequest represents the request to create a dynamic link
type CreateRequest struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	BaseGroupName string `json:"baseGroupName"`
	GroupCapacity int    `json:"groupCapacity"`
	InstanceName  string `json:"instanceName"`
}

// LinkResponse is a dynamic link with its public URL
type LinkResponse struct {
	models.DynamicLink
	PublicURL string `json:"publicUrl"`
}

// SyncResponse is returned by the sync endpoint
type SyncResponse struct {
	DynamicLink LinkResponse `json:"dynamicLink"`
	InviteLink  string       `json:"inviteLink"`
}

func (h *Handler) toResponse(link models.DynamicLink) LinkResponse {
	return LinkResponse{DynamicLink: link, PublicURL: h.baseURL + "/invite/" + link.Slug}
}

// Create creates a dynamic link
// @Summary Create a dynamic link
// @Tags dynamic-links
// @Accept json
// @Produce json
// @Param request body CreateRequest true "Link details"
// @Success 201 {object} LinkResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Slug already exists"
// @Security BearerAuth
// @Router /groups/dynamic-link [post]
func (h *Handler) Create(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	link, err := h.registry.CreateDynamicLink(c.Request.Context(), tenantID, CreateInput{
		Slug:          req.Slug,
		Name:          req.Name,
		BaseGroupName: req.BaseGroupName,
		GroupCapacity: req.GroupCapacity,
		InstanceName:  req.InstanceName,
	})
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(*link))
}

// List returns the tenant's dynamic links
// @Summary List dynamic links
// @Tags dynamic-links
// @Produce json
// @Success 200 {array} LinkResponse
// @Security BearerAuth
// @Router /groups/dynamic-links [get]
func (h *Handler) List(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	links, err := h.registry.ListForTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch dynamic links"})
		return
	}

	out := make([]LinkResponse, len(links))
	for i, l := range links {
		out[i] = h.toResponse(l)
	}
	c.JSON(http.StatusOK, out)
}

// Get returns one dynamic link
func (h *Handler) Get(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	link, err := h.registry.GetForTenant(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}
	c.JSON(http.StatusOK, h.toResponse(*link))
}

// Sync reconciles the link's instance and makes sure its active group has room
// @Summary Sync a dynamic link
// @Tags dynamic-links
// @Produce json
// @Param id path string true "Dynamic link ID"
// @Success 200 {object} SyncResponse
// @Failure 404 {object} map[string]string "Not found"
// @Security BearerAuth
// @Router /groups/dynamic-link/{id}/sync [post]
func (h *Handler) Sync(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	link, invite, err := h.syncer.Sync(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}
	c.JSON(http.StatusOK, SyncResponse{DynamicLink: h.toResponse(*link), InviteLink: invite})
}

// RegisterRoutes registers dynamic link routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/groups/dynamic-link", h.Create)
	rg.GET("/groups/dynamic-links", h.List)
	rg.GET("/groups/dynamic-link/:id", h.Get)
	rg.POST("/groups/dynamic-link/:id/sync", h.Sync)
}
