package instances

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/auth"
)

// Handler exposes the instance registry over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new instances handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRequest is the body of POST /instances
type RegisterRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Create registers an instance for the current tenant
func (h *Handler) Create(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	inst, err := h.svc.Register(c.Request.Context(), tenantID, req.Name, req.Description)
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// List returns the current tenant's instances
func (h *Handler) List(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	list, err := h.svc.List(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch instances"})
		return
	}
	c.JSON(http.StatusOK, list)
}

// RegisterRoutes registers instance routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/instances", auth.RequireTenantAdmin(), h.Create)
	rg.GET("/instances", h.List)
}
