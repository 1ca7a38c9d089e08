package broadcast

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"github.com/wavite/wavite/pkg/wavite/auth"
)

// Handler handles broadcast requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new broadcast handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Request represents the broadcast request body
type Request struct {
	InstanceName string   `json:"instanceName" binding:"required"`
	GroupJIDs    []string `json:"groupJids" binding:"required,min=1"`
	Message      string   `json:"message" binding:"required"`
}

// Broadcast sends a text message to several groups
// @Summary Broadcast a message
// @Tags groups
// @Accept json
// @Produce json
// @Param request body Request true "Recipients and message"
// @Success 200 {array} Result
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 404 {object} map[string]string "Instance not found"
// @Security BearerAuth
// @Router /groups/broadcast [post]
func (h *Handler) Broadcast(c *gin.Context) {
	tenantID, _ := auth.GetTenantID(c)

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.svc.BroadcastMessage(c.Request.Context(), tenantID, req.InstanceName, req.GroupJIDs, req.Message)
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"error": apperr.Message(err)})
		return
	}

	c.JSON(http.StatusOK, results)
}

// RegisterRoutes registers broadcast routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/groups/broadcast", h.Broadcast)
}
