package redirect

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wavite/wavite/pkg/wavite/apperr"
	"go.uber.org/zap"
)

// UnavailableMessage is the only failure text anonymous visitors see.
const UnavailableMessage = "link invalid or not found"

// Resolver turns a public slug into an invite link.
type Resolver interface {
	GetRedirectLink(ctx context.Context, slug string) (string, error)
}

// Handler handles public invite redirects
type Handler struct {
	resolver Resolver
	log      *zap.Logger
}

// NewHandler creates a new redirect handler
func NewHandler(resolver Resolver, log *zap.Logger) *Handler {
	return &Handler{resolver: resolver, log: log.Named("redirect")}
}

// Redirect sends the visitor to the group that currently takes members.
// Any failure, including a failed rotation, becomes a plain 404 so no
// internal detail reaches the visitor.
func (h *Handler) Redirect(c *gin.Context) {
	slug := c.Param("slug")

	link, err := h.resolver.GetRedirectLink(c.Request.Context(), slug)
	if err != nil {
		if apperr.IsNotFound(err) {
			h.log.Debug("unknown slug", zap.String("slug", slug))
		} else {
			h.log.Error("failed to resolve invite link", zap.String("slug", slug), zap.Error(err))
		}
		c.String(http.StatusNotFound, UnavailableMessage)
		return
	}

	// The target changes on rotation, so the redirect must not be cached.
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, link)
}

// RegisterRoutes registers the public invite route on the root router
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/invite/:slug", h.Redirect)
}
