// Package webhooks receives Evolution API events that keep local group
// counters close to the provider's state between syncs.
package webhooks

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/wavite/wavite/pkg/wavite/groups"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler handles Evolution webhook deliveries
type Handler struct {
	dir    *groups.Directory
	secret string
	log    *zap.Logger
}

// NewHandler creates a webhook handler. An empty secret rejects every
// delivery.
func NewHandler(dir *groups.Directory, secret string, log *zap.Logger) *Handler {
	return &Handler{dir: dir, secret: secret, log: log.Named("webhooks")}
}

// participantDelta maps an action of a participants update to a counter
// change per participant.
func participantDelta(action string) int {
	switch strings.ToLower(action) {
	case "add", "join", "approve":
		return 1
	case "remove", "leave":
		return -1
	}
	return 0
}

// eventName folds the dotted and upper-snake spellings Evolution uses into
// one form.
func eventName(raw string) string {
	return strings.NewReplacer("_", "-", ".", "-").Replace(strings.ToLower(raw))
}

func (h *Handler) authorized(c *gin.Context) bool {
	if h.secret == "" {
		return false
	}
	got := c.GetHeader("apikey")
	if got == "" {
		got = c.Query("token")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

// Evolution applies a participants update to the matching group
// @Summary Evolution API webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string "Malformed payload"
// @Failure 401 {object} map[string]string "Bad secret"
// @Router /webhooks/evolution [post]
func (h *Handler) Evolution(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payload"})
		return
	}

	payload := gjson.ParseBytes(body)
	event := eventName(payload.Get("event").String())
	if event != "group-participants-update" {
		c.JSON(http.StatusOK, gin.H{"handled": false})
		return
	}

	jid := payload.Get("data.id").String()
	if jid == "" {
		jid = payload.Get("data.groupJid").String()
	}
	if jid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data.id is required"})
		return
	}

	action := payload.Get("data.action").String()
	count := int(payload.Get("data.participants.#").Int())
	delta := participantDelta(action) * count
	if delta == 0 {
		c.JSON(http.StatusOK, gin.H{"handled": false})
		return
	}

	known, err := h.dir.AdjustParticipantsByJID(c.Request.Context(), jid, delta)
	if err != nil {
		h.log.Error("failed to apply participants update", zap.String("jid", jid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply update"})
		return
	}
	if !known {
		h.log.Debug("participants update for unknown group", zap.String("jid", jid))
	} else {
		h.log.Info("participants updated",
			zap.String("instance", payload.Get("instance").String()),
			zap.String("jid", jid),
			zap.String("action", action),
			zap.Int("delta", delta),
		)
	}

	c.JSON(http.StatusOK, gin.H{"handled": known})
}

// RegisterRoutes registers webhook routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/evolution", h.Evolution)
}
