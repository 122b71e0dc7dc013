package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cfprelay/cfprelay/pkg/dlq"
	"github.com/cfprelay/cfprelay/pkg/model"
	"github.com/cfprelay/cfprelay/pkg/store"
)

type WebhookHandler struct {
	manager *dlq.Manager
	logger  *zap.Logger
}

func NewWebhookHandler(manager *dlq.Manager, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{manager: manager, logger: logger}
}

// Stats serves the dashboard monitoring snapshot.
func (h *WebhookHandler) Stats(c *gin.Context) {
	stats, err := h.manager.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to collect queue stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to collect stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListFailed returns entries for operator inspection, filtered by status
// and event type. Defaults to dead-lettered entries.
func (h *WebhookHandler) ListFailed(c *gin.Context) {
	filter := store.ListFilter{
		Status: model.StatusDeadLetter,
		Limit:  parseLimit(c.Query("limit"), 50),
	}

	if status := c.Query("status"); status != "" {
		switch model.Status(status) {
		case model.StatusPendingRetry, model.StatusDeadLetter, model.StatusSuccess:
			filter.Status = model.Status(status)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
	}

	if eventType := c.Query("type"); eventType != "" {
		parsed, err := model.ParseEventType(eventType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Type = parsed
	}

	failed, err := h.manager.ListFailedWebhooks(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list webhooks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": failed})
}

// Replay re-queues a dead-lettered entry.
func (h *WebhookHandler) Replay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	entry, err := h.manager.Replay(c.Request.Context(), id)
	switch {
	case errors.Is(err, dlq.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook entry not found"})
		return
	case errors.Is(err, dlq.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": "entry is not dead-lettered"})
		return
	case err != nil:
		h.logger.Error("failed to replay entry", zap.String("entry_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay entry"})
		return
	}

	c.JSON(http.StatusOK, entry.ToFailedWebhook())
}

// Cleanup triggers the abandoned-entry sweep on demand.
func (h *WebhookHandler) Cleanup(c *gin.Context) {
	deleted, err := h.manager.CleanupAbandoned(c.Request.Context())
	if err != nil {
		h.logger.Error("cleanup sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
