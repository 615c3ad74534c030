package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"hr-messenger/auth"
	"hr-messenger/domain"
	"hr-messenger/errors"
	"hr-messenger/services"

	"github.com/gin-gonic/gin"
)

// HistoryHandler serves the REST history service.
type HistoryHandler struct {
	log     *slog.Logger
	service services.IChatService
}

func NewHistoryHandler(log *slog.Logger, service services.IChatService) *HistoryHandler {
	return &HistoryHandler{log: log, service: service}
}

type unreadResponse struct {
	Counts map[string]int `json:"counts"`
}

func (h *HistoryHandler) History(c *gin.Context) {
	query := domain.HistoryQuery{UserA: c.Param("userA"), UserB: c.Param("userB")}
	if err := query.Validate(); err != nil {
		abort(c, err)
		return
	}
	if err := authorize(c, query.UserA, query.UserB); err != nil {
		abort(c, err)
		return
	}

	messages, err := h.service.History(c.Request.Context(), query)
	if err != nil {
		h.log.Debug("History failed", "user_a", query.UserA, "user_b", query.UserB, "error", err)
		abort(c, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, messages)
}

func (h *HistoryHandler) MarkRead(c *gin.Context) {
	var cmd domain.MarkReadCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		abort(c, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err))
		return
	}
	if err := cmd.Validate(); err != nil {
		abort(c, err)
		return
	}
	if err := authorize(c, cmd.ReceiverID); err != nil {
		abort(c, err)
		return
	}

	count, err := h.service.MarkRead(c.Request.Context(), cmd)
	if err != nil {
		abort(c, err)
		return
	}
	h.log.Debug("Messages marked read", "sender_id", cmd.SenderID, "receiver_id", cmd.ReceiverID, "count", count)
	c.Status(http.StatusOK)
}

func (h *HistoryHandler) Unread(c *gin.Context) {
	userID := c.Param("userId")
	if err := domain.ValidateUserID(userID); err != nil {
		abort(c, err)
		return
	}
	if err := authorize(c, userID); err != nil {
		abort(c, err)
		return
	}

	counts, err := h.service.UnreadCounts(c.Request.Context(), userID)
	if err != nil {
		abort(c, err)
		return
	}
	if counts == nil {
		counts = map[string]int{}
	}
	c.JSON(http.StatusOK, unreadResponse{Counts: counts})
}

// authorize lets the call through when no identity is attached, or when the
// authenticated user is one of allowed.
func authorize(c *gin.Context, allowed ...string) error {
	userID, ok := auth.UserIDFrom(c.Request.Context())
	if !ok || slices.Contains(allowed, userID) {
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrForbidden, userID)
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{
		"error": err.Error(),
		"kind":  errors.KindOf(err),
	})
}
