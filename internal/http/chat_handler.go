package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"direct-chat/internal/service"
)

// ChatHandler mantiene dependencias para endpoints de salas y mensajes.
type ChatHandler struct {
	logger   *zap.Logger
	rooms    *service.RoomService
	messages *service.MessageService
}

// NewChatHandler crea una instancia de ChatHandler con dependencias necesarias.
func NewChatHandler(logger *zap.Logger, rooms *service.RoomService, messages *service.MessageService) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		rooms:    rooms,
		messages: messages,
	}
}

// ResolveRoom maneja POST /rooms.
func (h *ChatHandler) ResolveRoom(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	var req struct {
		PartnerID string `json:"partner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid resolve room request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	room, err := h.rooms.Resolve(c.Request.Context(), claims.UserID, req.PartnerID)
	if err != nil {
		h.writeError(c, "resolve room failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListMessages maneja GET /rooms/:id/messages.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	roomID := c.Param("id")

	room, err := h.rooms.Get(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, "get room failed", err)
		return
	}
	if !room.HasParticipant(claims.UserID) {
		h.writeError(c, "list messages rejected", service.ErrInvalidSender)
		return
	}

	messages, err := h.messages.ListOrdered(c.Request.Context(), roomID)
	if err != nil {
		h.writeError(c, "list messages failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PostMessage maneja POST /rooms/:id/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), c.Param("id"), claims.UserID, req.Text)
	if err != nil {
		h.writeError(c, "append message failed", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *ChatHandler) writeError(c *gin.Context, msg string, err error) {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	} else {
		h.logger.Warn(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": body})
}

// errorStatus traduce los errores de servicio a status HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidParticipants),
		errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrInvalidSender):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrInvalidRoom):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
