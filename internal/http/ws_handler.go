package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"direct-chat/internal/chat"
	"direct-chat/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// wsFrame es el sobre de los mensajes del socket en ambos sentidos.
type wsFrame struct {
	Type  string     `json:"type"`
	Text  string     `json:"text,omitempty"`
	View  *chat.View `json:"view,omitempty"`
	Error string     `json:"error,omitempty"`
}

// SessionHandler expone una sesion de chat sobre WebSocket.
type SessionHandler struct {
	logger   *zap.Logger
	manager  *chat.Manager
	upgrader websocket.Upgrader
}

// NewSessionHandler crea el handler. Con allowedOrigins vacio se acepta
// cualquier Origin; si no, solo los listados. Clientes sin header Origin
// (CLI, servicios) pasan siempre porque no son navegadores.
func NewSessionHandler(logger *zap.Logger, manager *chat.Manager, allowedOrigins []string) *SessionHandler {
	return &SessionHandler{
		logger:  logger,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// Serve maneja GET /chat/ws. Cada conexion es una sesion; cerrar el socket
// cierra la sesion.
func (h *SessionHandler) Serve(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	partner := domain.Partner{
		ID:          c.Query("partner_id"),
		DisplayName: c.Query("partner_name"),
		AvatarURL:   c.Query("partner_avatar"),
	}
	if strings.TrimSpace(partner.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "partner_id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	session := h.manager.OpenChat(ctx, claims.UserID, partner)
	logger := h.logger.With(zap.String("session_id", session.ID()), zap.String("participant_id", claims.UserID))
	logger.Info("websocket session opened")

	replies := make(chan wsFrame, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, session, replies, logger)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in wsFrame
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
		if in.Type != "send" {
			h.reply(replies, wsFrame{Type: "error", Error: "unsupported frame type"})
			continue
		}
		if err := session.Send(ctx, in.Text); err != nil {
			var sessErr *chat.SessionError
			if errors.As(err, &sessErr) {
				// El fallo ya viaja en la vista.
				continue
			}
			h.reply(replies, wsFrame{Type: "error", Error: err.Error()})
		}
	}

	_ = h.manager.CloseChat(session.ID())
	<-writerDone
	logger.Info("websocket session closed")
}

func (h *SessionHandler) reply(replies chan<- wsFrame, frame wsFrame) {
	select {
	case replies <- frame:
	default:
		h.logger.Warn("websocket reply dropped", zap.String("type", frame.Type))
	}
}

// writePump es el unico escritor de la conexion.
func (h *SessionHandler) writePump(conn *websocket.Conn, session *chat.Session, replies <-chan wsFrame, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(frame wsFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Warn("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}
	pushView := func() bool {
		v := session.View()
		return write(wsFrame{Type: "view", View: &v})
	}

	if !pushView() {
		return
	}
	changes := session.Changes()
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if !pushView() {
				return
			}
		case frame := <-replies:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
