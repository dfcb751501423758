package ws

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	chatHandler "github.com/zhouzirui/santa-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Message types exchanged over the socket.
const (
	TypeText      = "text"
	TypeConnected = "connected"
	TypeTurn      = "turn"
	TypeError     = "error"
)

// Renderer turns turn content into display HTML.
type Renderer interface {
	HTML(text string) template.HTML
}

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc  *chatservice.Service
	renderer Renderer
	logger   *zap.Logger
	limit    rate.Limit
	burst    int
	upgrader websocket.Upgrader
	// readWait is how long the socket may stay silent between reads.
	readWait time.Duration
}

// New 创建WebSocket处理器；rps<=0 表示不限速。
func New(chatSvc *chatservice.Service, renderer Renderer, logger *zap.Logger, rps float64, burst int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Handler{
		chatSvc:  chatSvc,
		renderer: renderer,
		logger:   logger.Named("ws_handler"),
		limit:    limit,
		burst:    burst,
		readWait: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// TurnPayload carries one transcript turn and its rendered form.
type TurnPayload struct {
	Message chat.Message  `json:"message"`
	HTML    template.HTML `json:"html,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes from the read loop and the ping loop.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	logger    *zap.Logger
	mu        sync.Mutex
}

func (c *conn) write(msgType string, data interface{}) {
	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("write failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *conn) sendError(message string) {
	c.write(TypeError, map[string]string{"message": message})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		status, message := chatHandler.StatusForError(err)
		http.Error(w, message, status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, sessionID: sessionID, logger: h.logger}
	h.logger.Info("connection opened", zap.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = h.extendDeadline(ws)
	ws.SetPongHandler(func(string) error {
		return h.extendDeadline(ws)
	})

	go h.pingLoop(ctx, c)

	c.write(TypeConnected, map[string]any{"persona": session.PersonaID})

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.String("session", sessionID), zap.Error(err))
			}
			return
		}
		_ = h.extendDeadline(ws)

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("session mismatch")
			continue
		}
		if msg.Type != TypeText {
			c.sendError("unsupported message type: " + msg.Type)
			continue
		}
		if !limiter.Allow() {
			c.sendError("too many messages, slow down")
			continue
		}

		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			c.sendError("invalid text payload")
			continue
		}
		h.handleText(ctx, c, text.Text)
		// Pongs are not read while the model call runs.
		_ = h.extendDeadline(ws)
	}
}

func (h *Handler) extendDeadline(ws *websocket.Conn) error {
	return ws.SetReadDeadline(time.Now().Add(h.readWait))
}

func (h *Handler) handleText(ctx context.Context, c *conn, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	_, err := h.chatSvc.SendMessage(ctx, c.sessionID, text, func(m chat.Message) {
		payload := TurnPayload{Message: m}
		if h.renderer != nil {
			payload.HTML = h.renderer.HTML(m.Content)
		}
		c.write(TypeTurn, payload)
	})
	if err != nil {
		_, message := chatHandler.StatusForError(err)
		c.sendError(message)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
