package stream

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/santa-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
	"github.com/zhouzirui/santa-chat/backend/pkg/utils"
)

// SSE event names.
const (
	EventTurn  = "turn"
	EventEnd   = "end"
	EventError = "error"
)

// Handler pushes the turns of one submission to the client via Server-Sent Events.
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("stream_handler"),
	}
}

// StreamResponse represents one SSE payload
type StreamResponse struct {
	SessionID string        `json:"sessionId"`
	Turn      *chat.Message `json:"turn,omitempty"`
	Finished  bool          `json:"finished,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RegisterRoutes 注册流式接口；limit 可为 nil。
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit != nil {
		r.With(limit).Get("/stream/{sessionID}", h.handleStream)
		return
	}
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if strings.TrimSpace(userMessage) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		status, message := chatHandler.StatusForError(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, err := h.chatSvc.SendMessage(r.Context(), sessionID, userMessage, func(m chat.Message) {
		turn := m
		utils.SendSSEEvent(w, flusher, EventTurn, StreamResponse{SessionID: sessionID, Turn: &turn})
	})
	if err != nil {
		_, message := chatHandler.StatusForError(err)
		h.logger.Warn("stream submission failed", zap.String("session", sessionID), zap.Error(err))
		utils.SendSSEEvent(w, flusher, EventError, StreamResponse{SessionID: sessionID, Error: message})
		return
	}

	utils.SendSSEEvent(w, flusher, EventEnd, StreamResponse{SessionID: sessionID, Finished: true})
}
