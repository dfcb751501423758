package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
	"github.com/zhouzirui/santa-chat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
	logger       *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, personaStore persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
		logger:       logger.Named("chat_handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由；limit 包裹消息提交接口，可为 nil。
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(sr chi.Router) {
		sr.Delete("/", h.handleEndSession)
		sr.Get("/messages", h.handleListMessages)
		if limit != nil {
			sr.With(limit).Post("/messages", h.handleSendMessage)
		} else {
			sr.Post("/messages", h.handleSendMessage)
		}
	})
}

// SendResult is the response to a message submission: the two turns it appended.
type SendResult struct {
	User      chat.Message `json:"user"`
	Assistant chat.Message `json:"assistant"`
}

// handleCreateSession 创建会话，未指定 persona 时使用默认 persona
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if payload.PersonaID == "" {
		p, ok := h.personaStore.Default()
		if !ok {
			utils.RespondError(w, http.StatusInternalServerError, "no persona configured")
			return
		}
		payload.PersonaID = p.ID
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.PersonaID)
	if err != nil {
		status, message := StatusForError(err)
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleEndSession 结束会话并丢弃其对话记录
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.EndSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		status, message := StatusForError(err)
		utils.RespondError(w, status, message)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages 返回会话的完整对话记录
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	transcript, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		status, message := StatusForError(err)
		utils.RespondError(w, status, message)
		return
	}
	utils.RespondJSON(w, http.StatusOK, transcript)
}

// handleSendMessage 发送一条用户消息并返回新增的两轮对话
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var result SendResult
	_, err := h.chatSvc.SendMessage(r.Context(), sessionID, payload.Content, func(m chat.Message) {
		switch m.Role {
		case chat.RoleUser:
			result.User = m
		case chat.RoleAssistant:
			result.Assistant = m
		}
	})
	if err != nil {
		status, message := StatusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("send message failed", zap.String("session", sessionID), zap.Error(err))
		}
		utils.RespondError(w, status, message)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// StatusForError maps chat service errors to an HTTP status and a client-safe message.
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, chatService.ErrEmptyMessage):
		return http.StatusBadRequest, "message is empty"
	case errors.Is(err, chatService.ErrPersonaRequired):
		return http.StatusBadRequest, "personaId is required"
	case errors.Is(err, chatService.ErrPersonaNotFound):
		return http.StatusBadRequest, "persona not found"
	case errors.Is(err, chatService.ErrAIUnavailable):
		return http.StatusServiceUnavailable, "ai service unavailable"
	default:
		return http.StatusBadGateway, "santa could not answer right now"
	}
}
