package page

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/santa-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
)

// SessionCookie holds the browser's chat session id.
const SessionCookie = "santa_session"

//go:embed templates/index.html
var templateFS embed.FS

// Renderer turns turn content into display HTML.
type Renderer interface {
	HTML(text string) template.HTML
}

// Handler serves the chat page and its form fallback.
type Handler struct {
	chatSvc  *chatservice.Service
	personas persona.Store
	renderer Renderer
	logger   *zap.Logger
	tmpl     *template.Template
}

type turnView struct {
	Role chat.Role
	HTML template.HTML
}

type pageData struct {
	Persona   persona.Persona
	SessionID string
	Turns     []turnView
	Error     string
}

// New 创建页面处理器
func New(chatSvc *chatservice.Service, personas persona.Store, renderer Renderer, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, err
	}
	return &Handler{
		chatSvc:  chatSvc,
		personas: personas,
		renderer: renderer,
		logger:   logger.Named("page_handler"),
		tmpl:     tmpl,
	}, nil
}

// RegisterRoutes 注册页面路由；limit 包裹表单提交，可为 nil。
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/", h.handleIndex)
	if limit != nil {
		r.With(limit).Post("/", h.handleSubmit)
		return
	}
	r.Post("/", h.handleSubmit)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	session, err := h.ensureSession(w, r)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		http.Error(w, "chat unavailable", http.StatusInternalServerError)
		return
	}
	h.renderPage(r.Context(), w, http.StatusOK, session, "")
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	session, err := h.ensureSession(w, r)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		http.Error(w, "chat unavailable", http.StatusInternalServerError)
		return
	}

	message := r.PostFormValue("message")
	if strings.TrimSpace(message) == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if _, err := h.chatSvc.SendMessage(r.Context(), session.ID, message, nil); err != nil {
		status, text := chatHandler.StatusForError(err)
		h.renderPage(r.Context(), w, status, session, text)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ensureSession resolves the cookie session, starting a new one when it is missing or expired.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (chat.Session, error) {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		session, err := h.chatSvc.GetSession(r.Context(), cookie.Value)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, chatservice.ErrSessionNotFound) {
			return chat.Session{}, err
		}
	}

	p, ok := h.personas.Default()
	if !ok {
		return chat.Session{}, chatservice.ErrPersonaNotFound
	}
	session, err := h.chatSvc.CreateSession(r.Context(), p.ID)
	if err != nil {
		return chat.Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}

func (h *Handler) renderPage(ctx context.Context, w http.ResponseWriter, status int, session chat.Session, errText string) {
	p, _ := h.chatSvc.Persona(session.ID)
	transcript, err := h.chatSvc.LoadTranscript(ctx, session.ID)
	if err != nil {
		h.logger.Warn("load transcript failed", zap.String("session", session.ID), zap.Error(err))
	}

	data := pageData{
		Persona:   p,
		SessionID: session.ID,
		Turns:     make([]turnView, 0, len(transcript)),
		Error:     errText,
	}
	for _, m := range transcript {
		data.Turns = append(data.Turns, turnView{Role: m.Role, HTML: h.render(m.Content)})
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, data); err != nil {
		h.logger.Error("render page failed", zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) render(text string) template.HTML {
	if h.renderer == nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return h.renderer.HTML(text)
}
