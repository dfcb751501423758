package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/service/ai"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrAIUnavailable   = errors.New("ai service unavailable")
)

// ChatStarter opens remote conversations for new sessions.
type ChatStarter interface {
	StartChat() *ai.ChatSession
}

// RenderFunc is called with each turn right after it is appended to the transcript.
type RenderFunc func(chat.Message)

// Config tunes session lifetime.
type Config struct {
	// SessionTTL is the idle time after which a session is dropped. Zero keeps sessions forever.
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

type entry struct {
	// sendMu serializes submissions for one session and guards chat.
	sendMu sync.Mutex
	chat   *ai.ChatSession

	// mu guards session and transcript. It is never held across a model call.
	mu         sync.RWMutex
	session    chat.Session
	persona    persona.Persona
	transcript []chat.Message
}

// Service owns every live session: its transcript and its remote conversation.
type Service struct {
	personas persona.Store
	starter  ChatStarter
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewService creates the in-memory session registry. starter may be nil when no model is configured;
// sessions still work but SendMessage fails with ErrAIUnavailable.
func NewService(personas persona.Store, starter ChatStarter, cfg Config, logger *zap.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		personas: personas,
		starter:  starter,
		cfg:      cfg,
		logger:   logger.Named("chat"),
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*entry),
	}
}

// CreateSession provisions an anonymous session bound to a persona.
func (s *Service) CreateSession(_ context.Context, personaID string) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}
	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return chat.Session{}, ErrPersonaNotFound
	}

	now := s.now()
	session := chat.Session{
		ID:           uuid.NewString(),
		PersonaID:    p.ID,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{
		session:    session,
		persona:    p,
		transcript: make([]chat.Message, 0, 16),
	}
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.setActiveSessions(count)
	s.logger.Info("session created", zap.String("session", session.ID), zap.String("persona", p.ID))
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session, nil
}

// LoadTranscript returns a copy of the stored turns for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	copied := make([]chat.Message, len(e.transcript))
	copy(copied, e.transcript)
	return copied, nil
}

// EndSession destroys the session, its transcript and its remote conversation.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.metrics.setActiveSessions(count)
	s.logger.Info("session ended", zap.String("session", sessionID))
	return nil
}

// SendMessage runs one user submission: append and render the user turn, ask the model,
// then append and render the assistant turn. A safety rejection becomes the persona's
// fallback reply. Any other model failure is returned and leaves only the user turn behind.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string, render RenderFunc) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	e, ok := s.lookup(sessionID)
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if s.starter == nil {
		return chat.Message{}, ErrAIUnavailable
	}
	if render == nil {
		render = func(chat.Message) {}
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	userTurn := e.append(chat.RoleUser, content, s.now())
	s.metrics.turn(chat.RoleUser)
	render(userTurn)

	if e.chat == nil {
		e.chat = s.starter.StartChat()
	}

	reply, err := e.chat.Send(ctx, content)
	switch {
	case ai.IsPolicyRejection(err):
		s.metrics.rejection()
		s.logger.Debug("reply replaced by fallback", zap.String("session", sessionID))
		reply = e.persona.FallbackReply
	case err != nil:
		s.metrics.failure()
		s.logger.Error("model call failed", zap.String("session", sessionID), zap.Error(err))
		return chat.Message{}, fmt.Errorf("send message: %w", err)
	}

	assistantTurn := e.append(chat.RoleAssistant, reply, s.now())
	s.metrics.turn(chat.RoleAssistant)
	render(assistantTurn)
	return assistantTurn, nil
}

// Sweep drops sessions idle for longer than the configured TTL and returns how many were removed.
func (s *Service) Sweep(now time.Time) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	removed := 0
	for id, e := range s.sessions {
		// Sessions busy with a submission are skipped and will be revisited next sweep.
		if !e.sendMu.TryLock() {
			continue
		}
		e.mu.RLock()
		expired := e.session.Expired(now, s.cfg.SessionTTL)
		e.mu.RUnlock()
		e.sendMu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		s.metrics.setActiveSessions(count)
		s.logger.Info("expired sessions swept", zap.Int("removed", removed), zap.Int("active", count))
	}
	return removed
}

// Run sweeps expired sessions until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Persona returns the persona bound to a session.
func (s *Service) Persona(sessionID string) (persona.Persona, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return persona.Persona{}, ErrSessionNotFound
	}
	return e.persona, nil
}

func (s *Service) lookup(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return e, ok
}

// append adds a turn and refreshes the activity timestamp.
func (e *entry) append(role chat.Role, content string, now time.Time) chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: e.session.ID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	e.transcript = append(e.transcript, msg)
	e.session.LastActiveAt = now
	return msg
}
