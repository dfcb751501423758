package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// ChatState is the lifecycle of a ChatSession.
type ChatState int

const (
	StateUninitialized ChatState = iota
	StateActive
)

func (s ChatState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("ChatState(%d)", int(s))
	}
}

// ChatSession is one conversation with the remote model. Accepted turns are kept as the
// conversational context and replayed on later calls; rejected turns are not.
type ChatSession struct {
	svc *Service

	mu      sync.Mutex
	state   ChatState
	history []*schema.Message
}

// State reports whether the conversational context has been established.
func (c *ChatSession) State() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns how many messages the remote context currently holds.
func (c *ChatSession) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// Send relays one user message and returns the reply verbatim.
// A safety rejection is reported as ErrRejectedByPolicy; any other failure is returned wrapped.
func (c *ChatSession) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUninitialized {
		c.state = StateActive
		c.svc.logger.Debug("chat context started", zap.String("persona", c.svc.persona.ID))
	}

	history := append([]*schema.Message(nil), c.history...)
	response, err := c.svc.invoke(ctx, history, text)
	if err != nil {
		if rejectedError(err) {
			return "", fmt.Errorf("%w: %v", ErrRejectedByPolicy, err)
		}
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	if reason, ok := rejectedFinish(response); ok {
		return "", fmt.Errorf("%w: finish reason %s", ErrRejectedByPolicy, reason)
	}
	if response == nil || response.Content == "" {
		return "", ErrEmptyReply
	}

	c.history = append(c.history,
		schema.UserMessage(text),
		schema.AssistantMessage(response.Content, nil),
	)

	c.svc.logger.Debug("generated reply",
		zap.String("persona", c.svc.persona.ID),
		zap.Int("length", len(response.Content)),
		zap.Int("context_turns", len(c.history)),
	)
	return response.Content, nil
}
