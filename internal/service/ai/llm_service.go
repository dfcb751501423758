package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
)

var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrRejectedByPolicy = errors.New("rejected by content safety policy")
	ErrEmptyReply       = errors.New("model returned an empty reply")
	ErrPersonaRequired  = errors.New("persona is required")
)

// Options configures a Service. Zero Generation and Safety fall back to the defaults.
type Options struct {
	Persona    persona.Persona
	Generation *GenerationConfig
	Safety     *SafetyPolicy
	Logger     *zap.Logger
}

// Service holds the remote model bound to one persona, generation config and safety policy.
// All of them are set once and shared read-only by every ChatSession.
type Service struct {
	chatModel  model.BaseChatModel
	persona    persona.Persona
	system     string
	generation GenerationConfig
	safety     SafetyPolicy
	callOpts   []model.Option
	chain      compose.Runnable[map[string]any, *schema.Message]
	logger     *zap.Logger
}

// NewService compiles the persona chat chain around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if opts.Persona.ID == "" {
		return nil, ErrPersonaRequired
	}

	generation := DefaultGenerationConfig()
	if opts.Generation != nil {
		generation = *opts.Generation
	}
	safety := DefaultSafetyPolicy()
	if opts.Safety != nil {
		safety = NewSafetyPolicy(opts.Safety.Settings()...)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	p := opts.Persona
	return &Service{
		chatModel:  chatModel,
		persona:    p,
		system:     NewPersonaPromptManager().BuildSystemPrompt(&p),
		generation: generation,
		safety:     safety,
		callOpts:   modelOptions(generation, safety),
		chain:      runnable,
		logger:     logger.Named("ai"),
	}, nil
}

// Persona returns the persona the service speaks as.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// SystemInstruction returns the instruction sent with every request.
func (s *Service) SystemInstruction() string {
	return s.system
}

// GenerationConfig returns the generation bounds applied to every request.
func (s *Service) GenerationConfig() GenerationConfig {
	return s.generation
}

// SafetyPolicy returns the safety thresholds applied to every request.
func (s *Service) SafetyPolicy() SafetyPolicy {
	return s.safety
}

// StartChat returns a new conversation handle. The remote context is established on the first Send.
func (s *Service) StartChat() *ChatSession {
	return &ChatSession{svc: s}
}

func (s *Service) invoke(ctx context.Context, history []*schema.Message, userMessage string) (*schema.Message, error) {
	input := map[string]any{
		"system":  s.system,
		"history": history,
		"query":   userMessage,
	}
	return s.chain.Invoke(ctx, input, compose.WithChatModelOption(s.callOpts...))
}
