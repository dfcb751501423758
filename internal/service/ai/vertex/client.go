// Package vertex builds the eino Gemini chat model for Vertex AI. Credentials come from
// Application Default Credentials unless Config.Credentials is set.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/auth"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-1.5-pro-002"

// Finish reasons reported by Gemini candidates.
const (
	FinishUnspecified       = string(genai.FinishReasonUnspecified)
	FinishStop              = string(genai.FinishReasonStop)
	FinishMaxTokens         = string(genai.FinishReasonMaxTokens)
	FinishSafety            = string(genai.FinishReasonSafety)
	FinishRecitation        = string(genai.FinishReasonRecitation)
	FinishLanguage          = string(genai.FinishReasonLanguage)
	FinishOther             = string(genai.FinishReasonOther)
	FinishBlocklist         = string(genai.FinishReasonBlocklist)
	FinishProhibitedContent = string(genai.FinishReasonProhibitedContent)
	FinishSPII              = string(genai.FinishReasonSPII)
)

// emptyResultText is how the gemini component reports a response without candidates,
// which Vertex returns when the prompt itself is blocked.
const emptyResultText = "gemini result is empty"

// ErrToolsUnsupported is returned by BindTools.
var ErrToolsUnsupported = errors.New("vertex: tool calling is not supported")

// BlockedError reports that Vertex produced no candidate for the prompt.
type BlockedError struct {
	Cause error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("vertex: no candidates returned: %v", e.Cause)
}

func (e *BlockedError) Unwrap() error { return e.Cause }

// SafetySetting is one (harm category, block threshold) pair.
type SafetySetting struct {
	Category  string
	Threshold string
}

type options struct {
	safety []SafetySetting
}

// WithSafetySettings sets the safety settings of one call. Other chat models ignore it.
func WithSafetySettings(settings []SafetySetting) model.Option {
	return model.WrapImplSpecificOptFn(func(o *options) {
		o.safety = append([]SafetySetting(nil), settings...)
	})
}

// SafetySettingsFrom extracts the settings attached with WithSafetySettings, nil when absent.
func SafetySettingsFrom(opts ...model.Option) []SafetySetting {
	return model.GetImplSpecificOptions(&options{}, opts...).safety
}

// Config describes how to reach a Gemini model on Vertex AI.
type Config struct {
	Project string
	Region  string
	Model   string
	// BaseURL overrides the regional endpoint, e.g. for private endpoints.
	BaseURL string
	// Timeout bounds each call; zero leaves the request context alone.
	Timeout time.Duration
	// SafetySettings apply to calls that carry no WithSafetySettings option.
	SafetySettings []SafetySetting
	// Credentials replaces Application Default Credentials.
	Credentials *auth.Credentials
	// HTTPClient must authenticate requests itself when set.
	HTTPClient *http.Client
}

// ChatModel runs the gemini component over one genai client.
type ChatModel struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	safety  []SafetySetting
}

// NewChatModel validates cfg and creates the genai client. It fails when no
// credentials can be found.
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil {
		return nil, errors.New("vertex: config is required")
	}
	project := strings.TrimSpace(cfg.Project)
	region := strings.TrimSpace(cfg.Region)
	if project == "" || region == "" {
		return nil, errors.New("vertex: project and region are required")
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = DefaultModel
	}

	cc := &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     project,
		Location:    region,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions.BaseURL = base
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}

	return &ChatModel{
		client:  client,
		model:   modelName,
		timeout: cfg.Timeout,
		safety:  append([]SafetySetting(nil), cfg.SafetySettings...),
	}, nil
}

// Generate sends the conversation with the call's safety settings.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	cm, err := m.forCall(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	msg, err := cm.Generate(ctx, input, opts...)
	if err != nil {
		if strings.Contains(err.Error(), emptyResultText) {
			return nil, &BlockedError{Cause: err}
		}
		return nil, err
	}
	return msg, nil
}

// Stream has no incremental consumer here; it yields the Generate result as one chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// BindTools is part of model.ChatModel; persona chats never call tools.
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return ErrToolsUnsupported
}

// GetType names the component for eino callbacks.
func (m *ChatModel) GetType() string {
	return "Vertex"
}

// forCall builds the gemini component for one call. Construction only copies
// configuration; the genai client is shared.
func (m *ChatModel) forCall(ctx context.Context, opts ...model.Option) (*gemini.ChatModel, error) {
	safety := model.GetImplSpecificOptions(&options{safety: m.safety}, opts...).safety
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client:         m.client,
		Model:          m.model,
		SafetySettings: genaiSafety(safety),
	})
}

func genaiSafety(settings []SafetySetting) []*genai.SafetySetting {
	if len(settings) == 0 {
		return nil
	}
	out := make([]*genai.SafetySetting, 0, len(settings))
	for _, s := range settings {
		out = append(out, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}
	return out
}
