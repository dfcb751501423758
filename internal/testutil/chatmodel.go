// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/santa-chat/backend/internal/service/ai/vertex"
)

// Reply is one scripted answer of a ChatModel.
type Reply struct {
	Content      string
	FinishReason string
	Err          error
}

// Call records one Generate invocation.
type Call struct {
	Input   []*schema.Message
	Options *model.Options
	// Safety holds the settings attached with vertex.WithSafetySettings.
	Safety []vertex.SafetySetting
}

// ChatModel is a scripted eino chat model. Queued replies are used first, then Respond,
// then an echo of the last user message.
type ChatModel struct {
	Respond func(input []*schema.Message) Reply

	mu      sync.Mutex
	queue   []Reply
	calls   []Call
	release chan struct{}
}

// NewChatModel returns a fake that answers with replies in order.
func NewChatModel(replies ...Reply) *ChatModel {
	return &ChatModel{queue: append([]Reply(nil), replies...)}
}

// Block makes every Generate wait until the returned function is called.
func (m *ChatModel) Block() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.release = ch
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns a copy of the recorded invocations.
func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Generate implements model.BaseChatModel.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{
		Input:   append([]*schema.Message(nil), input...),
		Options: model.GetCommonOptions(&model.Options{}, opts...),
		Safety:  vertex.SafetySettingsFrom(opts...),
	})
	release := m.release
	var reply Reply
	switch {
	case len(m.queue) > 0:
		reply = m.queue[0]
		m.queue = m.queue[1:]
	case m.Respond != nil:
		reply = m.Respond(input)
	default:
		reply = echo(input)
	}
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if reply.Err != nil {
		return nil, reply.Err
	}
	msg := schema.AssistantMessage(reply.Content, nil)
	if reply.FinishReason != "" {
		msg.ResponseMeta = &schema.ResponseMeta{FinishReason: reply.FinishReason}
	}
	return msg, nil
}

// Stream implements model.BaseChatModel.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func echo(input []*schema.Message) Reply {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != nil && input[i].Role == schema.User {
			return Reply{Content: "Ho ho ho! You said: " + input[i].Content}
		}
	}
	return Reply{Content: "Ho ho ho!"}
}
