package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	chatmodel "github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/service/ai"
	"github.com/zhouzirui/santa-chat/backend/internal/service/ai/vertex"
	chat "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/testutil"
)

const fallback = "Ho ho ho! It seems like my elves are a bit worried about that message. Let's keep our conversations focused on the Christmas spirit and all things merry and bright!"

func newService(t *testing.T, fake *testutil.ChatModel, cfg chat.Config) *chat.Service {
	t.Helper()
	store := persona.NewMemoryStore(persona.Seed())
	santa, _ := store.Default()
	aiSvc, err := ai.NewService(context.Background(), fake, ai.Options{Persona: santa})
	if err != nil {
		t.Fatalf("ai.NewService err: %v", err)
	}
	return chat.NewService(store, aiSvc, cfg, nil, nil)
}

func mustSession(t *testing.T, svc *chat.Service) chatmodel.Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background(), persona.SantaID)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	return session
}

func TestServiceGetSession(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.PersonaID != persona.SantaID {
		t.Fatalf("unexpected persona ID: got %s", got.PersonaID)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})

	if _, err := svc.GetSession(context.Background(), "missing"); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreateSessionUnknownPersona(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})

	if _, err := svc.CreateSession(context.Background(), "grinch"); !errors.Is(err, chat.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
	if _, err := svc.CreateSession(context.Background(), ""); !errors.Is(err, chat.ErrPersonaRequired) {
		t.Fatalf("expected ErrPersonaRequired, got %v", err)
	}
}

func TestSendMessageHelloScenario(t *testing.T) {
	fake := testutil.NewChatModel(testutil.Reply{Content: "Ho ho ho! Merry Christmas!"})
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	var rendered []chatmodel.Message
	reply, err := svc.SendMessage(ctx, session.ID, "Hello", func(m chatmodel.Message) {
		rendered = append(rendered, m)
	})
	if err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if reply.Content != "Ho ho ho! Merry Christmas!" {
		t.Fatalf("unexpected reply %q", reply.Content)
	}

	transcript, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	want := []struct {
		role    chatmodel.Role
		content string
	}{
		{chatmodel.RoleUser, "Hello"},
		{chatmodel.RoleAssistant, "Ho ho ho! Merry Christmas!"},
	}
	if len(transcript) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(transcript))
	}
	for i, w := range want {
		if transcript[i].Role != w.role || transcript[i].Content != w.content {
			t.Fatalf("turn %d: got (%s, %q) want (%s, %q)", i, transcript[i].Role, transcript[i].Content, w.role, w.content)
		}
	}

	if len(rendered) != 2 || rendered[0].ID != transcript[0].ID || rendered[1].ID != transcript[1].ID {
		t.Fatalf("render calls must follow the transcript: %+v", rendered)
	}
}

func TestSendMessageRendersUserTurnBeforeModelCall(t *testing.T) {
	fake := testutil.NewChatModel()
	release := fake.Block()
	svc := newService(t, fake, chat.Config{})
	session := mustSession(t, svc)

	userRendered := make(chan chatmodel.Message, 1)
	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(context.Background(), session.ID, "Hi Santa", func(m chatmodel.Message) {
			if m.Role == chatmodel.RoleUser {
				userRendered <- m
			}
		})
		done <- err
	}()

	select {
	case m := <-userRendered:
		if m.Content != "Hi Santa" {
			t.Fatalf("unexpected user turn %q", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("user turn was not rendered while the model call was pending")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
}

func TestReadsDoNotWaitForPendingModelCall(t *testing.T) {
	fake := testutil.NewChatModel()
	release := fake.Block()
	defer release()
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	userRendered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := svc.SendMessage(ctx, session.ID, "Hi Santa", func(m chatmodel.Message) {
			if m.Role == chatmodel.RoleUser {
				close(userRendered)
			}
		})
		done <- err
	}()
	<-userRendered

	reads := make(chan []chatmodel.Message, 1)
	go func() {
		if _, err := svc.GetSession(ctx, session.ID); err != nil {
			t.Errorf("GetSession err: %v", err)
		}
		transcript, err := svc.LoadTranscript(ctx, session.ID)
		if err != nil {
			t.Errorf("LoadTranscript err: %v", err)
		}
		reads <- transcript
	}()

	select {
	case transcript := <-reads:
		if len(transcript) != 1 || transcript[0].Content != "Hi Santa" {
			t.Fatalf("expected only the pending user turn, got %+v", transcript)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reads blocked behind the pending model call")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 2 {
		t.Fatalf("expected 2 turns after the reply, got %d", len(transcript))
	}
}

func TestSendMessagePolicyRejectionUsesFallback(t *testing.T) {
	fake := testutil.NewChatModel(testutil.Reply{Err: &vertex.BlockedError{Cause: errors.New("raw provider text")}})
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	reply, err := svc.SendMessage(ctx, session.ID, "something disallowed", nil)
	if err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	if reply.Content != fallback {
		t.Fatalf("expected fallback reply, got %q", reply.Content)
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 2 || transcript[1].Content != fallback {
		t.Fatalf("second entry must be the fallback: %+v", transcript)
	}
}

func TestSendMessageOtherFailurePropagates(t *testing.T) {
	upstream := errors.New("quota exceeded")
	fake := testutil.NewChatModel(testutil.Reply{Err: upstream})
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	_, err := svc.SendMessage(ctx, session.ID, "Hello", nil)
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 1 || transcript[0].Role != chatmodel.RoleUser {
		t.Fatalf("only the user turn should remain: %+v", transcript)
	}
}

func TestSendMessageNTurnsYields2N(t *testing.T) {
	fake := testutil.NewChatModel()
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := svc.SendMessage(ctx, session.ID, fmt.Sprintf("wish %d", i), nil); err != nil {
			t.Fatalf("SendMessage %d err: %v", i, err)
		}
	}

	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(transcript))
	}
	for i := 0; i < n; i++ {
		user, assistant := transcript[2*i], transcript[2*i+1]
		if user.Role != chatmodel.RoleUser || user.Content != fmt.Sprintf("wish %d", i) {
			t.Fatalf("turn %d: unexpected user turn %+v", 2*i, user)
		}
		if assistant.Role != chatmodel.RoleAssistant {
			t.Fatalf("turn %d: expected assistant, got %s", 2*i+1, assistant.Role)
		}
		if assistant.CreatedAt.Before(user.CreatedAt) {
			t.Fatalf("turn %d is out of order", 2*i+1)
		}
	}
}

func TestSendMessageEmptyIgnored(t *testing.T) {
	fake := testutil.NewChatModel()
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	if _, err := svc.SendMessage(ctx, session.ID, "  \n", nil); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	transcript, _ := svc.LoadTranscript(ctx, session.ID)
	if len(transcript) != 0 {
		t.Fatalf("empty input must not be appended, got %d turns", len(transcript))
	}
	if len(fake.Calls()) != 0 {
		t.Fatal("empty input must not reach the model")
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})

	if _, err := svc.SendMessage(context.Background(), "missing", "Hello", nil); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSendMessageWithoutAI(t *testing.T) {
	svc := chat.NewService(persona.NewMemoryStore(persona.Seed()), nil, chat.Config{}, nil, nil)
	session := mustSession(t, svc)

	if _, err := svc.SendMessage(context.Background(), session.ID, "Hello", nil); !errors.Is(err, chat.ErrAIUnavailable) {
		t.Fatalf("expected ErrAIUnavailable, got %v", err)
	}
}

func TestSessionsDoNotShareState(t *testing.T) {
	fake := testutil.NewChatModel()
	svc := newService(t, fake, chat.Config{})
	ctx := context.Background()
	a := mustSession(t, svc)
	b := mustSession(t, svc)

	var wg sync.WaitGroup
	for _, tc := range []struct{ id, msg string }{{a.ID, "I want a sled"}, {b.ID, "I want a kite"}} {
		wg.Add(1)
		go func(id, msg string) {
			defer wg.Done()
			if _, err := svc.SendMessage(ctx, id, msg, nil); err != nil {
				t.Errorf("SendMessage err: %v", err)
			}
		}(tc.id, tc.msg)
	}
	wg.Wait()

	ta, _ := svc.LoadTranscript(ctx, a.ID)
	tb, _ := svc.LoadTranscript(ctx, b.ID)
	if len(ta) != 2 || len(tb) != 2 {
		t.Fatalf("expected 2 turns each, got %d and %d", len(ta), len(tb))
	}
	if ta[0].Content != "I want a sled" || ta[1].Content != "Ho ho ho! You said: I want a sled" {
		t.Fatalf("session a mixed up: %+v", ta)
	}
	if tb[0].Content != "I want a kite" || tb[1].Content != "Ho ho ho! You said: I want a kite" {
		t.Fatalf("session b mixed up: %+v", tb)
	}

	// Each conversation carries only its own history to the model.
	if _, err := svc.SendMessage(ctx, a.ID, "and a hat", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	calls := fake.Calls()
	last := calls[len(calls)-1].Input
	for _, m := range last {
		if m.Content == "I want a kite" {
			t.Fatal("session a context leaked session b turns")
		}
	}
}

func TestEndSession(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})
	ctx := context.Background()
	session := mustSession(t, svc)

	if err := svc.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession err: %v", err)
	}
	if _, err := svc.LoadTranscript(ctx, session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
	if err := svc.EndSession(ctx, session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second end, got %v", err)
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{SessionTTL: time.Minute})
	ctx := context.Background()
	session := mustSession(t, svc)

	if removed := svc.Sweep(time.Now().UTC()); removed != 0 {
		t.Fatalf("fresh session swept: %d", removed)
	}
	if removed := svc.Sweep(time.Now().UTC().Add(2 * time.Minute)); removed != 1 {
		t.Fatalf("expected 1 session swept, got %d", removed)
	}
	if _, err := svc.GetSession(ctx, session.ID); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected swept session to be gone, got %v", err)
	}
}

func TestSweepDisabledWithoutTTL(t *testing.T) {
	svc := newService(t, testutil.NewChatModel(), chat.Config{})
	mustSession(t, svc)

	if removed := svc.Sweep(time.Now().Add(24 * time.Hour)); removed != 0 {
		t.Fatalf("sessions must live forever without a TTL, removed %d", removed)
	}
}
