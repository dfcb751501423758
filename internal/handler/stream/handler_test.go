package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/zhouzirui/santa-chat/backend/internal/model/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
	"github.com/zhouzirui/santa-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/santa-chat/backend/internal/service/chat"
	"github.com/zhouzirui/santa-chat/backend/internal/testutil"
)

type sseEvent struct {
	name string
	data StreamResponse
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("decode sse data: %v", err)
			}
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	return events
}

func setup(t *testing.T, fake *testutil.ChatModel) (http.Handler, *chatservice.Service, string) {
	t.Helper()
	store := persona.NewMemoryStore(persona.Seed())
	santa, _ := store.Default()
	aiSvc, err := ai.NewService(context.Background(), fake, ai.Options{Persona: santa})
	if err != nil {
		t.Fatalf("ai.NewService err: %v", err)
	}
	chatSvc := chatservice.NewService(store, aiSvc, chatservice.Config{}, nil, nil)
	session, err := chatSvc.CreateSession(context.Background(), persona.SantaID)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	r := chi.NewRouter()
	New(chatSvc, nil).RegisterRoutes(r, nil)
	return r, chatSvc, session.ID
}

func TestStreamEmitsTurnsThenEnd(t *testing.T) {
	r, _, sessionID := setup(t, testutil.NewChatModel(testutil.Reply{Content: "Ho ho ho! Merry Christmas!"}))

	req := httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message="+url.QueryEscape("Hello"), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := parseEvents(t, resp.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].name != EventTurn || events[0].data.Turn.Role != chatmodel.RoleUser || events[0].data.Turn.Content != "Hello" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].name != EventTurn || events[1].data.Turn.Role != chatmodel.RoleAssistant || events[1].data.Turn.Content != "Ho ho ho! Merry Christmas!" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	if events[2].name != EventEnd || !events[2].data.Finished {
		t.Fatalf("unexpected final event %+v", events[2])
	}
}

func TestStreamUpstreamFailureEmitsError(t *testing.T) {
	r, chatSvc, sessionID := setup(t, testutil.NewChatModel(testutil.Reply{Err: errors.New("deadline exceeded")}))

	req := httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message=Hello", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	events := parseEvents(t, resp.Body.String())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %+v", len(events), events)
	}
	if events[0].name != EventTurn || events[0].data.Turn.Role != chatmodel.RoleUser {
		t.Fatalf("expected the user turn first, got %+v", events[0])
	}
	if events[1].name != EventError || events[1].data.Error == "" {
		t.Fatalf("expected error event, got %+v", events[1])
	}

	transcript, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(transcript) != 1 {
		t.Fatalf("expected only the user turn to remain, got %d turns", len(transcript))
	}
}

func TestStreamRequiresMessage(t *testing.T) {
	r, _, sessionID := setup(t, testutil.NewChatModel())

	req := httptest.NewRequest(http.MethodGet, "/stream/"+sessionID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	r, _, _ := setup(t, testutil.NewChatModel())

	req := httptest.NewRequest(http.MethodGet, "/stream/missing?message=Hello", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
