package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/santa-chat/backend/internal/model/persona"
)

func TestDefaultPersonaHidesInstruction(t *testing.T) {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/persona", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if strings.Contains(body, "HO HO HO!") {
		t.Fatalf("system instruction leaked to client: %s", body)
	}

	var got persona.Persona
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode persona: %v", err)
	}
	if got.ID != persona.SantaID || got.Title == "" || got.Placeholder == "" {
		t.Fatalf("unexpected persona %+v", got)
	}
}

func TestListPersonas(t *testing.T) {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/personas", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var got []persona.Persona
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode personas: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one persona, got %d", len(got))
	}
}

func TestDefaultPersonaEmptyStore(t *testing.T) {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(nil)).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/persona", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
