package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/axonlabs/scopeguard/llm"
)

type stubCompleter struct {
	content string
	err     error
	lastReq llm.Request
}

func (s *stubCompleter) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func TestExtractEntities_ParsesModelResponse(t *testing.T) {
	stub := &stubCompleter{content: `{"entities": [
		{"name": "Payments Team", "type": "TEAM"},
		{"name": "payments  team", "type": "team"},
		{"name": "PostgreSQL", "type": "technology"},
		{"name": "PCI-DSS", "type": "compliance"},
		{"name": "mystery thing", "type": "gizmo"}
	]}`}

	entities := ExtractEntities(context.Background(), stub, "doc body", nil)
	if len(entities) != 4 {
		t.Fatalf("expected 4 entities after dedup, got %d: %+v", len(entities), entities)
	}
	if entities[0].Name != "payments team" || entities[0].Type != EntityTeam {
		t.Errorf("entity 0 = %+v", entities[0])
	}
	if entities[1].Name != "postgresql" || entities[1].Type != EntityTechnology {
		t.Errorf("entity 1 = %+v", entities[1])
	}
	if entities[2].Type != EntityCompliance {
		t.Errorf("entity 2 = %+v", entities[2])
	}
	if entities[3].Name != "mystery thing" || entities[3].Type != EntityConcept {
		t.Errorf("unknown type should map to concept: %+v", entities[3])
	}

	if stub.lastReq.Capability != "extract" {
		t.Errorf("capability %q, want extract", stub.lastReq.Capability)
	}
	if !stub.lastReq.JSONMode {
		t.Error("extraction request should set JSON mode")
	}
}

func TestExtractEntities_FallsBackOnModelError(t *testing.T) {
	stub := &stubCompleter{err: errors.New("model offline")}
	content := "# Payment Gateway\n\nThe **fraud scoring** module calls `billing-service` for `billing-service` lookups.\n"

	entities := ExtractEntities(context.Background(), stub, content, nil)
	if len(entities) == 0 {
		t.Fatal("expected heuristic entities on model failure")
	}

	names := make(map[string]bool)
	for _, e := range entities {
		names[e.Name] = true
		if e.Type != EntityConcept {
			t.Errorf("heuristic entity %q has type %q, want concept", e.Name, e.Type)
		}
	}
	for _, want := range []string{"payment gateway", "fraud scoring", "billing-service"} {
		if !names[want] {
			t.Errorf("missing heuristic entity %q in %v", want, entities)
		}
	}
}

func TestExtractEntities_FallsBackOnMalformedJSON(t *testing.T) {
	stub := &stubCompleter{content: "I could not find any entities, sorry!"}
	entities := ExtractEntities(context.Background(), stub, "# Heading Name\n\nbody\n", nil)
	if len(entities) == 0 {
		t.Fatal("expected heuristic fallback for malformed response")
	}
	if entities[0].Name != "heading name" {
		t.Errorf("expected heading entity, got %+v", entities[0])
	}
}

func TestExtractEntities_NilCompleter(t *testing.T) {
	entities := ExtractEntities(context.Background(), nil, "# Solo Heading\n\ntext\n", nil)
	if len(entities) != 1 || entities[0].Name != "solo heading" {
		t.Fatalf("expected heading heuristic, got %+v", entities)
	}
}

func TestHeuristicEntities_CapAndRanking(t *testing.T) {
	content := "# Repeated Term\n\n## Repeated Term\n\n"
	for i := 0; i < 30; i++ {
		content += "**filler entity " + string(rune('a'+i)) + "x**\n\n"
	}

	entities := heuristicEntities(content)
	if len(entities) != maxEntitiesPerDoc {
		t.Fatalf("expected cap at %d, got %d", maxEntitiesPerDoc, len(entities))
	}
	if entities[0].Name != "repeated term" {
		t.Errorf("highest-weight candidate should rank first, got %+v", entities[0])
	}
}

func TestExtractEntities_CapsModelOutput(t *testing.T) {
	payload := `{"entities": [`
	for i := 0; i < 30; i++ {
		if i > 0 {
			payload += ","
		}
		payload += `{"name": "entity ` + string(rune('a'+i)) + `", "type": "concept"}`
	}
	payload += `]}`

	stub := &stubCompleter{content: payload}
	entities := ExtractEntities(context.Background(), stub, "body", nil)
	if len(entities) != maxEntitiesPerDoc {
		t.Fatalf("expected cap at %d, got %d", maxEntitiesPerDoc, len(entities))
	}
}
