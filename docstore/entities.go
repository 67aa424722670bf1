package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/model"
)

// Completer is the completion surface the indexer needs from the LLM
// client. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

const maxEntitiesPerDoc = 20

const entityExtractionPrompt = `Extract the named entities from this design document excerpt.

Entity types:
- team: an owning team or group ("payments team", "platform infra")
- api: a named API, endpoint, or interface
- technology: a language, framework, database, or tool
- service: a deployed service or component
- compliance: a regulation, standard, or policy requirement
- concept: any other domain concept worth linking

Respond with JSON only, no prose:
{"entities": [{"name": "...", "type": "..."}]}

Keep names short (1-4 words). At most %d entities.

Document:
%s`

type entityEnvelope struct {
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
}

// ExtractEntities asks the extract-capability model to pull entities
// from a document. When the model is unavailable or returns garbage it
// falls back to a heading-and-emphasis heuristic, so indexing never
// fails on extraction.
func ExtractEntities(ctx context.Context, completer Completer, content string, logger *slog.Logger) []Entity {
	if logger == nil {
		logger = slog.Default()
	}

	if completer != nil {
		entities, err := extractWithModel(ctx, completer, content)
		if err == nil {
			return entities
		}
		logger.Warn("entity extraction fell back to heuristics", "error", err)
	}
	return heuristicEntities(content)
}

func extractWithModel(ctx context.Context, completer Completer, content string) ([]Entity, error) {
	excerpt := content
	if len(excerpt) > 8000 {
		excerpt = excerpt[:8000]
	}

	resp, err := completer.Complete(ctx, llm.Request{
		Capability: string(model.CapabilityExtract),
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(entityExtractionPrompt, maxEntitiesPerDoc, excerpt)},
		},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var envelope entityEnvelope
	if err := llm.ParseInto(resp.Content, &envelope); err != nil {
		return nil, fmt.Errorf("parse entity response: %w", err)
	}

	entities := make([]Entity, 0, len(envelope.Entities))
	seen := make(map[string]bool)
	for _, e := range envelope.Entities {
		name := normalizeLabel(e.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		entities = append(entities, Entity{Name: name, Type: normalizeEntityType(e.Type)})
		if len(entities) >= maxEntitiesPerDoc {
			break
		}
	}
	return entities, nil
}

func normalizeEntityType(t string) EntityType {
	switch EntityType(strings.ToLower(strings.TrimSpace(t))) {
	case EntityTeam:
		return EntityTeam
	case EntityAPI:
		return EntityAPI
	case EntityTechnology:
		return EntityTechnology
	case EntityService:
		return EntityService
	case EntityCompliance:
		return EntityCompliance
	default:
		return EntityConcept
	}
}

var (
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	emphasisPattern = regexp.MustCompile(`\*\*([^*\n]{2,60})\*\*|` + "`([^`\n]{2,60})`")
)

// heuristicEntities mines headings, bold spans, and inline code for
// candidate entity names. Crude but deterministic; it keeps the graph
// populated when no extraction model is configured.
func heuristicEntities(content string) []Entity {
	counts := make(map[string]int)

	for _, m := range headingPattern.FindAllStringSubmatch(content, -1) {
		addCandidate(counts, m[1], 2)
	}
	for _, m := range emphasisPattern.FindAllStringSubmatch(content, -1) {
		text := m[1]
		if text == "" {
			text = m[2]
		}
		addCandidate(counts, text, 1)
	}

	type scored struct {
		name  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, scored{name, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].name < ranked[j].name
	})

	var entities []Entity
	for _, s := range ranked {
		entities = append(entities, Entity{Name: s.name, Type: EntityConcept})
		if len(entities) >= maxEntitiesPerDoc {
			break
		}
	}
	return entities
}

func addCandidate(counts map[string]int, raw string, weight int) {
	name := normalizeLabel(strings.Trim(raw, `*_#\":.,()[]{}`))
	if name == "" || len(name) < 3 || len(name) > 60 {
		return
	}
	if strings.Count(name, " ") > 4 {
		return
	}
	counts[name] += weight
}
