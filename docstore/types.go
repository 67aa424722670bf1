// Package docstore persists design documents and serves the three
// retrieval surfaces over them: vector similarity, bounded-hop graph
// traversal, and relational approved-first filtering.
package docstore

import "time"

// DocumentStatus is a document lifecycle status string.
type DocumentStatus = string

// EntityType is an extracted-entity category string.
type EntityType = string

// Document statuses. Only approved documents participate in
// relational retrieval.
const (
	StatusDraft      = "draft"
	StatusApproved   = "approved"
	StatusSuperseded = "superseded"
)

// Entity types recognized by extraction.
const (
	EntityTeam       = "team"
	EntityAPI        = "api"
	EntityTechnology = "technology"
	EntityService    = "service"
	EntityCompliance = "compliance"
	EntityConcept    = "concept"
)

// Document is a design document tracked by the store.
type Document struct {
	ID          string
	ProjectID   string
	Title       string
	Path        string
	Status      string
	ApprovedAt  *time.Time
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one retrievable span of a document.
type Chunk struct {
	ID         string
	DocID      string
	Section    string
	Index      int
	Text       string
	TokenCount int
	Embedding  []float32
}

// Entity is a named concept extracted from a document. Name is stored
// normalized (lowercase, single-spaced) so graph seeds match it.
type Entity struct {
	Name string
	Type string
}

// VectorHit is one vector-similarity result. Score is raw cosine
// similarity; normalization happens in the retrieval merge.
type VectorHit struct {
	ChunkID  string
	DocID    string
	DocTitle string
	Section  string
	Text     string
	Score    float64
}

// GraphHit is one graph-traversal result. Distance is the hop count
// from the nearest matched seed node.
type GraphHit struct {
	ChunkID  string
	DocID    string
	DocTitle string
	Section  string
	Text     string
	Distance int
}

// RelationalHit is one approved-first result. Rank is the zero-based
// position in the approved-most-recently-first ordering.
type RelationalHit struct {
	ChunkID    string
	DocID      string
	DocTitle   string
	Section    string
	Text       string
	Rank       int
	ApprovedAt *time.Time
}
