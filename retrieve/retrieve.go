// Package retrieve merges the document store's three query surfaces
// into one ranked evidence set for the alignment judge. Vector, graph,
// and relational lookups run concurrently; a failed surface degrades
// the result instead of failing the check.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/axonlabs/scopeguard/docstore"
	"github.com/axonlabs/scopeguard/llm"
)

// Store is the query surface the retriever needs from the document
// store. *docstore.Store satisfies it.
type Store interface {
	VectorSearch(ctx context.Context, projectID string, query []float32, topK int) ([]docstore.VectorHit, error)
	GraphSearch(ctx context.Context, projectID string, seeds []string, maxHops, limit int) ([]docstore.GraphHit, error)
	RelationalSearch(ctx context.Context, projectID string, limit int) ([]docstore.RelationalHit, error)
}

// EvidenceChunk is one retrieved unit of design-document context with
// the per-source signals that produced its combined score. VectorScore
// is normalized to [0,1] within the vector result set; GraphDistance
// and RelationalRank are -1 when the source did not return the chunk.
type EvidenceChunk struct {
	SourceDocID    string
	DocTitle       string
	Section        string
	Text           string
	VectorScore    float64
	GraphDistance  int
	RelationalRank int
	CombinedScore  float64
}

// Render formats the chunk the way it appears in the judge prompt.
func (c EvidenceChunk) Render() string {
	header := c.DocTitle
	if c.Section != "" {
		header += " / " + c.Section
	}
	return "[" + header + "]\n" + c.Text
}

// Result is a completed retrieval. Degraded is set when at least one
// source failed; the chunks then come from the surviving sources.
type Result struct {
	Chunks        []EvidenceChunk
	Degraded      bool
	FailedSources []string
}

// Weights control how much each source contributes to the combined
// score. They are renormalized at merge time over the sources that
// actually returned results.
type Weights struct {
	Vector     float64
	Graph      float64
	Relational float64
}

// DefaultWeights returns the equal-weighted default.
func DefaultWeights() Weights {
	return Weights{Vector: 1.0 / 3, Graph: 1.0 / 3, Relational: 1.0 / 3}
}

func (w Weights) valid() bool {
	if w.Vector < 0 || w.Graph < 0 || w.Relational < 0 {
		return false
	}
	return w.Vector+w.Graph+w.Relational > 0
}

// Query describes one retrieval request.
type Query struct {
	// ProjectID scopes the lookup to one project's documents.
	ProjectID string

	// Description is natural-language context for the change, used for
	// the vector lookup.
	Description string

	// Paths are the changed file paths; graph seeds derive from them.
	Paths []string

	// TopK bounds each source's result set. Zero uses the retriever
	// default.
	TopK int
}

// Retriever fans a query out to the three sources and merges the
// results.
type Retriever struct {
	store    Store
	embedder docstore.Embedder
	weights  Weights
	topK     int
	maxHops  int
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEmbedder wires the embedding model for the vector lookup.
// Without one the vector source reports degraded.
func WithEmbedder(e docstore.Embedder) Option {
	return func(r *Retriever) { r.embedder = e }
}

// WithWeights overrides the merge weights. Invalid weights (negative,
// or summing to zero) are ignored.
func WithWeights(w Weights) Option {
	return func(r *Retriever) {
		if w.valid() {
			r.weights = w
		}
	}
}

// WithTopK sets the default per-source result bound.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMaxHops bounds the graph traversal depth.
func WithMaxHops(hops int) Option {
	return func(r *Retriever) {
		if hops > 0 {
			r.maxHops = hops
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) { r.logger = logger }
}

// NewRetriever creates a Retriever over the given store.
func NewRetriever(store Store, opts ...Option) *Retriever {
	r := &Retriever{
		store:   store,
		weights: DefaultWeights(),
		topK:    5,
		maxHops: 3,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve runs the three lookups concurrently and merges their
// results. An empty chunk set with no failures means the project has
// no matching documents, which is a valid, reportable state.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if q.ProjectID == "" {
		return nil, fmt.Errorf("retrieval requires a project ID")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = r.topK
	}

	var (
		wg    sync.WaitGroup
		vhits []docstore.VectorHit
		ghits []docstore.GraphHit
		rhits []docstore.RelationalHit
		verr  error
		gerr  error
		rerr  error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		vhits, verr = r.vectorLookup(ctx, q, topK)
	}()
	go func() {
		defer wg.Done()
		ghits, gerr = r.store.GraphSearch(ctx, q.ProjectID, SeedsFromPaths(q.Paths), r.maxHops, topK)
	}()
	go func() {
		defer wg.Done()
		rhits, rerr = r.store.RelationalSearch(ctx, q.ProjectID, topK)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for source, err := range map[string]error{"vector": verr, "graph": gerr, "relational": rerr} {
		if err != nil {
			failed = append(failed, source)
			r.logger.Warn("retrieval source failed", "source", source, "error", err)
		}
	}
	sort.Strings(failed)

	return &Result{
		Chunks:        Merge(vhits, ghits, rhits, r.weights),
		Degraded:      len(failed) > 0,
		FailedSources: failed,
	}, nil
}

func (r *Retriever) vectorLookup(ctx context.Context, q Query, topK int) ([]docstore.VectorHit, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	text := strings.TrimSpace(q.Description + "\n" + strings.Join(q.Paths, "\n"))
	if text == "" {
		return nil, nil
	}
	resp, err := r.embedder.Embed(ctx, llm.EmbedRequest{Texts: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(resp.Vectors) == 0 {
		return nil, fmt.Errorf("embedding response had no vectors")
	}
	return r.store.VectorSearch(ctx, q.ProjectID, resp.Vectors[0], topK)
}

// pathStopWords are structural path segments that carry no domain
// meaning as graph seeds.
var pathStopWords = map[string]bool{
	"src": true, "lib": true, "pkg": true, "internal": true,
	"cmd": true, "app": true, "apps": true, "main": true,
	"test": true, "tests": true, "spec": true, "docs": true,
	"vendor": true, "node_modules": true, "dist": true, "build": true,
}

const maxGraphSeeds = 12

// SeedsFromPaths derives graph seed terms from changed file paths:
// each path segment minus its extension, lowercased, with underscores
// and hyphens opened up so "fraud_scoring.py" can land on a
// "fraud scoring" entity.
func SeedsFromPaths(paths []string) []string {
	var seeds []string
	seen := make(map[string]bool)
	for _, p := range paths {
		for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
			seg = strings.ToLower(seg)
			seg = strings.TrimSuffix(seg, filepath.Ext(seg))
			seg = strings.ReplaceAll(seg, "_", " ")
			seg = strings.ReplaceAll(seg, "-", " ")
			seg = strings.Join(strings.Fields(seg), " ")
			if len(seg) < 3 || pathStopWords[seg] || seen[seg] {
				continue
			}
			seen[seg] = true
			seeds = append(seeds, seg)
			if len(seeds) >= maxGraphSeeds {
				return seeds
			}
		}
	}
	return seeds
}
