package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axonlabs/scopeguard/llm"
)

// Embedder is the embedding surface the indexer needs from the LLM
// client. *llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, req llm.EmbedRequest) (*llm.EmbedResponse, error)
}

// Indexer turns design documents into stored, embedded, entity-linked
// chunks. A nil embedder or completer degrades the corresponding
// surface instead of failing: chunks index without vectors, entities
// fall back to heuristics.
type Indexer struct {
	store     *Store
	embedder  Embedder
	completer Completer
	fetcher   *Fetcher
	chunkCfg  ChunkConfig
	logger    *slog.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithEmbedder wires the embedding model used for vector search.
func WithEmbedder(e Embedder) IndexerOption {
	return func(ix *Indexer) { ix.embedder = e }
}

// WithCompleter wires the completion model used for entity extraction.
func WithCompleter(c Completer) IndexerOption {
	return func(ix *Indexer) { ix.completer = c }
}

// WithFetcher replaces the HTTP fetcher used for URL indexing.
func WithFetcher(f *Fetcher) IndexerOption {
	return func(ix *Indexer) { ix.fetcher = f }
}

// WithChunkConfig overrides the chunking bounds.
func WithChunkConfig(cfg ChunkConfig) IndexerOption {
	return func(ix *Indexer) { ix.chunkCfg = cfg }
}

// WithIndexerLogger sets the logger.
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = logger }
}

// NewIndexer creates an Indexer over the given store.
func NewIndexer(store *Store, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		store:    store,
		fetcher:  NewFetcher(),
		chunkCfg: DefaultChunkConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// ContentHash returns the hex SHA-256 of content, used to skip
// re-indexing unchanged documents.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// IndexFile indexes one markdown file under root. The document is
// keyed by its slash-separated path relative to root. Returns the
// stored document and whether anything changed; unchanged files are
// skipped by content hash.
func (ix *Indexer) IndexFile(ctx context.Context, projectID, root, relPath string) (*Document, bool, error) {
	docPath := filepath.ToSlash(relPath)
	raw, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		return nil, false, fmt.Errorf("read document: %w", err)
	}

	hash := ContentHash(raw)
	existing, err := ix.store.GetDocumentByPath(ctx, projectID, docPath)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.ContentHash == hash {
		ix.logger.Debug("document unchanged", "path", docPath)
		return existing, false, nil
	}

	meta, body := parseFrontmatter(string(raw))
	doc := ix.documentFromMeta(projectID, docPath, meta)
	if doc.Title == "" {
		doc.Title = firstHeading(body)
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(relPath), filepath.Ext(relPath))
	}
	doc.ContentHash = hash

	changed, err := ix.indexContent(ctx, doc, body)
	return doc, changed, err
}

// IndexURL fetches and indexes an external page, keyed by its URL.
func (ix *Indexer) IndexURL(ctx context.Context, projectID, rawURL string) (*Document, bool, error) {
	result, err := ix.fetcher.Fetch(ctx, rawURL, "")
	if err != nil {
		return nil, false, err
	}

	var title, markdown string
	if strings.HasPrefix(strings.ToLower(result.ContentType), "text/html") ||
		strings.HasPrefix(strings.ToLower(result.ContentType), "application/xhtml") {
		pageURL, _ := url.Parse(result.FinalURL)
		title, markdown, err = ConvertHTML(string(result.Body), pageURL)
		if err != nil {
			return nil, false, err
		}
	} else {
		markdown = string(result.Body)
		title = firstHeading(markdown)
	}
	if title == "" {
		if u, err := url.Parse(rawURL); err == nil {
			title = u.Host
		}
	}

	hash := ContentHash([]byte(markdown))
	existing, err := ix.store.GetDocumentByPath(ctx, projectID, rawURL)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.ContentHash == hash {
		ix.logger.Debug("document unchanged", "url", rawURL)
		return existing, false, nil
	}

	now := time.Now().UTC()
	doc := &Document{
		ProjectID:   projectID,
		Title:       title,
		Path:        rawURL,
		Status:      StatusApproved,
		ApprovedAt:  &now,
		ContentHash: hash,
	}
	changed, err := ix.indexContent(ctx, doc, markdown)
	return doc, changed, err
}

// IndexStats summarizes a directory indexing run.
type IndexStats struct {
	Indexed   int
	Unchanged int
	Failed    int
}

// IndexDirectory walks root for markdown files and indexes each one.
// Hidden directories are skipped. Individual file failures are logged
// and counted rather than aborting the walk.
func (ix *Indexer) IndexDirectory(ctx context.Context, projectID, root string) (IndexStats, error) {
	var stats IndexStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isMarkdownFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, changed, err := ix.IndexFile(ctx, projectID, root, rel)
		switch {
		case err != nil:
			stats.Failed++
			ix.logger.Warn("failed to index document", "path", rel, "error", err)
		case changed:
			stats.Indexed++
		default:
			stats.Unchanged++
		}
		return nil
	})
	return stats, err
}

// RemoveFile deletes the document indexed for relPath under root.
func (ix *Indexer) RemoveFile(ctx context.Context, projectID, relPath string) (bool, error) {
	return ix.store.DeleteDocumentByPath(ctx, projectID, filepath.ToSlash(relPath))
}

// indexContent chunks, embeds, and extracts entities for a document
// whose metadata is already populated, then stores everything.
func (ix *Indexer) indexContent(ctx context.Context, doc *Document, body string) (bool, error) {
	chunks := ChunkMarkdown(body, ix.chunkCfg)
	if len(chunks) == 0 {
		return false, fmt.Errorf("document %s has no indexable content", doc.Path)
	}

	if ix.embedder != nil {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		resp, err := ix.embedder.Embed(ctx, llm.EmbedRequest{Texts: texts})
		if err != nil {
			return false, fmt.Errorf("embed document %s: %w", doc.Path, err)
		}
		if len(resp.Vectors) != len(chunks) {
			return false, fmt.Errorf("embedding count mismatch: %d vectors for %d chunks", len(resp.Vectors), len(chunks))
		}
		for i := range chunks {
			chunks[i].Embedding = resp.Vectors[i]
		}
	} else {
		ix.logger.Warn("no embedder configured, indexing without vectors", "path", doc.Path)
	}

	entities := ExtractEntities(ctx, ix.completer, body, ix.logger)

	if err := ix.store.UpsertDocument(ctx, doc, chunks, entities); err != nil {
		return false, err
	}
	return true, nil
}

// documentFromMeta builds the document record from frontmatter.
// Documents default to approved: files living in the design directory
// are treated as the source of truth unless marked otherwise.
func (ix *Indexer) documentFromMeta(projectID, docPath string, meta map[string]string) *Document {
	doc := &Document{
		ProjectID: projectID,
		Path:      docPath,
		Title:     strings.TrimSpace(meta["title"]),
		Status:    StatusApproved,
	}

	switch DocumentStatus(strings.ToLower(strings.TrimSpace(meta["status"]))) {
	case StatusDraft:
		doc.Status = StatusDraft
	case StatusSuperseded:
		doc.Status = StatusSuperseded
	case StatusApproved, "":
	}

	if doc.Status == StatusApproved {
		approvedAt := time.Now().UTC()
		for _, key := range []string{"approved_at", "approved", "date"} {
			if raw, ok := meta[key]; ok {
				if t, err := parseMetaTime(raw); err == nil {
					approvedAt = t
					break
				}
			}
		}
		doc.ApprovedAt = &approvedAt
	}
	return doc
}

func parseMetaTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

// parseFrontmatter splits YAML frontmatter from the markdown body.
// Values are flattened to strings; nested structures are ignored.
func parseFrontmatter(content string) (map[string]string, string) {
	meta := make(map[string]string)
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return meta, content
	}

	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return meta, content
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return map[string]string{}, content
	}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			meta[strings.ToLower(k)] = val
		case bool, int, int64, float64:
			meta[strings.ToLower(k)] = fmt.Sprintf("%v", val)
		case time.Time:
			meta[strings.ToLower(k)] = val.UTC().Format(time.RFC3339)
		}
	}
	return meta, body
}

var firstHeadingPattern = regexp.MustCompile(`(?m)^#{1,2}\s+(.+)$`)

func firstHeading(body string) string {
	if m := firstHeadingPattern.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func isMarkdownFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}
