package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed document store. One database serves all
// three query surfaces; reads are safe for concurrent checks.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for store diagnostics.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the store database at path, applies
// the connection pragmas, and runs migrations.
func Open(path string, opts ...StoreOption) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			title        TEXT NOT NULL,
			path         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'draft',
			approved_at  TEXT,
			content_hash TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_docs_project_path ON documents(project_id, path);
		CREATE INDEX IF NOT EXISTS idx_docs_status ON documents(project_id, status, approved_at DESC);

		CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT PRIMARY KEY,
			doc_id      TEXT NOT NULL,
			section     TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			text        TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			embedding   BLOB,
			FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id, chunk_index);

		CREATE TABLE IF NOT EXISTS graph_nodes (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			label      TEXT NOT NULL,
			doc_id     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_label ON graph_nodes(project_id, kind, label);
		CREATE INDEX IF NOT EXISTS idx_nodes_doc ON graph_nodes(doc_id);

		CREATE TABLE IF NOT EXISTS graph_edges (
			from_id  TEXT NOT NULL,
			to_id    TEXT NOT NULL,
			relation TEXT NOT NULL,
			PRIMARY KEY (from_id, to_id, relation),
			FOREIGN KEY (from_id) REFERENCES graph_nodes(id) ON DELETE CASCADE,
			FOREIGN KEY (to_id)   REFERENCES graph_nodes(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_edges_from ON graph_edges(from_id);
		CREATE INDEX IF NOT EXISTS idx_edges_to ON graph_edges(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Node ID prefixes keep the three node kinds from colliding in one table.
func docNodeID(docID string) string     { return "doc:" + docID }
func chunkNodeID(chunkID string) string { return "chunk:" + chunkID }
func entityNodeID(projectID, name string) string {
	return "entity:" + projectID + ":" + name
}

// GetDocumentByPath returns the document indexed at the given source
// path, or nil when none exists.
func (s *Store) GetDocumentByPath(ctx context.Context, projectID, path string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, path, status, approved_at, content_hash, created_at, updated_at
		 FROM documents WHERE project_id = ? AND path = ?`,
		projectID, path,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

// ListDocuments returns all documents for a project, most recently
// updated first.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, path, status, approved_at, content_hash, created_at, updated_at
		 FROM documents WHERE project_id = ? ORDER BY updated_at DESC, id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of documents indexed for a project.
func (s *Store) CountDocuments(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE project_id = ?`, projectID,
	).Scan(&n)
	return n, err
}

// UpsertDocument stores a document with its chunks and extracted
// entities, replacing any previous version indexed at the same
// (project, path). The document keeps its ID across re-indexing;
// chunks and the document's graph nodes are rebuilt.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document, chunks []Chunk, entities []Entity) error {
	if doc.ProjectID == "" || doc.Path == "" {
		return fmt.Errorf("document requires project and path")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	var docID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE project_id = ? AND path = ?`,
		doc.ProjectID, doc.Path,
	).Scan(&docID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		docID = doc.ID
		if docID == "" {
			docID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, project_id, title, path, status, approved_at, content_hash, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			docID, doc.ProjectID, doc.Title, doc.Path, doc.Status,
			formatNullableTime(doc.ApprovedAt), doc.ContentHash, now, now,
		); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
	case err != nil:
		return fmt.Errorf("resolve document: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET title = ?, status = ?, approved_at = ?, content_hash = ?, updated_at = ? WHERE id = ?`,
			doc.Title, doc.Status, formatNullableTime(doc.ApprovedAt), doc.ContentHash, now, docID,
		); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		// Edge rows die with their nodes via the FK cascade.
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE doc_id = ?`, docID); err != nil {
			return fmt.Errorf("clear graph nodes: %w", err)
		}
	}
	doc.ID = docID

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graph_nodes (id, project_id, kind, label, doc_id) VALUES (?, ?, 'document', ?, ?)`,
		docNodeID(docID), doc.ProjectID, normalizeLabel(doc.Title), docID,
	); err != nil {
		return fmt.Errorf("insert document node: %w", err)
	}

	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocID = docID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, doc_id, section, chunk_index, text, token_count, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, docID, c.Section, c.Index, c.Text, c.TokenCount, encodeVector(c.Embedding),
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_nodes (id, project_id, kind, label, doc_id) VALUES (?, ?, 'chunk', ?, ?)`,
			chunkNodeID(c.ID), doc.ProjectID, normalizeLabel(c.Section), docID,
		); err != nil {
			return fmt.Errorf("insert chunk node: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_edges (from_id, to_id, relation) VALUES (?, ?, 'contains')`,
			docNodeID(docID), chunkNodeID(c.ID),
		); err != nil {
			return fmt.Errorf("insert containment edge: %w", err)
		}
	}

	entityIDs := make([]string, 0, len(entities))
	for _, e := range entities {
		name := normalizeLabel(e.Name)
		if name == "" {
			continue
		}
		id := entityNodeID(doc.ProjectID, name)
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graph_nodes (id, project_id, kind, label, doc_id) VALUES (?, ?, 'entity', ?, NULL)`,
			id, doc.ProjectID, name,
		); err != nil {
			return fmt.Errorf("insert entity node: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO graph_edges (from_id, to_id, relation) VALUES (?, ?, 'mentions')`,
			docNodeID(docID), id,
		); err != nil {
			return fmt.Errorf("insert mention edge: %w", err)
		}
		entityIDs = append(entityIDs, id)
	}

	// Entities extracted from the same document co-occur. The pair is
	// stored once in lexicographic order; traversal walks both ways.
	for i := 0; i < len(entityIDs); i++ {
		for j := i + 1; j < len(entityIDs); j++ {
			from, to := entityIDs[i], entityIDs[j]
			if from > to {
				from, to = to, from
			}
			if from == to {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_edges (from_id, to_id, relation) VALUES (?, ?, 'co_occurs')`,
				from, to,
			); err != nil {
				return fmt.Errorf("insert co-occurrence edge: %w", err)
			}
		}
	}

	if err := pruneOrphanEntities(ctx, tx, doc.ProjectID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}

	s.logger.Debug("indexed document",
		"project", doc.ProjectID,
		"path", doc.Path,
		"chunks", len(chunks),
		"entities", len(entityIDs))
	return nil
}

// DeleteDocumentByPath removes a document and everything derived from
// it. Returns false when nothing was indexed at that path.
func (s *Store) DeleteDocumentByPath(ctx context.Context, projectID, path string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	var docID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE project_id = ? AND path = ?`,
		projectID, path,
	).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE doc_id = ?`, docID); err != nil {
		return false, fmt.Errorf("delete graph nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	if err := pruneOrphanEntities(ctx, tx, projectID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return true, nil
}

// pruneOrphanEntities drops entity nodes no edge references anymore.
func pruneOrphanEntities(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM graph_nodes
		 WHERE kind = 'entity' AND project_id = ?
		   AND id NOT IN (SELECT from_id FROM graph_edges)
		   AND id NOT IN (SELECT to_id FROM graph_edges)`,
		projectID,
	)
	if err != nil {
		return fmt.Errorf("prune orphan entities: %w", err)
	}
	return nil
}

// VectorSearch returns the topK chunks most similar to the query
// embedding, by cosine similarity computed over the project's stored
// embeddings. Ties break on chunk ID for determinism.
func (s *Store) VectorSearch(ctx context.Context, projectID string, query []float32, topK int) ([]VectorHit, error) {
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.doc_id, d.title, c.section, c.text, c.embedding
		 FROM chunks c
		 JOIN documents d ON d.id = c.doc_id
		 WHERE d.project_id = ? AND c.embedding IS NOT NULL`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var hit VectorHit
		var blob []byte
		if err := rows.Scan(&hit.ChunkID, &hit.DocID, &hit.DocTitle, &hit.Section, &hit.Text, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", hit.ChunkID, err)
		}
		hit.Score = cosineSimilarity(query, vec)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// GraphSearch finds chunks structurally related to the seed terms. A
// seed matches any node whose label contains it; traversal then walks
// edges in both directions up to maxHops, and every chunk node reached
// is reported with its first-visit hop distance.
func (s *Store) GraphSearch(ctx context.Context, projectID string, seeds []string, maxHops, limit int) ([]GraphHit, error) {
	if len(seeds) == 0 || limit <= 0 {
		return nil, nil
	}
	if maxHops <= 0 {
		maxHops = 3
	}

	distance := make(map[string]int)
	var frontier []string
	for _, seed := range seeds {
		term := normalizeLabel(seed)
		if term == "" {
			continue
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT id FROM graph_nodes WHERE project_id = ? AND label LIKE '%' || ? || '%'`,
			projectID, term,
		)
		if err != nil {
			return nil, fmt.Errorf("resolve graph seeds: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if _, seen := distance[id]; !seen {
				distance[id] = 0
				frontier = append(frontier, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	if len(frontier) == 0 {
		return nil, nil
	}
	sort.Strings(frontier)

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		neighbors, err := s.neighborsOf(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, id := range neighbors {
			if _, seen := distance[id]; seen {
				continue
			}
			distance[id] = hop
			frontier = append(frontier, id)
		}
		sort.Strings(frontier)
	}

	var chunkIDs []string
	chunkDist := make(map[string]int)
	for nodeID, d := range distance {
		if id, ok := strings.CutPrefix(nodeID, "chunk:"); ok {
			chunkIDs = append(chunkIDs, id)
			chunkDist[id] = d
		}
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	sort.Strings(chunkIDs)

	hits, err := s.loadGraphHits(ctx, chunkIDs, chunkDist)
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// neighborsOf returns the nodes one edge away from any frontier node,
// walking edges in both directions.
func (s *Store) neighborsOf(ctx context.Context, frontier []string) ([]string, error) {
	placeholders := strings.Repeat("?,", len(frontier))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, 2*len(frontier))
	for _, id := range frontier {
		args = append(args, id)
	}
	for _, id := range frontier {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id FROM graph_edges
		 WHERE from_id IN (`+placeholders+`) OR to_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("expand graph frontier: %w", err)
	}
	defer rows.Close()

	inFrontier := make(map[string]bool, len(frontier))
	for _, id := range frontier {
		inFrontier[id] = true
	}

	var neighbors []string
	seen := make(map[string]bool)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		for _, id := range []string{from, to} {
			if !inFrontier[id] && !seen[id] {
				seen[id] = true
				neighbors = append(neighbors, id)
			}
		}
	}
	return neighbors, rows.Err()
}

func (s *Store) loadGraphHits(ctx context.Context, chunkIDs []string, dist map[string]int) ([]GraphHit, error) {
	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.doc_id, d.title, c.section, c.text
		 FROM chunks c
		 JOIN documents d ON d.id = c.doc_id
		 WHERE c.id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("load graph hits: %w", err)
	}
	defer rows.Close()

	var hits []GraphHit
	for rows.Next() {
		var hit GraphHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocID, &hit.DocTitle, &hit.Section, &hit.Text); err != nil {
			return nil, err
		}
		hit.Distance = dist[hit.ChunkID]
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// RelationalSearch returns chunks of the project's approved documents,
// most recently approved first. Rank is the position in that ordering.
func (s *Store) RelationalSearch(ctx context.Context, projectID string, limit int) ([]RelationalHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.doc_id, d.title, c.section, c.text, d.approved_at
		 FROM chunks c
		 JOIN documents d ON d.id = c.doc_id
		 WHERE d.project_id = ? AND d.status = ?
		 ORDER BY d.approved_at DESC, d.id, c.chunk_index
		 LIMIT ?`,
		projectID, StatusApproved, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("relational search: %w", err)
	}
	defer rows.Close()

	var hits []RelationalHit
	for rows.Next() {
		var hit RelationalHit
		var approvedAt sql.NullString
		if err := rows.Scan(&hit.ChunkID, &hit.DocID, &hit.DocTitle, &hit.Section, &hit.Text, &approvedAt); err != nil {
			return nil, err
		}
		hit.Rank = len(hits)
		hit.ApprovedAt = parseNullableTime(approvedAt)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

type rowLike interface {
	Scan(dest ...any) error
}

func scanDocument(row rowLike) (*Document, error) {
	var doc Document
	var approvedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(
		&doc.ID, &doc.ProjectID, &doc.Title, &doc.Path, &doc.Status,
		&approvedAt, &doc.ContentHash, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	doc.ApprovedAt = parseNullableTime(approvedAt)
	doc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	doc.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &doc, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// normalizeLabel lowercases and collapses whitespace so graph seeds
// and node labels compare consistently.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
