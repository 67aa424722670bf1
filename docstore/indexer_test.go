package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/axonlabs/scopeguard/llm"
)

type stubEmbedder struct {
	calls int
	fail  bool
}

func (s *stubEmbedder) Embed(_ context.Context, req llm.EmbedRequest) (*llm.EmbedResponse, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("embedding endpoint down")
	}
	vecs := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		vecs[i] = []float32{float32(len(text)), 1}
	}
	return &llm.EmbedResponse{Vectors: vecs}, nil
}

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestIndexFile_Frontmatter(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	embedder := &stubEmbedder{}
	ix := NewIndexer(store, WithEmbedder(embedder))

	writeDoc(t, root, "fraud.md", `---
title: Fraud Rules
status: approved
approved_at: 2026-01-15
---

# Overview

Fraud scoring runs inline on every card transaction.
`)

	ctx := context.Background()
	doc, changed, err := ix.IndexFile(ctx, "payments", root, "fraud.md")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !changed {
		t.Fatal("first index should report a change")
	}
	if doc.Title != "Fraud Rules" {
		t.Errorf("title %q, want Fraud Rules", doc.Title)
	}
	if doc.Status != StatusApproved {
		t.Errorf("status %q, want approved", doc.Status)
	}
	want := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if doc.ApprovedAt == nil || !doc.ApprovedAt.Equal(want) {
		t.Errorf("approved_at %v, want %v", doc.ApprovedAt, want)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder called %d times, want 1", embedder.calls)
	}

	hits, err := store.VectorSearch(ctx, "payments", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) == 0 {
		t.Error("indexed chunks should be embedded and searchable")
	}
}

func TestIndexFile_UnchangedSkip(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	embedder := &stubEmbedder{}
	ix := NewIndexer(store, WithEmbedder(embedder))
	ctx := context.Background()

	writeDoc(t, root, "doc.md", "# Stable\n\nContent that does not change.\n")

	first, changed, err := ix.IndexFile(ctx, "proj", root, "doc.md")
	if err != nil || !changed {
		t.Fatalf("first index: changed=%v err=%v", changed, err)
	}

	second, changed, err := ix.IndexFile(ctx, "proj", root, "doc.md")
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if changed {
		t.Error("unchanged file should be skipped")
	}
	if second.ID != first.ID {
		t.Errorf("skip returned different document: %s != %s", second.ID, first.ID)
	}
	if embedder.calls != 1 {
		t.Errorf("embedder called %d times for unchanged file, want 1", embedder.calls)
	}

	// Content edits re-index under the same document ID.
	writeDoc(t, root, "doc.md", "# Stable\n\nContent that did change.\n")
	third, changed, err := ix.IndexFile(ctx, "proj", root, "doc.md")
	if err != nil || !changed {
		t.Fatalf("third index: changed=%v err=%v", changed, err)
	}
	if third.ID != first.ID {
		t.Errorf("re-index changed document ID: %s != %s", third.ID, first.ID)
	}
}

func TestIndexFile_TitleFromHeading(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store)
	ctx := context.Background()

	writeDoc(t, root, "design/payments-api.md", "# Payments API Design\n\nEndpoints and shapes.\n")

	doc, _, err := ix.IndexFile(ctx, "proj", root, filepath.Join("design", "payments-api.md"))
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if doc.Title != "Payments API Design" {
		t.Errorf("title %q, want heading text", doc.Title)
	}
	if doc.Path != "design/payments-api.md" {
		t.Errorf("path %q, want slash form", doc.Path)
	}
	if doc.Status != StatusApproved || doc.ApprovedAt == nil {
		t.Errorf("bare documents default to approved with a timestamp: %+v", doc)
	}
}

func TestIndexFile_DraftStaysOutOfRelational(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store)
	ctx := context.Background()

	writeDoc(t, root, "draft.md", "---\nstatus: draft\n---\n\n# Draft Idea\n\nNot approved yet.\n")

	doc, _, err := ix.IndexFile(ctx, "proj", root, "draft.md")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if doc.Status != StatusDraft {
		t.Errorf("status %q, want draft", doc.Status)
	}
	if doc.ApprovedAt != nil {
		t.Errorf("draft should have no approval time, got %v", doc.ApprovedAt)
	}

	hits, err := store.RelationalSearch(ctx, "proj", 10)
	if err != nil {
		t.Fatalf("relational search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("draft chunks leaked into relational results: %+v", hits)
	}
}

func TestIndexDirectory(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store)
	ctx := context.Background()

	writeDoc(t, root, "a.md", "# A\n\nAlpha document.\n")
	writeDoc(t, root, filepath.Join("sub", "b.md"), "# B\n\nBeta document.\n")
	writeDoc(t, root, "notes.txt", "not markdown")
	writeDoc(t, root, filepath.Join(".hidden", "c.md"), "# C\n\nShould be skipped.\n")

	stats, err := ix.IndexDirectory(ctx, "proj", root)
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if stats.Indexed != 2 || stats.Unchanged != 0 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 indexed", stats)
	}

	n, err := store.CountDocuments(ctx, "proj")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 documents, got %d", n)
	}

	stats, err = ix.IndexDirectory(ctx, "proj", root)
	if err != nil {
		t.Fatalf("re-index directory: %v", err)
	}
	if stats.Indexed != 0 || stats.Unchanged != 2 {
		t.Errorf("second pass stats = %+v, want 2 unchanged", stats)
	}
}

func TestIndexFile_NoEmbedderDegrades(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store)
	ctx := context.Background()

	writeDoc(t, root, "doc.md", "# Plain\n\nIndexed without vectors.\n")
	if _, _, err := ix.IndexFile(ctx, "proj", root, "doc.md"); err != nil {
		t.Fatalf("index without embedder: %v", err)
	}

	hits, err := store.VectorSearch(ctx, "proj", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no vector hits without embedder, got %+v", hits)
	}

	// The other surfaces still serve the document.
	rhits, err := store.RelationalSearch(ctx, "proj", 5)
	if err != nil {
		t.Fatalf("relational search: %v", err)
	}
	if len(rhits) == 0 {
		t.Error("relational search should still find the document")
	}
}

func TestIndexFile_EmbedFailureFails(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store, WithEmbedder(&stubEmbedder{fail: true}))

	writeDoc(t, root, "doc.md", "# Doc\n\nBody.\n")
	if _, _, err := ix.IndexFile(context.Background(), "proj", root, "doc.md"); err == nil {
		t.Fatal("expected embedding failure to fail indexing")
	}
}

func TestRemoveFile(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	ix := NewIndexer(store)
	ctx := context.Background()

	writeDoc(t, root, "doc.md", "# Doc\n\nBody.\n")
	if _, _, err := ix.IndexFile(ctx, "proj", root, "doc.md"); err != nil {
		t.Fatalf("index: %v", err)
	}

	deleted, err := ix.RemoveFile(ctx, "proj", "doc.md")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !deleted {
		t.Error("expected removal to report true")
	}

	doc, err := store.GetDocumentByPath(ctx, "proj", "doc.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc != nil {
		t.Errorf("document survived removal: %+v", doc)
	}
}

func TestParseFrontmatter(t *testing.T) {
	t.Run("with frontmatter", func(t *testing.T) {
		meta, body := parseFrontmatter("---\ntitle: Hello\nversion: 2\n---\n\n# Body\n")
		if meta["title"] != "Hello" {
			t.Errorf("title %q", meta["title"])
		}
		if meta["version"] != "2" {
			t.Errorf("version %q, want flattened scalar", meta["version"])
		}
		if body != "\n# Body\n" {
			t.Errorf("body %q", body)
		}
	})

	t.Run("without frontmatter", func(t *testing.T) {
		meta, body := parseFrontmatter("# Just Content\n")
		if len(meta) != 0 {
			t.Errorf("unexpected meta %v", meta)
		}
		if body != "# Just Content\n" {
			t.Errorf("body %q", body)
		}
	})

	t.Run("unterminated frontmatter", func(t *testing.T) {
		content := "---\ntitle: Broken\n"
		meta, body := parseFrontmatter(content)
		if len(meta) != 0 || body != content {
			t.Errorf("unterminated block should pass through, got meta=%v body=%q", meta, body)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		content := "---\n\t: [::\n---\n\nbody\n"
		meta, body := parseFrontmatter(content)
		if len(meta) != 0 {
			t.Errorf("malformed yaml should yield no meta, got %v", meta)
		}
		if body != content {
			t.Errorf("malformed yaml should pass content through, got %q", body)
		}
	})
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("same"))
	b := ContentHash([]byte("same"))
	c := ContentHash([]byte("different"))
	if a != b {
		t.Error("hash should be deterministic")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected hex sha256 length 64, got %d", len(a))
	}
}
