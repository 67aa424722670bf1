// Package main implements a mock model server for offline ScopeGuard
// runs. It serves OpenAI-compatible /v1/chat/completions and
// /v1/embeddings responses so checks can run without a real model:
// chat completions come from JSON fixture files routed by the request's
// "model" field, and embeddings are deterministic hashes of the input
// text.
//
// Usage:
//
//	mock-model -fixtures ./fixtures -port 11434
//
// A fixture file named "qwen.json" answers requests for model "qwen".
// Numbered variants ("qwen.1.json", "qwen.2.json") are served in call
// order before the base file, which then repeats. Serving a malformed
// verdict first and a valid one second exercises the judge's repair
// cycle end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const embeddingDims = 64

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// fixtureSet holds each model's ordered response sequence.
type fixtureSet map[string][]string

type server struct {
	fixtures fixtureSet
	logger   *slog.Logger

	mu      sync.Mutex
	calls   map[string]int
	prompts map[string][]string
}

func newServer(fixtures fixtureSet, logger *slog.Logger) *server {
	return &server{
		fixtures: fixtures,
		logger:   logger,
		calls:    make(map[string]int),
		prompts:  make(map[string][]string),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "fixtures", "directory of fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for model, seq := range fixtures {
		logger.Info("fixture loaded", "model", model, "responses", len(seq))
	}

	s := newServer(fixtures, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/embeddings", s.handleEmbeddings)
	mux.HandleFunc("/prompts", s.handlePrompts)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("mock model server listening", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChat answers with the next fixture in the model's sequence.
// The last fixture repeats once the sequence is exhausted.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	seq, ok := s.fixtures[req.Model]
	if !ok {
		s.logger.Warn("no fixture for model", "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.mu.Lock()
	call := s.calls[req.Model]
	s.calls[req.Model] = call + 1
	if len(req.Messages) > 0 {
		s.prompts[req.Model] = append(s.prompts[req.Model], req.Messages[len(req.Messages)-1].Content)
	}
	s.mu.Unlock()

	content := seq[min(call, len(seq)-1)]
	s.logger.Info("chat completion served", "model", req.Model, "call", call+1, "bytes", len(content))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

// handleEmbeddings returns a deterministic unit vector per input text,
// so identical texts always land near each other and retrieval stays
// reproducible across runs.
func (s *server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var texts []string
	switch v := req.Input.(type) {
	case string:
		texts = []string{v}
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok {
				texts = append(texts, str)
			}
		}
	}

	type embedEntry struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]embedEntry, len(texts))
	for i, text := range texts {
		data[i] = embedEntry{Object: "embedding", Index: i, Embedding: embedText(text)}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  req.Model,
		"data":   data,
	})
}

// handlePrompts exposes the prompts each model received, for assertions
// in end-to-end tests.
func (s *server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")

	s.mu.Lock()
	result := make(map[string][]string)
	for model, prompts := range s.prompts {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		result[model] = append([]string(nil), prompts...)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"prompts_by_model": result})
}

// embedText hashes token trigrams into a fixed-size unit vector.
func embedText(text string) []float32 {
	vec := make([]float32, embeddingDims)
	words := strings.Fields(strings.ToLower(text))
	for i := range words {
		end := min(i+3, len(words))
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Join(words[i:end], " ")))
		vec[h.Sum32()%embeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// numberedFixtureRe matches sequenced files like "qwen.2.json".
var numberedFixtureRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir into per-model sequences:
// numbered files in numeric order, then the base file as the repeating
// fallback.
func loadFixtures(dir string) (fixtureSet, error) {
	base := make(map[string]string)
	numbered := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)

		if m := numberedFixtureRe.FindStringSubmatch(info.Name()); m != nil {
			idx, _ := strconv.Atoi(m[2])
			if numbered[m[1]] == nil {
				numbered[m[1]] = make(map[int]string)
			}
			numbered[m[1]][idx] = content
			return nil
		}

		base[strings.TrimSuffix(info.Name(), ".json")] = content
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(fixtureSet)
	for model, byIndex := range numbered {
		indices := make([]int, 0, len(byIndex))
		for idx := range byIndex {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], byIndex[idx])
		}
	}
	for model, content := range base {
		fixtures[model] = append(fixtures[model], content)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
