package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/axonlabs/scopeguard/change"
	"github.com/axonlabs/scopeguard/cicd"
	"github.com/axonlabs/scopeguard/config"
	"github.com/axonlabs/scopeguard/docstore"
	"github.com/axonlabs/scopeguard/engine"
	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/model"
	"github.com/axonlabs/scopeguard/retrieve"
)

func loadConfig(flags *rootFlags) (*config.Config, error) {
	if flags.configPath != "" {
		cfg, err := config.LoadFromFile(flags.configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.NewLoader(slog.Default()).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildRegistry maps the configured endpoint onto a model registry.
// An explicit registry file wins; otherwise the single configured
// endpoint serves every capability.
func buildRegistry(cfg *config.Config) (*model.Registry, error) {
	if cfg.Model.RegistryPath != "" {
		reg, err := model.LoadFromFile(cfg.Model.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
		return reg, nil
	}

	reg := model.NewDefaultRegistry()
	reg.SetEndpoint("configured", &model.EndpointConfig{
		Provider:  providerFor(cfg.Model.Default, cfg.Model.Endpoint),
		URL:       cfg.Model.Endpoint,
		Model:     cfg.Model.Default,
		MaxTokens: 128000,
	})
	reg.SetDefault("configured")
	reg.SetCapability(model.CapabilityJudge, &model.CapabilityConfig{
		Description: "Alignment judgment over diffs and design evidence",
		Preferred:   []string{"configured"},
	})
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model registry: %w", err)
	}
	return reg, nil
}

func providerFor(modelID, endpoint string) string {
	switch {
	case strings.HasPrefix(modelID, "claude"):
		return "anthropic"
	case strings.Contains(endpoint, "openai"):
		return "openai"
	default:
		return "ollama"
	}
}

func repoWorkspace(cfg *config.Config) (string, error) {
	path := cfg.Repo.Path
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat repo path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

func newLLMClient(cfg *config.Config) (*llm.Client, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	var opts []llm.ClientOption
	if cfg.Model.Timeout > 0 {
		opts = append(opts, llm.WithTimeout(cfg.Model.Timeout))
	}
	return llm.NewClient(reg, opts...), nil
}

// buildEngine assembles the full check pipeline from config. The
// returned cleanup closes the document store.
func buildEngine(cfg *config.Config, extra ...engine.Option) (*engine.Engine, func(), error) {
	workspace, err := repoWorkspace(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := newLLMClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := docstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open document store: %w", err)
	}
	cleanup := func() { _ = store.Close() }

	retriever := retrieve.NewRetriever(store,
		retrieve.WithEmbedder(client),
		retrieve.WithTopK(cfg.Retrieval.TopK),
		retrieve.WithMaxHops(cfg.Retrieval.MaxHops),
		retrieve.WithWeights(retrieve.Weights{
			Vector:     cfg.Retrieval.VectorWeight,
			Graph:      cfg.Retrieval.GraphWeight,
			Relational: cfg.Retrieval.RelationalWeight,
		}))

	invoker := llm.NewClientInvoker(client, string(model.CapabilityJudge),
		llm.WithInvokerTemperature(cfg.Model.Temperature))

	opts := []engine.Option{
		engine.WithModelID(cfg.Model.Default),
		engine.WithSmallMarkers(cfg.Model.SmallMarkers),
		engine.WithJudgeRetries(cfg.Judge.MaxRetries),
		engine.WithApprovalThreshold(cfg.Judge.ApprovalThreshold),
	}
	opts = append(opts, extra...)

	eng, err := engine.New(engine.Deps{
		Changes:   change.NewGitCLI(workspace),
		Workflows: cicd.NewFSParser(workspace),
		Retriever: retriever,
		Invoker:   invoker,
	}, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}
