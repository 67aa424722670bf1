package cicd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// workflowsDir is where CI workflow files live inside a repository.
const workflowsDir = ".github/workflows"

// FSParser parses GitHub Actions workflow files from on-disk
// repositories. Repositories are addressed like change.GitCLI: by
// absolute path or a path relative to the workspace directory.
type FSParser struct {
	workspace string
	logger    *slog.Logger
}

// FSParserOption configures an FSParser.
type FSParserOption func(*FSParser)

// WithParserLogger sets the logger.
func WithParserLogger(logger *slog.Logger) FSParserOption {
	return func(p *FSParser) {
		p.logger = logger
	}
}

// NewFSParser creates a workflow parser rooted at workspace.
func NewFSParser(workspace string, opts ...FSParserOption) *FSParser {
	p := &FSParser{
		workspace: workspace,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// ParseWorkflows parses every *.yml and *.yaml file under
// .github/workflows. A missing directory yields an empty slice. A file
// that exists but does not parse is an input error reported to the
// caller, never skipped silently.
func (p *FSParser) ParseWorkflows(ctx context.Context, repoRef string) ([]WorkflowSpec, error) {
	dir, err := p.resolve(repoRef)
	if err != nil {
		return nil, err
	}

	wfDir := filepath.Join(dir, workflowsDir)
	entries, err := os.ReadDir(wfDir)
	if err != nil {
		if os.IsNotExist(err) {
			p.logger.Debug("No workflows directory", "repo", repoRef)
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows dir: %w", err)
	}

	var specs []WorkflowSpec
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		fullPath := filepath.Join(wfDir, entry.Name())
		relPath := filepath.ToSlash(filepath.Join(workflowsDir, entry.Name()))

		data, err := os.ReadFile(fullPath)
		if err != nil {
			return nil, fmt.Errorf("read workflow %s: %w", relPath, err)
		}

		spec, err := parseWorkflow(entry.Name(), relPath, data)
		if err != nil {
			return nil, fmt.Errorf("parse workflow %s: %w", relPath, err)
		}
		specs = append(specs, *spec)
	}

	return specs, nil
}

// resolve maps a repo ref onto an on-disk directory.
func (p *FSParser) resolve(repoRef string) (string, error) {
	if repoRef == "" {
		return "", fmt.Errorf("empty repo ref")
	}
	if filepath.IsAbs(repoRef) {
		return repoRef, nil
	}
	if strings.Contains(repoRef, "..") {
		return "", fmt.Errorf("path traversal not allowed in %q", repoRef)
	}
	return filepath.Join(p.workspace, repoRef), nil
}

// Raw YAML shapes. The `on` field takes three forms (scalar, sequence,
// mapping), handled by rawTriggers.UnmarshalYAML.
type rawWorkflow struct {
	Name string            `yaml:"name"`
	On   rawTriggers       `yaml:"on"`
	Jobs map[string]rawJob `yaml:"jobs"`
}

type rawJob struct {
	Name   string    `yaml:"name"`
	RunsOn yaml.Node `yaml:"runs-on"`
	Steps  []rawStep `yaml:"steps"`
}

type rawStep struct {
	Name string `yaml:"name"`
	Uses string `yaml:"uses"`
	Run  string `yaml:"run"`
}

type rawTriggers struct {
	events      []string
	pathFilters []string
}

// UnmarshalYAML accepts the three `on:` forms: a single event name, a
// list of event names, or a mapping of event name to filters.
func (t *rawTriggers) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		t.events = []string{value.Value}
		return nil

	case yaml.SequenceNode:
		for _, item := range value.Content {
			t.events = append(t.events, item.Value)
		}
		return nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i]
			val := value.Content[i+1]
			t.events = append(t.events, key.Value)

			if key.Value == "push" || key.Value == "pull_request" {
				t.pathFilters = append(t.pathFilters, mappingPaths(val)...)
			}
		}
		return nil
	}

	return fmt.Errorf("unsupported trigger node kind %d", value.Kind)
}

// mappingPaths extracts the `paths:` list from an event filter mapping.
func mappingPaths(node *yaml.Node) []string {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value != "paths" {
			continue
		}
		val := node.Content[i+1]
		if val.Kind != yaml.SequenceNode {
			return nil
		}
		paths := make([]string, 0, len(val.Content))
		for _, item := range val.Content {
			paths = append(paths, item.Value)
		}
		return paths
	}
	return nil
}

// parseWorkflow converts one workflow file into a WorkflowSpec.
func parseWorkflow(fileName, relPath string, data []byte) (*WorkflowSpec, error) {
	var raw rawWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	name := raw.Name
	if name == "" {
		name = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}

	// Sort job IDs so the job order is stable across parses
	jobIDs := make([]string, 0, len(raw.Jobs))
	for id := range raw.Jobs {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)

	jobs := make([]Job, 0, len(jobIDs))
	for _, id := range jobIDs {
		rj := raw.Jobs[id]

		jobName := rj.Name
		if jobName == "" {
			jobName = id
		}

		steps := make([]Step, 0, len(rj.Steps))
		for _, rs := range rj.Steps {
			steps = append(steps, Step{Name: rs.Name, Uses: rs.Uses, Run: rs.Run})
		}

		jobs = append(jobs, Job{
			Name:   jobName,
			RunsOn: runsOnLabel(rj.RunsOn),
			Steps:  steps,
		})
	}

	return &WorkflowSpec{
		Name:        name,
		File:        relPath,
		Triggers:    raw.On.events,
		Jobs:        jobs,
		PathFilters: raw.On.pathFilters,
	}, nil
}

// runsOnLabel normalizes runs-on, which is a scalar or a list of labels.
func runsOnLabel(node yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			return node.Value
		}
	case yaml.SequenceNode:
		labels := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			labels = append(labels, item.Value)
		}
		if len(labels) > 0 {
			return strings.Join(labels, ", ")
		}
	}
	return "unknown"
}
