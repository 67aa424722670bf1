package cicd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeWorkflow(t *testing.T, repoDir, name, content string) {
	t.Helper()
	wfDir := filepath.Join(repoDir, ".github", "workflows")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatalf("mkdir workflows: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wfDir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
}

func TestParseWorkflows_FullWorkflow(t *testing.T) {
	repo := t.TempDir()
	writeWorkflow(t, repo, "ci.yml", `name: Payments CI
on:
  push:
    paths:
      - "src/payments/**"
      - "!src/payments/docs/**"
  pull_request:
    paths:
      - "src/payments/**"
jobs:
  test:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Run tests
        run: pytest
  lint:
    name: Lint
    runs-on: [self-hosted, linux]
    steps:
      - run: |
          ruff check .
          ruff format --check .
`)

	p := NewFSParser("")
	specs, err := p.ParseWorkflows(context.Background(), repo)
	if err != nil {
		t.Fatalf("ParseWorkflows failed: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(specs))
	}

	wf := specs[0]
	if wf.Name != "Payments CI" {
		t.Errorf("name = %q", wf.Name)
	}
	if wf.File != ".github/workflows/ci.yml" {
		t.Errorf("file = %q", wf.File)
	}
	if len(wf.Triggers) != 2 || wf.Triggers[0] != "push" || wf.Triggers[1] != "pull_request" {
		t.Errorf("triggers = %v", wf.Triggers)
	}
	if len(wf.PathFilters) != 3 {
		t.Errorf("path filters = %v", wf.PathFilters)
	}

	// Jobs sorted by ID: lint before test
	if len(wf.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(wf.Jobs))
	}
	if wf.Jobs[0].Name != "Lint" {
		t.Errorf("job 0 name = %q, want Lint", wf.Jobs[0].Name)
	}
	if wf.Jobs[0].RunsOn != "self-hosted, linux" {
		t.Errorf("job 0 runs-on = %q", wf.Jobs[0].RunsOn)
	}
	if wf.Jobs[1].Name != "test" {
		t.Errorf("job 1 name = %q, want test (job ID fallback)", wf.Jobs[1].Name)
	}
	if len(wf.Jobs[1].Steps) != 2 {
		t.Errorf("job 1 steps = %d, want 2", len(wf.Jobs[1].Steps))
	}
}

func TestParseWorkflows_TriggerForms(t *testing.T) {
	tests := []struct {
		name         string
		yaml         string
		wantTriggers []string
	}{
		{
			name:         "scalar",
			yaml:         "on: push\njobs: {}\n",
			wantTriggers: []string{"push"},
		},
		{
			name:         "sequence",
			yaml:         "on: [push, pull_request]\njobs: {}\n",
			wantTriggers: []string{"push", "pull_request"},
		},
		{
			name:         "mapping",
			yaml:         "on:\n  workflow_dispatch:\n  schedule:\n    - cron: '0 0 * * *'\njobs: {}\n",
			wantTriggers: []string{"workflow_dispatch", "schedule"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := t.TempDir()
			writeWorkflow(t, repo, "wf.yaml", tt.yaml)

			p := NewFSParser("")
			specs, err := p.ParseWorkflows(context.Background(), repo)
			if err != nil {
				t.Fatalf("ParseWorkflows failed: %v", err)
			}
			if len(specs) != 1 {
				t.Fatalf("expected 1 workflow, got %d", len(specs))
			}
			got := specs[0].Triggers
			if len(got) != len(tt.wantTriggers) {
				t.Fatalf("triggers = %v, want %v", got, tt.wantTriggers)
			}
			for i := range got {
				if got[i] != tt.wantTriggers[i] {
					t.Errorf("trigger %d = %q, want %q", i, got[i], tt.wantTriggers[i])
				}
			}
		})
	}
}

func TestParseWorkflows_NameDefaultsToFileStem(t *testing.T) {
	repo := t.TempDir()
	writeWorkflow(t, repo, "deploy.yml", "on: push\njobs: {}\n")

	p := NewFSParser("")
	specs, err := p.ParseWorkflows(context.Background(), repo)
	if err != nil {
		t.Fatalf("ParseWorkflows failed: %v", err)
	}
	if specs[0].Name != "deploy" {
		t.Errorf("name = %q, want deploy", specs[0].Name)
	}
}

func TestParseWorkflows_NoWorkflowsDir(t *testing.T) {
	p := NewFSParser("")

	specs, err := p.ParseWorkflows(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("missing dir should not be an error: %v", err)
	}
	if len(specs) != 0 {
		t.Errorf("expected no workflows, got %d", len(specs))
	}
}

func TestParseWorkflows_MalformedFile(t *testing.T) {
	repo := t.TempDir()
	writeWorkflow(t, repo, "broken.yml", "on: push\njobs:\n  - not\n a mapping\n")

	p := NewFSParser("")
	_, err := p.ParseWorkflows(context.Background(), repo)
	if err == nil {
		t.Fatal("expected error for malformed workflow file")
	}
}

func TestParseWorkflows_IgnoresOtherFiles(t *testing.T) {
	repo := t.TempDir()
	writeWorkflow(t, repo, "ci.yml", "on: push\njobs: {}\n")
	writeWorkflow(t, repo, "README.md", "not a workflow")

	p := NewFSParser("")
	specs, err := p.ParseWorkflows(context.Background(), repo)
	if err != nil {
		t.Fatalf("ParseWorkflows failed: %v", err)
	}
	if len(specs) != 1 {
		t.Errorf("expected 1 workflow, got %d", len(specs))
	}
}

func TestWorkflowMatches(t *testing.T) {
	wf := &WorkflowSpec{
		PathFilters: []string{"src/payments/**", "!src/payments/docs/**"},
	}

	tests := []struct {
		path string
		want bool
	}{
		{"src/payments/fraud.py", true},
		{"src/payments/deep/nested/file.py", true},
		{"src/payments/docs/readme.md", false},
		{"src/billing/invoice.py", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := wf.Matches(tt.path); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestWorkflowMatches_NoFilters(t *testing.T) {
	wf := &WorkflowSpec{}
	if wf.Matches("anything.go") {
		t.Error("workflow without path filters should match nothing")
	}
}

func TestMatchAny(t *testing.T) {
	specs := []WorkflowSpec{
		{PathFilters: []string{"docs/**"}},
		{PathFilters: []string{"src/**/*.py"}},
	}

	if !MatchAny(specs, "src/payments/fraud.py") {
		t.Error("expected match through second workflow")
	}
	if MatchAny(specs, "cmd/main.go") {
		t.Error("unexpected match")
	}
}

func TestStepDescriptor(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"named", Step{Name: "Run tests", Run: "pytest"}, "Run tests"},
		{"uses", Step{Uses: "actions/checkout@v4"}, "actions/checkout@v4"},
		{"run first line", Step{Run: "ruff check .\nruff format ."}, "ruff check ."},
		{"empty", Step{}, "(unnamed step)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.Descriptor(); got != tt.want {
				t.Errorf("Descriptor() = %q, want %q", got, tt.want)
			}
		})
	}
}
