// Package cicd parses CI/CD workflow definitions and exposes them as
// read-only evidence for scope checks. Workflows tell the pipeline which
// changed files are covered by existing automation.
package cicd

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Step describes one workflow step.
type Step struct {
	Name string
	Uses string
	Run  string
}

// Descriptor returns a short human-readable label for the step.
func (s Step) Descriptor() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	if s.Run != "" {
		line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
		return line
	}
	return "(unnamed step)"
}

// Job describes one workflow job with its ordered steps.
type Job struct {
	Name   string
	RunsOn string
	Steps  []Step
}

// WorkflowSpec is a parsed CI/CD workflow definition. Used read-only.
type WorkflowSpec struct {
	// Name is the workflow display name, defaulting to the file stem.
	Name string

	// File is the workflow path relative to the repository root.
	File string

	// Triggers are the event names that start the workflow.
	Triggers []string

	// Jobs are the workflow's jobs, ordered by job ID for determinism.
	Jobs []Job

	// PathFilters are the file globs from on.push.paths and
	// on.pull_request.paths, in definition order.
	PathFilters []string
}

// Matches reports whether path matches the workflow's path filters.
// Filters follow common CI semantics: evaluated in order, "!"-prefixed
// patterns exclude, last matching pattern wins. A workflow without path
// filters matches nothing (it is not path-scoped).
func (w *WorkflowSpec) Matches(path string) bool {
	matched := false
	for _, filter := range w.PathFilters {
		pattern, negate := strings.CutPrefix(filter, "!")
		ok, err := doublestar.Match(pattern, path)
		if err != nil || !ok {
			continue
		}
		matched = !negate
	}
	return matched
}

// MatchAny reports whether any workflow's path filters match path.
func MatchAny(specs []WorkflowSpec, path string) bool {
	for i := range specs {
		if specs[i].Matches(path) {
			return true
		}
	}
	return false
}

// Parser reads the workflow definitions for a repository.
type Parser interface {
	// ParseWorkflows returns all parsed workflows. An empty slice means
	// the repository has no CI config, which is not an error.
	ParseWorkflows(ctx context.Context, repoRef string) ([]WorkflowSpec, error)
}
