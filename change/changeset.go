// Package change computes and represents code changes between two
// version-control refs. A Set is the structured form of a unified diff:
// the ordered file inventory with per-file hunks. Sets are built once per
// check and treated as immutable afterwards.
package change

import "context"

// Kind classifies how a file changed.
type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
	KindRenamed  Kind = "renamed"
)

// IsValid checks if the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindAdded, KindModified, KindDeleted, KindRenamed:
		return true
	}
	return false
}

// Hunk is one contiguous region of a file diff. StartLine and EndLine are
// line numbers in the post-change file (pre-change for deletions). Text
// keeps the raw diff body with +/-/context markers.
type Hunk struct {
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// FileChange describes the change to a single file.
type FileChange struct {
	// Path is the file path after the change (the pre-change path for
	// deletions).
	Path string `json:"path"`

	// Kind is how the file changed.
	Kind Kind `json:"kind"`

	// OldPath is the pre-change path. Only set for renames.
	OldPath string `json:"old_path,omitempty"`

	// Hunks are the changed regions in file order. Empty for binary
	// files and pure mode changes.
	Hunks []Hunk `json:"hunks,omitempty"`
}

// Set is the structured diff between two refs.
type Set struct {
	// RepoRef identifies the repository the diff was computed in.
	RepoRef string `json:"repo_ref"`

	// Base and Head are the compared refs (base..head).
	Base string `json:"base"`
	Head string `json:"head"`

	// Files is the ordered file inventory. Every changed file appears
	// here even when its hunk text was elided.
	Files []FileChange `json:"files"`
}

// Paths returns the changed file paths in inventory order.
func (s *Set) Paths() []string {
	paths := make([]string, len(s.Files))
	for i, f := range s.Files {
		paths[i] = f.Path
	}
	return paths
}

// HasPath reports whether path is in the file inventory. Rename sources
// count as inventory members so findings can reference either side.
func (s *Set) HasPath(path string) bool {
	for _, f := range s.Files {
		if f.Path == path {
			return true
		}
		if f.OldPath != "" && f.OldPath == path {
			return true
		}
	}
	return false
}

// BranchSummary is a PR-like description built from branch comparison.
type BranchSummary struct {
	// Title is the most recent commit subject.
	Title string `json:"title"`

	// Body is all commit subjects, newest first, one per line.
	Body string `json:"body"`

	// CommitCount is the number of commits between the refs.
	CommitCount int `json:"commit_count"`
}

// Provider fetches change data from a version-control source.
type Provider interface {
	// ChangeSet computes the structured diff base..head.
	ChangeSet(ctx context.Context, repoRef, base, head string) (*Set, error)

	// BranchSummary builds a PR-like summary from the commits base..head.
	BranchSummary(ctx context.Context, repoRef, base, head string) (*BranchSummary, error)
}
