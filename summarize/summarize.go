// Package summarize reduces a structured diff plus CI workflow
// metadata into the bounded summary the judge prompt embeds. The file
// inventory is always complete; only hunk text is ranked and capped.
package summarize

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/axonlabs/scopeguard/change"
	"github.com/axonlabs/scopeguard/cicd"
)

// FileEntry is one inventory line of the summary.
type FileEntry struct {
	Path        string
	Kind        change.Kind
	OldPath     string
	CITriggered bool
}

// Excerpt is a ranked hunk selected for inclusion.
type Excerpt struct {
	Path      string
	StartLine int
	EndLine   int
	Text      string
	Truncated bool
}

// Summary is the bounded structural view of a change set.
type Summary struct {
	Base string
	Head string

	// Files lists every changed file. Completeness is load-bearing:
	// violation file paths are validated against this inventory.
	Files []FileEntry

	// Excerpts are the most significant hunks, best first.
	Excerpts []Excerpt

	// TotalHunks counts hunks across the whole change set, including
	// the ones elided from Excerpts.
	TotalHunks int

	HasCITrigger      bool
	HasTestFileChange bool
}

// Summarizer ranks and caps hunk excerpts. The caps are a cheap
// pre-filter; exact prompt sizing happens later against the token
// budget.
type Summarizer struct {
	maxExcerpts     int
	maxExcerptChars int
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithMaxExcerpts caps how many hunks are excerpted.
func WithMaxExcerpts(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxExcerpts = n
		}
	}
}

// WithMaxExcerptChars caps the length of a single excerpt.
func WithMaxExcerptChars(n int) Option {
	return func(s *Summarizer) {
		if n > 0 {
			s.maxExcerptChars = n
		}
	}
}

// New creates a Summarizer with default caps.
func New(opts ...Option) *Summarizer {
	s := &Summarizer{
		maxExcerpts:     8,
		maxExcerptChars: 1200,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type rankedHunk struct {
	path        string
	hunk        change.Hunk
	ciTriggered bool
}

// Summarize builds the summary. It is a pure function of its inputs.
func (s *Summarizer) Summarize(set *change.Set, workflows []cicd.WorkflowSpec) *Summary {
	summary := &Summary{
		Base:  set.Base,
		Head:  set.Head,
		Files: make([]FileEntry, 0, len(set.Files)),
	}

	var ranked []rankedHunk
	for _, f := range set.Files {
		triggered := cicd.MatchAny(workflows, f.Path)
		summary.Files = append(summary.Files, FileEntry{
			Path:        f.Path,
			Kind:        f.Kind,
			OldPath:     f.OldPath,
			CITriggered: triggered,
		})
		if triggered {
			summary.HasCITrigger = true
		}
		if isTestFile(f.Path) {
			summary.HasTestFileChange = true
		}
		for _, h := range f.Hunks {
			summary.TotalHunks++
			ranked = append(ranked, rankedHunk{path: f.Path, hunk: h, ciTriggered: triggered})
		}
	}

	// CI-referenced files outrank everything; within a tier, bigger
	// hunks first. Path and line keep the order total.
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.ciTriggered != b.ciTriggered {
			return a.ciTriggered
		}
		if la, lb := len(a.hunk.Text), len(b.hunk.Text); la != lb {
			return la > lb
		}
		if a.path != b.path {
			return a.path < b.path
		}
		return a.hunk.StartLine < b.hunk.StartLine
	})

	if len(ranked) > s.maxExcerpts {
		ranked = ranked[:s.maxExcerpts]
	}
	for _, r := range ranked {
		text, truncated := capText(r.hunk.Text, s.maxExcerptChars)
		summary.Excerpts = append(summary.Excerpts, Excerpt{
			Path:      r.path,
			StartLine: r.hunk.StartLine,
			EndLine:   r.hunk.EndLine,
			Text:      text,
			Truncated: truncated,
		})
	}
	return summary
}

func capText(text string, maxChars int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text, false
	}
	return string(runes[:maxChars]), true
}

// Render produces the deterministic textual form embedded in the
// judge prompt.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diff: %s..%s\n", s.Base, s.Head)
	fmt.Fprintf(&b, "Files changed (%d):\n", len(s.Files))
	for _, f := range s.Files {
		fmt.Fprintf(&b, "- %s (%s)", f.Path, f.Kind)
		if f.OldPath != "" {
			fmt.Fprintf(&b, " renamed from %s", f.OldPath)
		}
		if f.CITriggered {
			b.WriteString(" [ci]")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Flags: ci_trigger=%t test_change=%t\n", s.HasCITrigger, s.HasTestFileChange)

	if len(s.Excerpts) > 0 {
		fmt.Fprintf(&b, "Significant hunks (%d of %d):\n", len(s.Excerpts), s.TotalHunks)
		for _, e := range s.Excerpts {
			fmt.Fprintf(&b, "--- %s lines %d-%d ---\n", e.Path, e.StartLine, e.EndLine)
			b.WriteString(e.Text)
			if !strings.HasSuffix(e.Text, "\n") {
				b.WriteString("\n")
			}
			if e.Truncated {
				b.WriteString("[excerpt truncated]\n")
			}
		}
	}
	return b.String()
}

// testPathSegments are directory names that mark test trees.
var testPathSegments = map[string]bool{
	"test": true, "tests": true, "testing": true,
	"__tests__": true, "spec": true, "specs": true,
}

func isTestFile(p string) bool {
	lower := strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	dir, base := path.Split(lower)
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if testPathSegments[seg] {
			return true
		}
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	switch {
	case strings.HasPrefix(base, "test_"):
		return true
	case strings.HasSuffix(stem, "_test"):
		return true
	case strings.Contains(base, ".test."), strings.Contains(base, ".spec."):
		return true
	}
	return false
}
