// Package judge turns an assembled prompt into a validated alignment
// verdict. The repair loop is an explicit bounded state machine:
// BUILDING -> INVOKING -> VALIDATING -> {ACCEPTED, REPAIRING, FAILED},
// with REPAIRING looping back to INVOKING until retries exhaust.
package judge

import (
	"fmt"
	"sort"

	"github.com/axonlabs/scopeguard/llm"
)

// Kind classifies what a violation is about.
type Kind string

const (
	KindScopeCreep             Kind = "scope_creep"
	KindMissingFeatureFlag     Kind = "missing_feature_flag"
	KindUndocumentedDependency Kind = "undocumented_dependency"
	KindMissingTestCoverage    Kind = "missing_test_coverage"
	KindOther                  Kind = "other"
)

// IsValid reports whether the kind is one of the known classes.
func (k Kind) IsValid() bool {
	switch k {
	case KindScopeCreep, KindMissingFeatureFlag, KindUndocumentedDependency,
		KindMissingTestCoverage, KindOther:
		return true
	}
	return false
}

// Severity grades a violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// IsValid reports whether the severity is one of the known grades.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Rank orders severities, most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Violation is one validated finding. FilePath is empty for
// cross-cutting findings that span the whole change.
type Violation struct {
	Kind           Kind     `json:"kind"`
	Severity       Severity `json:"severity"`
	FilePath       string   `json:"file_path,omitempty"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Verdict is the terminal artifact of a scope check. ApprovalRequired
// is recomputed by the report builder from the violations and score;
// the model's own flag is advisory input only.
type Verdict struct {
	AlignmentScore   float64     `json:"alignment_score"`
	Violations       []Violation `json:"violations"`
	Summary          string      `json:"summary"`
	ApprovalRequired bool        `json:"approval_required"`
}

// SortViolations orders violations for rendering: severity first
// (critical, warning, info), then ascending file path with
// project-wide findings leading, then kind and description to keep
// the order total.
func SortViolations(violations []Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
			return ar < br
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Description < b.Description
	})
}

// Schema is the output contract sent with every judge invocation. It
// doubles as the schema for constrained decoding on small models.
const Schema = `{
  "type": "object",
  "required": ["alignment_score", "violations", "summary"],
  "properties": {
    "alignment_score": {"type": "number", "minimum": 0.0, "maximum": 1.0},
    "violations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind", "severity", "description"],
        "properties": {
          "kind": {"enum": ["scope_creep", "missing_feature_flag", "undocumented_dependency", "missing_test_coverage", "other"]},
          "severity": {"enum": ["critical", "warning", "info"]},
          "file_path": {"type": ["string", "null"]},
          "description": {"type": "string"},
          "recommendation": {"type": "string"}
        }
      }
    },
    "summary": {"type": "string"},
    "approval_required": {"type": "boolean"}
  }
}`

// wireVerdict is the shape parsed straight off the model output.
// FilePath stays a pointer so null and "" both mean project-wide.
type wireVerdict struct {
	AlignmentScore   *float64        `json:"alignment_score"`
	Violations       []wireViolation `json:"violations"`
	Summary          string          `json:"summary"`
	ApprovalRequired bool            `json:"approval_required"`
}

type wireViolation struct {
	Kind           string  `json:"kind"`
	Severity       string  `json:"severity"`
	FilePath       *string `json:"file_path"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
}

// validationError describes why a model output was rejected. Its
// message is embedded in the repair prompt, so it names the offending
// value precisely.
type validationError struct {
	reason string
}

func (e *validationError) Error() string {
	return "invalid verdict: " + e.reason
}

func invalidf(format string, args ...any) *validationError {
	return &validationError{reason: fmt.Sprintf(format, args...)}
}

// parseVerdict validates raw model output against the verdict schema
// and the file-inventory invariant. inventory maps every path in the
// change set; a violation naming any other path is rejected.
func parseVerdict(raw string, inventory map[string]bool) (*Verdict, error) {
	var wire wireVerdict
	if err := llm.ParseInto(raw, &wire); err != nil {
		return nil, invalidf("output is not valid JSON: %v", err)
	}

	if wire.AlignmentScore == nil {
		return nil, invalidf("alignment_score is missing")
	}
	score := *wire.AlignmentScore
	if score < 0 || score > 1 {
		return nil, invalidf("alignment_score %v is outside [0.0, 1.0]", score)
	}

	v := &Verdict{
		AlignmentScore:   score,
		Summary:          wire.Summary,
		ApprovalRequired: wire.ApprovalRequired,
		Violations:       make([]Violation, 0, len(wire.Violations)),
	}

	for i, wv := range wire.Violations {
		kind := Kind(wv.Kind)
		if !kind.IsValid() {
			return nil, invalidf("violations[%d].kind %q is not a known kind", i, wv.Kind)
		}
		severity := Severity(wv.Severity)
		if !severity.IsValid() {
			return nil, invalidf("violations[%d].severity %q is not a known severity", i, wv.Severity)
		}
		if wv.Description == "" {
			return nil, invalidf("violations[%d].description is empty", i)
		}

		path := ""
		if wv.FilePath != nil && *wv.FilePath != "" {
			if !inventory[*wv.FilePath] {
				return nil, invalidf("violations[%d].file_path %q is not in the changed file inventory", i, *wv.FilePath)
			}
			path = *wv.FilePath
		}

		v.Violations = append(v.Violations, Violation{
			Kind:           kind,
			Severity:       severity,
			FilePath:       path,
			Description:    wv.Description,
			Recommendation: wv.Recommendation,
		})
	}

	return v, nil
}
