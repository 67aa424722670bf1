// Package report turns an accepted verdict into the externally visible
// scope check report. Building is a pure function: identical verdicts
// render byte-identical reports, which snapshot tests rely on.
package report

import (
	"fmt"
	"strings"

	"github.com/axonlabs/scopeguard/judge"
)

// DefaultApprovalThreshold is the score below which human approval is
// required even without critical violations.
const DefaultApprovalThreshold = 0.6

// Builder finalizes verdicts and renders reports.
type Builder struct {
	threshold float64
}

// Option configures a Builder.
type Option func(*Builder)

// WithApprovalThreshold overrides the approval score threshold.
// Values outside [0,1] are ignored.
func WithApprovalThreshold(t float64) Option {
	return func(b *Builder) {
		if t >= 0 && t <= 1 {
			b.threshold = t
		}
	}
}

// NewBuilder creates a Builder with the default threshold.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{threshold: DefaultApprovalThreshold}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Annotations carry check-level context the verdict itself does not.
type Annotations struct {
	// Degraded marks a check whose retrieval lost one or more sources.
	Degraded bool

	// FailedSources names the lost retrieval sources, sorted.
	FailedSources []string
}

// Finalize returns a copy of the verdict with violations in render
// order and ApprovalRequired recomputed: any critical violation forces
// approval regardless of score, as does a score below the threshold.
// The model's own approval flag is discarded.
func (b *Builder) Finalize(v judge.Verdict) judge.Verdict {
	out := v
	out.Violations = make([]judge.Violation, len(v.Violations))
	copy(out.Violations, v.Violations)
	judge.SortViolations(out.Violations)

	out.ApprovalRequired = out.AlignmentScore < b.threshold
	for _, violation := range out.Violations {
		if violation.Severity == judge.SeverityCritical {
			out.ApprovalRequired = true
			break
		}
	}
	return out
}

// Render produces the report string. The verdict should already be
// finalized; Render does not reorder or recompute.
func (b *Builder) Render(v judge.Verdict, ann Annotations) string {
	var sb strings.Builder

	sb.WriteString("## Scope Check Report\n")
	fmt.Fprintf(&sb, "**Alignment Score:** %.2f\n", v.AlignmentScore)

	if len(v.Violations) > 0 {
		sb.WriteString("### Violations Found\n")
		for _, violation := range v.Violations {
			path := violation.FilePath
			if path == "" {
				path = "project-wide"
			}
			fmt.Fprintf(&sb, "- [%s] **%s** in `%s`: %s\n",
				strings.ToUpper(string(violation.Severity)),
				violation.Kind,
				path,
				violation.Description)
			if violation.Recommendation != "" {
				fmt.Fprintf(&sb, "  - **Recommendation:** %s\n", violation.Recommendation)
			}
		}
	}

	fmt.Fprintf(&sb, "**Approval required:** %t\n", v.ApprovalRequired)
	fmt.Fprintf(&sb, "**Summary:** %s\n", v.Summary)

	if ann.Degraded {
		fmt.Fprintf(&sb, "**Confidence:** low (retrieval sources failed: %s)\n",
			strings.Join(ann.FailedSources, ", "))
	}

	return sb.String()
}

// Build finalizes and renders in one step, returning both the final
// verdict and its report.
func (b *Builder) Build(v judge.Verdict, ann Annotations) (judge.Verdict, string) {
	final := b.Finalize(v)
	return final, b.Render(final, ann)
}
