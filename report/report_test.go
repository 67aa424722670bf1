package report

import (
	"strings"
	"testing"

	"github.com/axonlabs/scopeguard/judge"
)

func sampleVerdict() judge.Verdict {
	return judge.Verdict{
		AlignmentScore: 0.4,
		Summary:        "The change introduces an undesigned fraud module.",
		Violations: []judge.Violation{
			{
				Kind:     judge.KindMissingTestCoverage,
				Severity: judge.SeverityWarning,
				FilePath:    "src/payments/fraud.py",
				Description: "New module has no tests.",
			},
			{
				Kind:           judge.KindScopeCreep,
				Severity:       judge.SeverityCritical,
				FilePath:       "src/payments/fraud.py",
				Description:    "Fraud detection is not in the approved REST-only design.",
				Recommendation: "Remove fraud.py or amend the design.",
			},
			{
				Kind:        judge.KindOther,
				Severity:    judge.SeverityInfo,
				Description: "Several commits lack ticket references.",
			},
		},
	}
}

func TestFinalize_CriticalForcesApproval(t *testing.T) {
	b := NewBuilder()

	v := judge.Verdict{
		AlignmentScore: 0.95,
		Violations: []judge.Violation{
			{Kind: judge.KindScopeCreep, Severity: judge.SeverityCritical, Description: "d"},
		},
	}
	if final := b.Finalize(v); !final.ApprovalRequired {
		t.Error("critical violation must force approval regardless of score")
	}
}

func TestFinalize_ThresholdForcesApproval(t *testing.T) {
	b := NewBuilder()

	low := judge.Verdict{AlignmentScore: 0.59}
	if final := b.Finalize(low); !final.ApprovalRequired {
		t.Error("score below threshold must require approval")
	}

	high := judge.Verdict{AlignmentScore: 0.6}
	if final := b.Finalize(high); final.ApprovalRequired {
		t.Error("clean verdict at threshold must not require approval")
	}
}

func TestFinalize_DiscardsModelApprovalFlag(t *testing.T) {
	b := NewBuilder()

	v := judge.Verdict{AlignmentScore: 0.9, ApprovalRequired: true}
	if final := b.Finalize(v); final.ApprovalRequired {
		t.Error("model-asserted approval flag must be recomputed")
	}
}

func TestFinalize_CustomThreshold(t *testing.T) {
	b := NewBuilder(WithApprovalThreshold(0.9))

	v := judge.Verdict{AlignmentScore: 0.8}
	if final := b.Finalize(v); !final.ApprovalRequired {
		t.Error("score below custom threshold must require approval")
	}
}

func TestRender_Format(t *testing.T) {
	b := NewBuilder()

	_, got := b.Build(sampleVerdict(), Annotations{})

	want := `## Scope Check Report
**Alignment Score:** 0.40
### Violations Found
- [CRITICAL] **scope_creep** in ` + "`src/payments/fraud.py`" + `: Fraud detection is not in the approved REST-only design.
  - **Recommendation:** Remove fraud.py or amend the design.
- [WARNING] **missing_test_coverage** in ` + "`src/payments/fraud.py`" + `: New module has no tests.
- [INFO] **other** in ` + "`project-wide`" + `: Several commits lack ticket references.
**Approval required:** true
**Summary:** The change introduces an undesigned fraud module.
`
	if got != want {
		t.Errorf("report mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRender_ByteStable(t *testing.T) {
	b := NewBuilder()

	_, first := b.Build(sampleVerdict(), Annotations{})
	_, second := b.Build(sampleVerdict(), Annotations{})
	if first != second {
		t.Error("identical verdicts rendered different reports")
	}
}

func TestRender_NoViolations(t *testing.T) {
	b := NewBuilder()

	v := judge.Verdict{AlignmentScore: 1.0, Summary: "Fully within the approved design."}
	_, got := b.Build(v, Annotations{})

	if strings.Contains(got, "### Violations Found") {
		t.Error("violation section rendered for a clean verdict")
	}
	if !strings.Contains(got, "**Approval required:** false") {
		t.Errorf("report missing approval line:\n%s", got)
	}
}

func TestRender_DegradedAnnotation(t *testing.T) {
	b := NewBuilder()

	v := judge.Verdict{AlignmentScore: 0.9, Summary: "ok"}
	_, got := b.Build(v, Annotations{Degraded: true, FailedSources: []string{"graph", "vector"}})

	if !strings.Contains(got, "**Confidence:** low (retrieval sources failed: graph, vector)") {
		t.Errorf("report missing degraded annotation:\n%s", got)
	}
}
