// Package prompt assembles the judge prompt from the diff summary and
// retrieved design evidence under a token budget. Assembly is a pure
// function of its inputs: section order is fixed, so identical inputs
// produce byte-identical payloads.
package prompt

import (
	"strings"

	"github.com/axonlabs/scopeguard/budget"
	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/retrieve"
)

// instructions is the judge briefing for full-size models.
const instructions = `You are a scope alignment reviewer. Compare the code change below
against the approved design evidence and judge whether the change stays
within the documented design.

Rules:
- The file inventory in the diff summary is complete. Every violation
  must name one of those file paths exactly, or use null for findings
  that span the whole change.
- Violation kinds: scope_creep, missing_feature_flag,
  undocumented_dependency, missing_test_coverage, other.
- Severities: critical, warning, info.
- alignment_score is a number between 0.0 (completely off-design) and
  1.0 (fully within the approved design).
- If no design evidence is provided, say so in the summary and judge
  conservatively from the change alone.
- Respond with a single JSON object matching the output schema. No
  markdown fences, no commentary.`

// slmInstructions is the shortened briefing for small local models.
const slmInstructions = `Judge whether this code change stays within the approved design
evidence. Respond with one JSON object matching the schema. Violation
file_path must be a path from the file list or null. alignment_score is
between 0.0 and 1.0. If there is no design evidence, note that in the
summary.`

// fewShot is a single worked example. It is dropped entirely when the
// budget is tight or the model profile disables examples.
const fewShot = `Example:
Change: src/billing/export.py (added), not mentioned in any design document.
Design evidence: approved billing design covering invoice generation only.
Response:
{"alignment_score": 0.45, "violations": [{"kind": "scope_creep", "severity": "warning", "file_path": "src/billing/export.py", "description": "Adds a billing export module not covered by the approved design.", "recommendation": "Split the export work into its own reviewed design."}], "summary": "The change adds an undesigned export module alongside in-scope invoice work."}`

// noEvidence stands in for the evidence section when retrieval found
// nothing for the project.
const noEvidence = "(no approved design documents found for this project)"

// Inputs are the evidence streams fed into one prompt.
type Inputs struct {
	// DiffSummary is the rendered summarize.Summary text.
	DiffSummary string

	// Evidence is the ranked retrieval result, best first.
	Evidence []retrieve.EvidenceChunk

	// Schema is the output schema description embedded verbatim and
	// passed through to constrained decoding.
	Schema string
}

// Payload is an assembled prompt ready for the judge.
type Payload struct {
	Prompt string
	Schema string
	Mode   llm.DecodingMode

	// EvidenceIncluded counts the chunks that survived budget fitting.
	EvidenceIncluded int

	// Budget is the consumed allocation, retained for inspection.
	Budget *budget.Budget
}

// Assemble sizes every section against the manager's budget and builds
// the payload. Section order is fixed: instructions, schema, diff
// summary, evidence, optional few-shot example. A BudgetExceededError
// from allocation is returned unwrapped; it is fatal to the check.
func Assemble(mgr *budget.Manager, in Inputs) (*Payload, error) {
	profile := mgr.Profile()

	briefing := instructions
	if profile.SimplifiedPrompts {
		briefing = slmInstructions
	}
	schemaBlock := "Output schema:\n" + in.Schema

	evidenceNatural := 0
	for _, c := range in.Evidence {
		evidenceNatural += budget.EstimateTokens(c.Render())
	}

	b, err := mgr.Allocate([]budget.Section{
		{Name: budget.SectionInstructions, Weight: budget.WeightFixed, NaturalTokens: budget.EstimateTokens(briefing)},
		{Name: budget.SectionSchema, Weight: budget.WeightFixed, NaturalTokens: budget.EstimateTokens(schemaBlock)},
		{Name: budget.SectionDiffSummary, Weight: budget.WeightHigh, NaturalTokens: budget.EstimateTokens(in.DiffSummary)},
		{Name: budget.SectionEvidence, Weight: budget.WeightMedium, NaturalTokens: evidenceNatural},
		{Name: budget.SectionFewShot, Weight: budget.WeightLow, NaturalTokens: budget.EstimateTokens(fewShot)},
	})
	if err != nil {
		return nil, err
	}

	if err := b.Use(budget.SectionInstructions, budget.EstimateTokens(briefing)); err != nil {
		return nil, err
	}
	if err := b.Use(budget.SectionSchema, budget.EstimateTokens(schemaBlock)); err != nil {
		return nil, err
	}

	diff, err := mgr.FitSection(b, budget.SectionDiffSummary, in.DiffSummary)
	if err != nil {
		return nil, err
	}

	// Usage is charged per chunk, matching what FitEvidence guaranteed
	// against the reservation; the joined form only adds separators.
	kept := retrieve.FitEvidence(in.Evidence, b.Remaining(budget.SectionEvidence))
	keptCost := 0
	for _, c := range kept {
		keptCost += budget.EstimateTokens(c.Render())
	}
	if err := b.Use(budget.SectionEvidence, keptCost); err != nil {
		return nil, err
	}
	evidence := renderEvidence(kept)

	example := ""
	if !profile.SimplifiedPrompts && b.Remaining(budget.SectionFewShot) >= budget.EstimateTokens(fewShot) {
		example = fewShot
		if err := b.Use(budget.SectionFewShot, budget.EstimateTokens(example)); err != nil {
			return nil, err
		}
	}

	mode := llm.DecodingFree
	if profile.ConstrainedDecoding {
		mode = llm.DecodingConstrained
	}

	return &Payload{
		Prompt:           compose(briefing, schemaBlock, diff, evidence, example),
		Schema:           in.Schema,
		Mode:             mode,
		EvidenceIncluded: len(kept),
		Budget:           b,
	}, nil
}

func renderEvidence(chunks []retrieve.EvidenceChunk) string {
	if len(chunks) == 0 {
		return noEvidence
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Render())
	}
	return strings.Join(parts, "\n\n")
}

func compose(briefing, schemaBlock, diff, evidence, example string) string {
	var sb strings.Builder
	sb.WriteString(briefing)
	sb.WriteString("\n\n")
	sb.WriteString(schemaBlock)
	sb.WriteString("\n\n## Change under review\n")
	sb.WriteString(diff)
	sb.WriteString("\n\n## Approved design evidence\n")
	sb.WriteString(evidence)
	if example != "" {
		sb.WriteString("\n\n")
		sb.WriteString(example)
	}
	sb.WriteString("\n")
	return sb.String()
}
