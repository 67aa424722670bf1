package prompt

import (
	"strings"
	"testing"

	"github.com/axonlabs/scopeguard/budget"
	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/model"
	"github.com/axonlabs/scopeguard/retrieve"
)

const testSchema = `{"type": "object"}`

func testInputs() Inputs {
	return Inputs{
		DiffSummary: "Diff: main..feature\nFiles changed (1):\n- src/api.go (modified)\n",
		Evidence: []retrieve.EvidenceChunk{
			{SourceDocID: "d1", DocTitle: "API Design", Text: "The API is REST only.", CombinedScore: 0.9},
			{SourceDocID: "d2", DocTitle: "Auth Design", Text: "Sessions use signed cookies.", CombinedScore: 0.5},
		},
		Schema: testSchema,
	}
}

func TestAssemble_SectionOrderFixed(t *testing.T) {
	mgr := budget.NewManager(model.DefaultProfile())

	p, err := Assemble(mgr, testInputs())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	markers := []string{
		"scope alignment reviewer",
		"Output schema:",
		"## Change under review",
		"## Approved design evidence",
		"Example:",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(p.Prompt, m)
		if idx < 0 {
			t.Fatalf("prompt missing section marker %q", m)
		}
		if idx < last {
			t.Errorf("section %q out of order", m)
		}
		last = idx
	}
	if p.Mode != llm.DecodingFree {
		t.Errorf("Mode = %q, want free for default profile", p.Mode)
	}
	if p.EvidenceIncluded != 2 {
		t.Errorf("EvidenceIncluded = %d, want 2", p.EvidenceIncluded)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	mgr := budget.NewManager(model.DefaultProfile())

	a, err := Assemble(mgr, testInputs())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	b, err := Assemble(mgr, testInputs())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if a.Prompt != b.Prompt {
		t.Error("identical inputs produced different prompts")
	}
}

func TestAssemble_SmallModelProfile(t *testing.T) {
	mgr := budget.NewManager(model.SmallProfile())

	p, err := Assemble(mgr, testInputs())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if p.Mode != llm.DecodingConstrained {
		t.Errorf("Mode = %q, want constrained for small profile", p.Mode)
	}
	if strings.Contains(p.Prompt, "Example:") {
		t.Error("small-model prompt carries few-shot example")
	}
	if strings.Contains(p.Prompt, "scope alignment reviewer") {
		t.Error("small-model prompt not simplified")
	}
	if b := p.Budget; b.Reserved[budget.SectionFewShot] != 0 {
		t.Errorf("few-shot reservation = %d, want 0", b.Reserved[budget.SectionFewShot])
	}
}

func TestAssemble_NoEvidence(t *testing.T) {
	mgr := budget.NewManager(model.DefaultProfile())

	in := testInputs()
	in.Evidence = nil
	p, err := Assemble(mgr, in)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if !strings.Contains(p.Prompt, noEvidence) {
		t.Error("prompt missing zero-evidence placeholder")
	}
	if p.EvidenceIncluded != 0 {
		t.Errorf("EvidenceIncluded = %d, want 0", p.EvidenceIncluded)
	}
}

func TestAssemble_DropsEvidenceOverBudget(t *testing.T) {
	// Tiny window: fixed sections fit, evidence barely does.
	mgr := budget.NewManager(model.Profile{ContextWindow: 700, MaxOutputTokens: 100})

	in := testInputs()
	in.Evidence = []retrieve.EvidenceChunk{
		{SourceDocID: "d1", DocTitle: "Big", Text: strings.Repeat("design detail ", 500), CombinedScore: 0.9},
		{SourceDocID: "d2", DocTitle: "Small", Text: "REST only.", CombinedScore: 0.5},
	}

	p, err := Assemble(mgr, in)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if p.EvidenceIncluded != 1 {
		t.Fatalf("EvidenceIncluded = %d, want 1 (oversized chunk dropped wholesale)", p.EvidenceIncluded)
	}
	if !strings.Contains(p.Prompt, "REST only.") {
		t.Error("surviving chunk missing from prompt")
	}
	if strings.Contains(p.Prompt, "design detail design detail") {
		t.Error("oversized chunk was included or mid-truncated instead of dropped")
	}
}

func TestAssemble_BudgetExceededIsFatal(t *testing.T) {
	mgr := budget.NewManager(model.Profile{ContextWindow: 60, MaxOutputTokens: 20})

	_, err := Assemble(mgr, testInputs())
	if err == nil {
		t.Fatal("expected BudgetExceeded, got nil")
	}
	if !budget.IsBudgetExceeded(err) {
		t.Errorf("error %v is not a BudgetExceededError", err)
	}
}

func TestAssemble_BudgetInvariantsHold(t *testing.T) {
	mgr := budget.NewManager(model.SmallProfile())

	p, err := Assemble(mgr, testInputs())
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	b := p.Budget
	if b.TotalReserved() > b.TotalTokens {
		t.Errorf("sum(reserved) = %d exceeds total %d", b.TotalReserved(), b.TotalTokens)
	}
	for section, used := range b.Used {
		if used > b.Reserved[section] {
			t.Errorf("section %q used %d past reservation %d", section, used, b.Reserved[section])
		}
	}
}
