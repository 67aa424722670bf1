// Package budget allocates a model's prompt window across named
// sections and fits content to each section's reservation.
package budget

import "fmt"

// Canonical prompt section names. Allocation and assembly agree on
// these so reservations line up with the assembled payload.
const (
	SectionInstructions = "system_instructions"
	SectionSchema       = "output_schema"
	SectionDiffSummary  = "diff_summary"
	SectionEvidence     = "retrieved_context"
	SectionFewShot      = "few_shot_examples"
)

// Weight is a section's priority class. Fixed sections are reserved in
// full before any proportional split; the rest share what remains.
type Weight string

const (
	WeightFixed  Weight = "fixed"
	WeightHigh   Weight = "high"
	WeightMedium Weight = "medium"
	WeightLow    Weight = "low"
)

// weightShares drives the proportional split across non-fixed sections.
var weightShares = map[Weight]float64{
	WeightHigh:   3,
	WeightMedium: 2,
	WeightLow:    1,
}

// IsValid reports whether the weight is one of the known classes.
func (w Weight) IsValid() bool {
	if w == WeightFixed {
		return true
	}
	_, ok := weightShares[w]
	return ok
}

// Section describes one named prompt section competing for tokens.
// NaturalTokens is the token count of the section's full content;
// allocation never reserves more than that.
type Section struct {
	Name          string
	Weight        Weight
	NaturalTokens int
}

// Budget tracks token reservations and usage for a single check. It is
// created by Manager.Allocate, owned by one check, and discarded after
// prompt assembly. Invariants: used[s] <= reserved[s] for every
// section, and the sum of reservations never exceeds TotalTokens.
type Budget struct {
	TotalTokens int
	Reserved    map[string]int
	Used        map[string]int
}

// Remaining returns the unused reservation for a section. Unknown
// sections have no reservation and report zero.
func (b *Budget) Remaining(section string) int {
	return b.Reserved[section] - b.Used[section]
}

// Use records token consumption against a section's reservation. It
// fails on unknown sections and on consumption past the reservation.
func (b *Budget) Use(section string, tokens int) error {
	reserved, ok := b.Reserved[section]
	if !ok {
		return fmt.Errorf("section %q has no reservation", section)
	}
	if tokens < 0 {
		return fmt.Errorf("section %q: negative token use %d", section, tokens)
	}
	if b.Used[section]+tokens > reserved {
		return fmt.Errorf("section %q over budget: used %d + %d exceeds reserved %d",
			section, b.Used[section], tokens, reserved)
	}
	b.Used[section] += tokens
	return nil
}

// TotalReserved sums the reservations across all sections.
func (b *Budget) TotalReserved() int {
	total := 0
	for _, r := range b.Reserved {
		total += r
	}
	return total
}
