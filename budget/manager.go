package budget

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"unicode/utf8"

	"github.com/axonlabs/scopeguard/model"
)

// charsPerToken approximates tokenizer density for mixed prose and
// code. Estimates only gate prompt sizing, not billing.
const charsPerToken = 3.5

// EstimateTokens estimates the token count of text from its rune count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

// BudgetExceededError reports that the fixed prompt sections alone
// exceed the total token ceiling. The check cannot proceed and the
// error is never retried.
type BudgetExceededError struct {
	TotalTokens int
	FixedTokens int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("prompt budget exceeded: fixed sections need %d tokens, ceiling is %d",
		e.FixedTokens, e.TotalTokens)
}

// IsBudgetExceeded reports whether err is a budget ceiling failure.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// Manager sizes prompt sections for one model profile. The profile
// fixes the token ceiling, whether few-shot examples are carried, and
// whether constrained decoding should be requested downstream.
type Manager struct {
	profile model.Profile
	logger  *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for allocation diagnostics.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a budget manager for the given model profile.
func NewManager(profile model.Profile, opts ...ManagerOption) *Manager {
	m := &Manager{
		profile: profile,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Profile returns the model profile the manager was built with.
func (m *Manager) Profile() model.Profile {
	return m.profile
}

// TotalTokens is the prompt ceiling: the profile's context window
// minus the reserved output allowance.
func (m *Manager) TotalTokens() int {
	total := m.profile.ContextWindow - m.profile.MaxOutputTokens
	if total < 0 {
		return 0
	}
	return total
}

// Allocate reserves the token ceiling across the given sections. Fixed
// sections are honored in full first; the remainder is split across
// the weighted sections in proportion to their weights, with no
// section reserved past its natural content length. Under the
// small-model profile the few-shot section is reserved at zero.
func (m *Manager) Allocate(sections []Section) (*Budget, error) {
	total := m.TotalTokens()
	b := &Budget{
		TotalTokens: total,
		Reserved:    make(map[string]int, len(sections)),
		Used:        make(map[string]int, len(sections)),
	}

	fixedSum := 0
	var weighted []Section
	for _, s := range sections {
		if s.Name == "" {
			return nil, fmt.Errorf("section with empty name")
		}
		if !s.Weight.IsValid() {
			return nil, fmt.Errorf("section %q: unknown weight %q", s.Name, s.Weight)
		}
		if s.NaturalTokens < 0 {
			return nil, fmt.Errorf("section %q: negative natural length %d", s.Name, s.NaturalTokens)
		}
		if _, dup := b.Reserved[s.Name]; dup {
			return nil, fmt.Errorf("duplicate section %q", s.Name)
		}
		b.Reserved[s.Name] = 0

		if m.profile.SimplifiedPrompts && s.Name == SectionFewShot {
			continue
		}
		if s.Weight == WeightFixed {
			b.Reserved[s.Name] = s.NaturalTokens
			fixedSum += s.NaturalTokens
			continue
		}
		weighted = append(weighted, s)
	}

	if fixedSum > total {
		return nil, &BudgetExceededError{TotalTokens: total, FixedTokens: fixedSum}
	}

	distribute(b.Reserved, weighted, total-fixedSum)

	m.logger.Debug("allocated prompt budget",
		"total_tokens", total,
		"fixed_tokens", fixedSum,
		"sections", len(sections))
	return b, nil
}

// distribute splits remaining tokens across weighted sections. A
// section whose natural length falls below its proportional share is
// granted in full and its surplus re-enters the pool for the next
// pass; once no section caps out, the proportional split is final.
func distribute(reserved map[string]int, sections []Section, remaining int) {
	pool := sections
	for remaining > 0 && len(pool) > 0 {
		shareTotal := 0.0
		for _, s := range pool {
			shareTotal += weightShares[s.Weight]
		}

		capped := false
		next := pool[:0:0]
		for _, s := range pool {
			share := int(float64(remaining) * weightShares[s.Weight] / shareTotal)
			if s.NaturalTokens <= share {
				reserved[s.Name] = s.NaturalTokens
				remaining -= s.NaturalTokens
				capped = true
				continue
			}
			next = append(next, s)
		}
		if !capped {
			for _, s := range pool {
				reserved[s.Name] = int(float64(remaining) * weightShares[s.Weight] / shareTotal)
			}
			return
		}
		pool = next
	}
}

// Fit truncates text to at most maxTokens. Single texts carry no chunk
// structure to drop, so the cut lands on a rune boundary at the token
// limit.
func (m *Manager) Fit(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	keep := int(float64(maxTokens) * charsPerToken)
	runes := []rune(text)
	if keep >= len(runes) {
		return text
	}
	return string(runes[:keep])
}

// FitChunks keeps ranked chunks whole while they fit within maxTokens.
// A chunk that does not fit is dropped in its entirety and scanning
// continues, so one oversized chunk cannot starve the section. Chunks
// are never split.
func (m *Manager) FitChunks(chunks []string, maxTokens int) []string {
	if maxTokens <= 0 || len(chunks) == 0 {
		return nil
	}

	kept := make([]string, 0, len(chunks))
	remaining := maxTokens
	dropped := 0
	for _, chunk := range chunks {
		cost := EstimateTokens(chunk)
		if cost > remaining {
			dropped++
			continue
		}
		kept = append(kept, chunk)
		remaining -= cost
	}
	if dropped > 0 {
		m.logger.Debug("dropped evidence chunks to fit budget",
			"dropped", dropped,
			"kept", len(kept),
			"max_tokens", maxTokens)
	}
	return kept
}

// FitSection fits text to the section's unused reservation and records
// what it keeps against the budget.
func (m *Manager) FitSection(b *Budget, section, text string) (string, error) {
	fitted := m.Fit(text, b.Remaining(section))
	if err := b.Use(section, EstimateTokens(fitted)); err != nil {
		return "", err
	}
	return fitted, nil
}
