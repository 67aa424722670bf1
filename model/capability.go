// Package model provides capability-based model selection for scope checks.
// Instead of hardcoding model names, callers specify capabilities (judge,
// embed, extract) and the registry resolves them to available models with
// fallback chains.
package model

// Capability represents a semantic capability for model selection.
// Instead of specifying "claude-sonnet", callers specify "judge" or "embed".
type Capability string

const (
	// CapabilityJudge is for alignment judgment over diffs and design evidence.
	CapabilityJudge Capability = "judge"

	// CapabilityEmbed is for text embeddings used by document indexing.
	CapabilityEmbed Capability = "embed"

	// CapabilityExtract is for entity extraction from design documents.
	CapabilityExtract Capability = "extract"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityJudge, CapabilityEmbed, CapabilityExtract, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
