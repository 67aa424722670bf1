package model

import "strings"

// Profile captures the prompting posture for a class of models.
// Small local models get a shrunken context window, fewer retrieved
// chunks, and schema-constrained decoding; large hosted models get the
// full treatment.
type Profile struct {
	// ContextWindow is the total token window available for the prompt
	// plus the reserved output allowance.
	ContextWindow int

	// MaxOutputTokens is the output allowance reserved for the response.
	MaxOutputTokens int

	// RetrievalTopK is the vector result count suited to the window.
	RetrievalTopK int

	// ConstrainedDecoding requests schema-locked output from the provider.
	ConstrainedDecoding bool

	// SimplifiedPrompts drops few-shot examples and verbose instructions.
	SimplifiedPrompts bool
}

// DefaultSmallMarkers lists model-identifier substrings that select the
// small-model profile when no markers are configured.
var DefaultSmallMarkers = []string{"qwen", "llama-3-8b", "phi", "mistral-7b"}

// DefaultProfile returns the profile for large hosted models.
func DefaultProfile() Profile {
	return Profile{
		ContextWindow:   128000,
		MaxOutputTokens: 4096,
		RetrievalTopK:   5,
	}
}

// SmallProfile returns the profile for small local models.
func SmallProfile() Profile {
	return Profile{
		ContextWindow:       6144,
		MaxOutputTokens:     2048,
		RetrievalTopK:       3,
		ConstrainedDecoding: true,
		SimplifiedPrompts:   true,
	}
}

// ProfileFor selects a profile for a model identifier by substring match
// against the small-model markers. Matching is case-insensitive. An empty
// marker list falls back to DefaultSmallMarkers.
func ProfileFor(modelID string, smallMarkers []string) Profile {
	if len(smallMarkers) == 0 {
		smallMarkers = DefaultSmallMarkers
	}

	id := strings.ToLower(modelID)
	for _, marker := range smallMarkers {
		if marker == "" {
			continue
		}
		if strings.Contains(id, strings.ToLower(marker)) {
			return SmallProfile()
		}
	}
	return DefaultProfile()
}

// ClampTo shrinks the profile's context window to the endpoint's window
// when the endpoint advertises a smaller one. Zero or negative windows
// leave the profile unchanged.
func (p Profile) ClampTo(contextWindow int) Profile {
	if contextWindow > 0 && contextWindow < p.ContextWindow {
		p.ContextWindow = contextWindow
	}
	return p
}
