package retrieve

import (
	"sort"

	"github.com/axonlabs/scopeguard/budget"
	"github.com/axonlabs/scopeguard/docstore"
)

type chunkKey struct {
	docID string
	text  string
}

// Merge combines raw hits from the three sources into one ranked,
// deduplicated evidence list. Each source's signal is normalized to
// [0,1] within its own result set; a chunk surfaced by several sources
// is fused into one entry whose combined score sums the weighted
// contributions, which always dominates any single-source duplicate.
// Weights are renormalized over the sources that returned results, so
// a silent surface does not deflate every score.
//
// Merge is deterministic: equal combined scores break toward the
// smaller graph distance, then ascending document ID, then text.
func Merge(vhits []docstore.VectorHit, ghits []docstore.GraphHit, rhits []docstore.RelationalHit, w Weights) []EvidenceChunk {
	if !w.valid() {
		w = DefaultWeights()
	}

	byKey := make(map[chunkKey]*EvidenceChunk)
	order := make([]chunkKey, 0, len(vhits)+len(ghits)+len(rhits))
	get := func(docID, title, section, text string) *EvidenceChunk {
		key := chunkKey{docID: docID, text: text}
		if c, ok := byKey[key]; ok {
			return c
		}
		c := &EvidenceChunk{
			SourceDocID:    docID,
			DocTitle:       title,
			Section:        section,
			Text:           text,
			GraphDistance:  -1,
			RelationalRank: -1,
		}
		byKey[key] = c
		order = append(order, key)
		return c
	}

	for i, h := range vhits {
		c := get(h.DocID, h.DocTitle, h.Section, h.Text)
		score := normalizeVector(vhits, i)
		if score > c.VectorScore {
			c.VectorScore = score
		}
	}

	maxDist := 0
	for _, h := range ghits {
		if h.Distance > maxDist {
			maxDist = h.Distance
		}
	}
	for _, h := range ghits {
		c := get(h.DocID, h.DocTitle, h.Section, h.Text)
		if c.GraphDistance == -1 || h.Distance < c.GraphDistance {
			c.GraphDistance = h.Distance
		}
	}

	for _, h := range rhits {
		c := get(h.DocID, h.DocTitle, h.Section, h.Text)
		if c.RelationalRank == -1 || h.Rank < c.RelationalRank {
			c.RelationalRank = h.Rank
		}
	}

	wv, wg, wr := renormalize(w, len(vhits) > 0, len(ghits) > 0, len(rhits) > 0)
	maxRank := 0
	for _, h := range rhits {
		if h.Rank > maxRank {
			maxRank = h.Rank
		}
	}

	chunks := make([]EvidenceChunk, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		c.CombinedScore = wv*c.VectorScore +
			wg*graphScore(c.GraphDistance, maxDist) +
			wr*relationalScore(c.RelationalRank, maxRank)
		chunks = append(chunks, *c)
	}

	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if ad, bd := tieDistance(a.GraphDistance), tieDistance(b.GraphDistance); ad != bd {
			return ad < bd
		}
		if a.SourceDocID != b.SourceDocID {
			return a.SourceDocID < b.SourceDocID
		}
		return a.Text < b.Text
	})
	return chunks
}

// normalizeVector min-max normalizes the i-th hit's score within the
// vector result set. A degenerate set (single hit, or all scores
// equal) normalizes to 1.
func normalizeVector(hits []docstore.VectorHit, i int) float64 {
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	if max == min {
		return 1
	}
	return (hits[i].Score - min) / (max - min)
}

// graphScore converts hop distance into a [0,1] closeness signal.
// Distance -1 means the graph never saw the chunk.
func graphScore(distance, maxDist int) float64 {
	if distance < 0 {
		return 0
	}
	if maxDist == 0 {
		return 1
	}
	return 1 - float64(distance)/float64(maxDist)
}

// relationalScore converts an approval-recency rank into [0,1], rank 0
// being the most recently approved. Rank -1 means the source did not
// return the chunk.
func relationalScore(rank, maxRank int) float64 {
	if rank < 0 {
		return 0
	}
	if maxRank == 0 {
		return 1
	}
	return 1 - float64(rank)/float64(maxRank)
}

func renormalize(w Weights, hasVector, hasGraph, hasRelational bool) (wv, wg, wr float64) {
	var sum float64
	if hasVector {
		sum += w.Vector
	}
	if hasGraph {
		sum += w.Graph
	}
	if hasRelational {
		sum += w.Relational
	}
	if sum == 0 {
		return 0, 0, 0
	}
	if hasVector {
		wv = w.Vector / sum
	}
	if hasGraph {
		wg = w.Graph / sum
	}
	if hasRelational {
		wr = w.Relational / sum
	}
	return wv, wg, wr
}

// tieDistance orders graph distances for tie-breaking; chunks the
// graph never reached sort after any reached chunk.
func tieDistance(d int) int {
	if d < 0 {
		return int(^uint(0) >> 1)
	}
	return d
}

// FitEvidence keeps ranked chunks whole while their rendered form fits
// within maxTokens, using the same drop-wholesale policy as the budget
// manager: an oversized chunk is skipped and scanning continues.
func FitEvidence(chunks []EvidenceChunk, maxTokens int) []EvidenceChunk {
	if maxTokens <= 0 || len(chunks) == 0 {
		return nil
	}
	kept := make([]EvidenceChunk, 0, len(chunks))
	remaining := maxTokens
	for _, c := range chunks {
		cost := budget.EstimateTokens(c.Render())
		if cost > remaining {
			continue
		}
		kept = append(kept, c)
		remaining -= cost
	}
	return kept
}
