package docstore

import (
	"strings"

	"github.com/axonlabs/scopeguard/budget"
)

// ChunkConfig bounds the size of indexed chunks. Targets are in
// estimated tokens; retrieval later packs whole chunks into the
// evidence budget, so chunks stay small enough that a handful fit.
type ChunkConfig struct {
	TargetTokens int
	MaxTokens    int
	MinTokens    int
}

// DefaultChunkConfig returns the chunking bounds used by the indexer.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		TargetTokens: 400,
		MaxTokens:    600,
		MinTokens:    100,
	}
}

type section struct {
	heading string
	body    string
}

// ChunkMarkdown splits a design document into chunks that respect
// section boundaries. Each chunk records the heading it fell under;
// fenced code blocks are never split mid-fence.
func ChunkMarkdown(content string, cfg ChunkConfig) []Chunk {
	if cfg.TargetTokens <= 0 {
		cfg = DefaultChunkConfig()
	}

	var chunks []Chunk
	for _, sec := range parseSections(content) {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		for _, text := range splitSection(body, cfg) {
			chunks = append(chunks, Chunk{
				Section:    sec.heading,
				Index:      len(chunks),
				Text:       text,
				TokenCount: budget.EstimateTokens(text),
			})
		}
	}
	return mergeSmallChunks(chunks, cfg)
}

// parseSections walks the document line by line, starting a new
// section at each heading. Heading markers inside fenced code blocks
// are literal text, not structure.
func parseSections(content string) []section {
	var sections []section
	current := section{}
	var body strings.Builder
	inFence := false

	flush := func() {
		current.body = body.String()
		if strings.TrimSpace(current.body) != "" || current.heading != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isHeading(trimmed) {
			flush()
			current = section{heading: headingText(trimmed)}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level <= 6 && level < len(line) && line[level] == ' '
}

func headingText(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "#"))
}

// splitSection breaks an oversized section body into pieces near the
// target size, preferring paragraph boundaries, then sentences, then a
// hard cut for pathological single blocks.
func splitSection(body string, cfg ChunkConfig) []string {
	if budget.EstimateTokens(body) <= cfg.MaxTokens {
		return []string{body}
	}

	var pieces []string
	var buf strings.Builder
	bufTokens := 0

	emit := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			pieces = append(pieces, text)
		}
		buf.Reset()
		bufTokens = 0
	}

	for _, para := range splitParagraphs(body) {
		paraTokens := budget.EstimateTokens(para)
		if paraTokens > cfg.MaxTokens {
			emit()
			pieces = append(pieces, splitLongBlock(para, cfg)...)
			continue
		}
		if bufTokens > 0 && bufTokens+paraTokens > cfg.TargetTokens {
			emit()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		bufTokens += paraTokens
	}
	emit()
	return pieces
}

// splitParagraphs splits on blank lines, keeping fenced code blocks
// attached as a single paragraph.
func splitParagraphs(body string) []string {
	var paras []string
	var buf strings.Builder
	inFence := false

	flush := func() {
		text := strings.TrimRight(buf.String(), "\n")
		if strings.TrimSpace(text) != "" {
			paras = append(paras, text)
		}
		buf.Reset()
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if trimmed == "" && !inFence {
			flush()
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return paras
}

func splitLongBlock(block string, cfg ChunkConfig) []string {
	sentences := splitSentences(block)
	if len(sentences) <= 1 {
		return hardSplit(block, cfg.MaxTokens)
	}

	var pieces []string
	var buf strings.Builder
	bufTokens := 0
	for _, sent := range sentences {
		tokens := budget.EstimateTokens(sent)
		if tokens > cfg.MaxTokens {
			if buf.Len() > 0 {
				pieces = append(pieces, strings.TrimSpace(buf.String()))
				buf.Reset()
				bufTokens = 0
			}
			pieces = append(pieces, hardSplit(sent, cfg.MaxTokens)...)
			continue
		}
		if bufTokens > 0 && bufTokens+tokens > cfg.TargetTokens {
			pieces = append(pieces, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufTokens = 0
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(sent)
		bufTokens += tokens
	}
	if strings.TrimSpace(buf.String()) != "" {
		pieces = append(pieces, strings.TrimSpace(buf.String()))
	}
	return pieces
}

func splitSentences(block string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(block); i++ {
		switch block[i] {
		case '.', '!', '?':
			if i+1 >= len(block) || block[i+1] == ' ' || block[i+1] == '\n' {
				sent := strings.TrimSpace(block[start : i+1])
				if sent != "" {
					sentences = append(sentences, sent)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(block[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// hardSplit cuts on rune boundaries when no structure is available.
func hardSplit(text string, maxTokens int) []string {
	maxRunes := int(float64(maxTokens) * 3.5)
	if maxRunes <= 0 {
		return []string{text}
	}
	var pieces []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := maxRunes
		if n > len(runes) {
			n = len(runes)
		}
		piece := strings.TrimSpace(string(runes[:n]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		runes = runes[n:]
	}
	return pieces
}

// mergeSmallChunks folds runt chunks into their predecessor when both
// sit under the same heading, then renumbers.
func mergeSmallChunks(chunks []Chunk, cfg ChunkConfig) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	merged := chunks[:1]
	for _, c := range chunks[1:] {
		prev := &merged[len(merged)-1]
		if c.TokenCount < cfg.MinTokens && prev.Section == c.Section &&
			prev.TokenCount+c.TokenCount <= cfg.MaxTokens {
			prev.Text = prev.Text + "\n\n" + c.Text
			prev.TokenCount = budget.EstimateTokens(prev.Text)
			continue
		}
		merged = append(merged, c)
	}
	for i := range merged {
		merged[i].Index = i
	}
	return merged
}
