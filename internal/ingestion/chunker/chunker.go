package chunker

import "strings"

// Process-wide chunking defaults, shared by ingestion and tests.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// Chunker splits extracted document text into overlapping segments of
// bounded size. Splitting is a pure function of the input: same text, same
// chunks.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks of at most Size runes where each chunk shares
// exactly Overlap runes with its successor. Cuts prefer paragraph breaks,
// then sentence ends, then word gaps, before falling back to a hard cut at
// the size limit. Whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)

	var out []string
	start := 0
	for {
		end := start + c.size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			return out
		}
		cut := c.cutPoint(runes, start, end)
		out = append(out, string(runes[start:cut]))
		start = cut - c.overlap
	}
}

// cutPoint picks the best split position in (start+overlap, end]. The lower
// bound keeps every cut making progress past the overlap carried into the
// next chunk.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	minCut := start + c.overlap + 1
	if minCut >= end {
		return end
	}

	if cut := lastParagraphBreak(runes, minCut, end); cut > 0 {
		return cut
	}
	if cut := lastSentenceEnd(runes, minCut, end); cut > 0 {
		return cut
	}
	if cut := lastWordGap(runes, minCut, end); cut > 0 {
		return cut
	}
	return end
}

// lastParagraphBreak returns the position just after the last blank line in
// [minCut, end), or 0 when there is none.
func lastParagraphBreak(runes []rune, minCut, end int) int {
	for i := end - 1; i > minCut; i-- {
		if runes[i-1] == '\n' && runes[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// lastSentenceEnd returns the position just after the last terminator that
// is followed by whitespace, or 0 when there is none.
func lastSentenceEnd(runes []rune, minCut, end int) int {
	for i := end - 1; i >= minCut; i-- {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}
		return i + 1
	}
	return 0
}

func lastWordGap(runes []rune, minCut, end int) int {
	for i := end - 1; i >= minCut; i-- {
		if isSpace(runes[i]) {
			return i + 1
		}
	}
	return 0
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
