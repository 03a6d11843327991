// Package textchunk splits long text into overlapping, boundary-aware
// segments so provider input limits are respected without losing context
// across segment edges.
package textchunk

import (
	"strings"
	"unicode/utf8"
)

// Chunk is one segment of the original text. Start and End are byte offsets
// into the input; consecutive chunks overlap by roughly the configured
// overlap for context continuity.
type Chunk struct {
	Text  string
	Start int
	End   int
}

// EstimateTokens approximates the token count of text. Four bytes per token
// tracks common BPE vocabularies closely enough for budget gating.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Split cuts text into chunks of at most budget bytes, overlapping by
// overlap bytes. Cut points prefer, in order: the rightmost paragraph break
// within the trailing overlap window, the rightmost sentence break, the
// rightmost space, then a hard cut. Every cut lands strictly past the chunk
// start, so the loop always makes forward progress and the chunks cover the
// whole input.
func Split(text string, budget, overlap int) []Chunk {
	if budget <= 0 {
		budget = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= budget {
		overlap = budget / 2
	}

	if len(text) <= budget {
		return []Chunk{{Text: text, Start: 0, End: len(text)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + budget
		if end >= len(text) {
			chunks = append(chunks, Chunk{Text: text[start:], Start: start, End: len(text)})
			break
		}

		cut := findCut(text, start, end, overlap)
		chunks = append(chunks, Chunk{Text: text[start:cut], Start: start, End: cut})

		// Rewinding by the overlap can land mid-rune; aligning that offset
		// may pull it back onto start, so the progress check happens after
		// alignment. findCut guarantees cut > start on a rune boundary.
		next := alignRune(text, cut-overlap)
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findCut picks the cut index in (start, end] searching only the trailing
// overlap window of the chunk.
func findCut(text string, start, end, overlap int) int {
	end = alignRune(text, end)
	if end <= start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}

	wStart := end - overlap
	if wStart <= start {
		wStart = start + 1
	}
	window := text[wStart:end]

	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 && wStart+idx+2 > start {
		return wStart + idx + 2
	}
	if idx := lastSentenceBreak(window); idx >= 0 && wStart+idx > start {
		return wStart + idx
	}
	if idx := strings.LastIndexByte(window, ' '); idx >= 0 && wStart+idx+1 > start {
		return wStart + idx + 1
	}
	return end
}

// lastSentenceBreak returns the index just past the rightmost sentence
// terminator followed by whitespace, or -1.
func lastSentenceBreak(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] != ' ' && s[i] != '\n' {
			continue
		}
		switch s[i-1] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return -1
}

// alignRune moves idx left to the nearest UTF-8 rune boundary.
func alignRune(text string, idx int) int {
	for idx > 0 && idx < len(text) && !utf8.RuneStart(text[idx]) {
		idx--
	}
	return idx
}
