package index

import (
	"github.com/m-kurata/kotae/pkg/model"
)

// span is a half-open rune range into the source text
type span struct {
	start int
	end   int
}

// splitSpans cuts the text into chunk spans of at most size runes with the
// given overlap. Boundaries prefer a paragraph break, then a sentence end,
// inside the second half of the window; otherwise the cut is hard at size.
// Every rune of the input is covered, so concatenating the chunks minus
// the overlaps reconstructs the text exactly.
func splitSpans(runes []rune, size, overlap int) []span {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var spans []span
	pos := 0
	for pos < len(runes) {
		end := pos + size
		if end >= len(runes) {
			spans = append(spans, span{start: pos, end: len(runes)})
			break
		}

		if cut := naturalBreak(runes, pos, end); cut > pos {
			end = cut
		}
		spans = append(spans, span{start: pos, end: end})

		next := end - overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return spans
}

// naturalBreak returns the rune index just after the last paragraph break
// or sentence delimiter in (mid, end], where mid is the middle of the
// window. Returns 0 when no acceptable break exists.
func naturalBreak(runes []rune, start, end int) int {
	mid := start + (end-start)/2

	// paragraph break: two consecutive newlines
	for i := end - 1; i > mid; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}

	for i := end - 1; i > mid; i-- {
		switch runes[i] {
		case '。', '．', '！', '？', '\n':
			return i + 1
		case '.', '!', '?':
			// latin sentence end needs trailing whitespace to avoid
			// cutting inside "3.5" or "e.g."
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
				return i + 2
			}
		}
	}
	return 0
}

// chunkDocument splits a document into chunks with rune offsets
func chunkDocument(doc *model.Document, size, overlap int) []model.Chunk {
	runes := []rune(doc.RawText)
	spans := splitSpans(runes, size, overlap)

	chunks := make([]model.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = model.Chunk{
			ID:          model.NewChunkID(),
			DocumentID:  doc.ID,
			Ordinal:     i,
			Text:        string(runes[sp.start:sp.end]),
			StartOffset: sp.start,
			EndOffset:   sp.end,
		}
	}
	return chunks
}
