package index

import (
	"strings"
	"testing"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestSplitSpansCoversEveryRune(t *testing.T) {
	text := strings.Repeat("残業申請は前日までに上長へ提出してください。", 40)
	runes := []rune(text)

	spans := splitSpans(runes, 100, 20)
	gt.True(t, len(spans) > 1)
	gt.Equal(t, spans[0].start, 0)
	gt.Equal(t, spans[len(spans)-1].end, len(runes))

	// no gaps: each span starts inside or at the end of the previous one
	for i := 1; i < len(spans); i++ {
		gt.True(t, spans[i].start <= spans[i-1].end)
		gt.True(t, spans[i].start > spans[i-1].start)
	}

	// dropping each overlap reconstructs the original text exactly
	var rebuilt []rune
	for i, sp := range spans {
		part := runes[sp.start:sp.end]
		if i > 0 {
			if overlap := spans[i-1].end - sp.start; overlap > 0 {
				part = part[overlap:]
			}
		}
		rebuilt = append(rebuilt, part...)
	}
	gt.Equal(t, string(rebuilt), text)
}

func TestSplitSpansShortText(t *testing.T) {
	runes := []rune("short note")
	spans := splitSpans(runes, 1000, 200)
	gt.A(t, spans).Length(1)
	gt.Equal(t, spans[0], span{start: 0, end: len(runes)})
}

func TestSplitSpansEmptyText(t *testing.T) {
	gt.A(t, splitSpans(nil, 1000, 200)).Length(0)
}

func TestSplitSpansPrefersParagraphBreak(t *testing.T) {
	// the paragraph break sits in the second half of the first window
	para1 := strings.Repeat("a", 70)
	para2 := strings.Repeat("b", 100)
	runes := []rune(para1 + "\n\n" + para2)

	spans := splitSpans(runes, 100, 10)
	gt.True(t, len(spans) >= 2)
	gt.Equal(t, spans[0].end, len([]rune(para1))+2)
}

func TestSplitSpansPrefersSentenceEnd(t *testing.T) {
	sentence := strings.Repeat("c", 79) + "。"
	runes := []rune(sentence + strings.Repeat("d", 200))

	spans := splitSpans(runes, 100, 10)
	gt.True(t, len(spans) >= 2)
	gt.Equal(t, spans[0].end, 80)
}

func TestSplitSpansHardCutWithoutBreak(t *testing.T) {
	runes := []rune(strings.Repeat("x", 250))
	spans := splitSpans(runes, 100, 20)

	gt.Equal(t, spans[0], span{start: 0, end: 100})
	gt.Equal(t, spans[1].start, 80)
}

func TestSplitSpansInvalidOverlapIgnored(t *testing.T) {
	runes := []rune(strings.Repeat("y", 300))

	// overlap >= size would never advance; it is treated as no overlap
	spans := splitSpans(runes, 100, 100)
	gt.A(t, spans).Length(3)
	gt.Equal(t, spans[1].start, 100)
}

func TestChunkDocumentOffsets(t *testing.T) {
	doc := &model.Document{
		ID:      "doc/handbook.md",
		RawText: strings.Repeat("z", 250),
	}

	chunks := chunkDocument(doc, 100, 20)
	gt.True(t, len(chunks) >= 2)
	for i, c := range chunks {
		gt.Equal(t, c.DocumentID, doc.ID)
		gt.Equal(t, c.Ordinal, i)
		gt.Equal(t, []rune(doc.RawText)[c.StartOffset:c.EndOffset], []rune(c.Text))
		gt.True(t, c.ID != "")
	}
}
