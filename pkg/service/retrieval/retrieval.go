package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/vectorstore"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Chunk is a retrieved context chunk ready for prompt assembly. When
// consecutive chunks of one document are merged, Citation points at the
// first of them and Size covers the merged text.
type Chunk struct {
	Text     string
	Title    string
	Citation model.Citation
	Size     int
}

// Engine turns a query into a ranked, budgeted set of context chunks.
// Budgets are measured in runes, the same measure the indexer uses for
// chunk sizes, so indexing-time and query-time budgeting agree.
type Engine struct {
	gemini adapter.Gemini
	store  *vectorstore.Store

	topK           int
	scoreThreshold float64
	contextBudget  int
}

type Option func(*Engine)

func WithTopK(k int) Option {
	return func(e *Engine) {
		e.topK = k
	}
}

func WithScoreThreshold(t float64) Option {
	return func(e *Engine) {
		e.scoreThreshold = t
	}
}

func WithContextBudget(runes int) Option {
	return func(e *Engine) {
		e.contextBudget = runes
	}
}

// New creates a retrieval engine over the given store. The store must have
// been built with the collaborator's embedding model; a mismatch is a
// configuration error, not something to retry around.
func New(gemini adapter.Gemini, store *vectorstore.Store, opts ...Option) (*Engine, error) {
	if store.ModelVersion() != gemini.EmbeddingModel() {
		return nil, goerr.Wrap(model.ErrModelVersionMismatch, "index and embedder disagree",
			goerr.V("index_model", store.ModelVersion()),
			goerr.V("embedder_model", gemini.EmbeddingModel()),
		)
	}

	e := &Engine{
		gemini:         gemini,
		store:          store,
		topK:           5,
		scoreThreshold: 0.3,
		contextBudget:  4000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Retrieve embeds the query, ranks candidates, merges near-adjacent chunks
// and applies the context budget.
func (e *Engine) Retrieve(ctx context.Context, queryText string) ([]Chunk, error) {
	resp, err := e.gemini.Embedding(ctx, queryText)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}
	if len(resp.Embeddings) == 0 {
		return nil, goerr.New("embedding response is empty")
	}

	results, err := e.store.Search(resp.Embeddings[0].Values, e.topK, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "vector search failed")
	}

	selected := make([]vectorstore.Result, 0, len(results))
	for _, r := range results {
		if r.Score >= e.scoreThreshold {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}

	merged := mergeAdjacent(selected)
	budgeted := applyBudget(merged, e.contextBudget)

	logging.From(ctx).Debug("retrieval done",
		"candidates", len(results),
		"above_threshold", len(selected),
		"merged", len(merged),
		"included", len(budgeted),
	)
	return budgeted, nil
}

// mergeAdjacent combines selected chunks with consecutive ordinals from the
// same document into one context chunk. The chunks carry rune offsets into
// their source document, so the shared overlap window is dropped exactly.
func mergeAdjacent(results []vectorstore.Result) []Chunk {
	byPosition := make([]vectorstore.Result, len(results))
	copy(byPosition, results)
	sort.Slice(byPosition, func(i, j int) bool {
		a, b := byPosition[i].Entry.Chunk, byPosition[j].Entry.Chunk
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Ordinal < b.Ordinal
	})

	var chunks []Chunk
	for i := 0; i < len(byPosition); {
		first := byPosition[i]
		text := []rune(first.Entry.Chunk.Text)
		end := first.Entry.Chunk.EndOffset
		lastOrdinal := first.Entry.Chunk.Ordinal
		bestScore := first.Score

		j := i + 1
		for j < len(byPosition) {
			next := byPosition[j].Entry.Chunk
			if next.DocumentID != first.Entry.Chunk.DocumentID || next.Ordinal != lastOrdinal+1 {
				break
			}
			nextText := []rune(next.Text)
			if overlap := end - next.StartOffset; overlap > 0 && overlap <= len(nextText) {
				nextText = nextText[overlap:]
			}
			text = append(text, nextText...)
			end = next.EndOffset
			lastOrdinal = next.Ordinal
			if byPosition[j].Score > bestScore {
				bestScore = byPosition[j].Score
			}
			j++
		}

		chunk := first.Entry.Chunk
		locator := formatLocator(first.Entry, chunk.Ordinal, lastOrdinal)
		chunks = append(chunks, Chunk{
			Text:  string(text),
			Title: first.Entry.Title,
			Citation: model.Citation{
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				Locator:    locator,
				Score:      bestScore,
			},
			Size: len(text),
		})
		i = j
	}

	return chunks
}

// applyBudget includes chunks in descending score order until the rune
// budget is spent. A chunk that would overflow is skipped whole, never
// truncated; smaller lower-scored chunks may still fit after it.
func applyBudget(chunks []Chunk, budget int) []Chunk {
	byScore := make([]Chunk, len(chunks))
	copy(byScore, chunks)
	sort.SliceStable(byScore, func(i, j int) bool {
		return byScore[i].Citation.Score > byScore[j].Citation.Score
	})

	var included []Chunk
	remaining := budget
	for _, c := range byScore {
		if c.Size > remaining {
			continue
		}
		included = append(included, c)
		remaining -= c.Size
	}
	return included
}

func formatLocator(e *vectorstore.Entry, firstOrdinal, lastOrdinal int) string {
	section := fmt.Sprintf("§%d", firstOrdinal+1)
	if lastOrdinal > firstOrdinal {
		section = fmt.Sprintf("§%d-%d", firstOrdinal+1, lastOrdinal+1)
	}
	return fmt.Sprintf("%s %s (updated %s)", e.Title, section, e.RevisionDate.Format("2006-01-02"))
}
