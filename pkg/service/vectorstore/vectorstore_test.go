package vectorstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/vectorstore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func newEntry(docID model.DocumentID, ordinal int, text string, vec []float32) *vectorstore.Entry {
	runes := []rune(text)
	return &vectorstore.Entry{
		Chunk: model.Chunk{
			ID:          model.NewChunkID(),
			DocumentID:  docID,
			Ordinal:     ordinal,
			Text:        text,
			StartOffset: ordinal * len(runes),
			EndOffset:   (ordinal + 1) * len(runes),
		},
		Vector:       vec,
		Title:        string(docID),
		RevisionDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestSearchRanking(t *testing.T) {
	store := vectorstore.New(3, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "exact match", []float32{1, 0, 0}),
		newEntry("doc-a", 1, "partial match", []float32{1, 1, 0}),
		newEntry("doc-b", 0, "orthogonal", []float32{0, 1, 0}),
	}))

	results, err := store.Search([]float32{1, 0, 0}, 3, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(3)

	gt.Equal(t, results[0].Entry.Chunk.Text, "exact match")
	gt.Equal(t, results[1].Entry.Chunk.Text, "partial match")
	gt.Equal(t, results[2].Entry.Chunk.Text, "orthogonal")
	gt.True(t, results[0].Score > results[1].Score)
	gt.True(t, results[1].Score > results[2].Score)
}

func TestSearchTieBreakDeterministic(t *testing.T) {
	// identical vectors produce identical scores; order must still be stable
	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-b", 0, "second doc", []float32{1, 0}),
		newEntry("doc-a", 1, "first doc late chunk", []float32{1, 0}),
		newEntry("doc-a", 0, "first doc early chunk", []float32{1, 0}),
	}))

	for i := 0; i < 10; i++ {
		results, err := store.Search([]float32{1, 0}, 3, nil)
		gt.NoError(t, err)
		gt.A(t, results).Length(3)
		gt.Equal(t, results[0].Entry.Chunk.DocumentID, model.DocumentID("doc-a"))
		gt.Equal(t, results[0].Entry.Chunk.Ordinal, 0)
		gt.Equal(t, results[1].Entry.Chunk.Ordinal, 1)
		gt.Equal(t, results[2].Entry.Chunk.DocumentID, model.DocumentID("doc-b"))
	}
}

func TestSearchTopK(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "a", []float32{1, 0}),
		newEntry("doc-a", 1, "b", []float32{1, 1}),
		newEntry("doc-a", 2, "c", []float32{0, 1}),
	}))

	results, err := store.Search([]float32{1, 0}, 2, nil)
	gt.NoError(t, err)
	gt.A(t, results).Length(2)
}

func TestSearchDimensionMismatch(t *testing.T) {
	store := vectorstore.New(3, "test-embedding")

	_, err := store.Search([]float32{1, 0}, 5, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDimensionMismatch))
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	good := newEntry("doc-a", 0, "good", []float32{1, 0})
	bad := newEntry("doc-a", 1, "bad", []float32{1, 0, 0})

	err := store.Upsert([]*vectorstore.Entry{good, bad})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDimensionMismatch))

	// the valid entry is still applied
	gt.Equal(t, store.Stats().Entries, 1)
}

func TestUpsertReplacesByChunkID(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	entry := newEntry("doc-a", 0, "v1", []float32{1, 0})
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{entry}))

	updated := *entry
	updated.Chunk.Text = "v2"
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{&updated}))

	gt.Equal(t, store.Stats().Entries, 1)
	results, err := store.Search([]float32{1, 0}, 1, nil)
	gt.NoError(t, err)
	gt.Equal(t, results[0].Entry.Chunk.Text, "v2")
}

func TestReplaceDocumentSupersedes(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "old a0", []float32{1, 0}),
		newEntry("doc-a", 1, "old a1", []float32{1, 0}),
		newEntry("doc-b", 0, "keep b0", []float32{0, 1}),
	}))

	gt.NoError(t, store.ReplaceDocument("doc-a", []*vectorstore.Entry{
		newEntry("doc-a", 0, "new a0", []float32{1, 0}),
	}))

	stats := store.Stats()
	gt.Equal(t, stats.Entries, 2)
	gt.Equal(t, stats.Documents["doc-a"], 1)
	gt.Equal(t, stats.Documents["doc-b"], 1)

	results, err := store.Search([]float32{1, 0}, 1, nil)
	gt.NoError(t, err)
	gt.Equal(t, results[0].Entry.Chunk.Text, "new a0")
}

func TestReplaceDocumentAllOrNothing(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "old", []float32{1, 0}),
	}))

	err := store.ReplaceDocument("doc-a", []*vectorstore.Entry{
		newEntry("doc-a", 0, "new", []float32{1, 0, 0}),
	})
	gt.Error(t, err)

	// rejected update leaves the old chunks in place
	results, searchErr := store.Search([]float32{1, 0}, 1, nil)
	gt.NoError(t, searchErr)
	gt.Equal(t, results[0].Entry.Chunk.Text, "old")
}

func TestRemoveDocument(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "a", []float32{1, 0}),
		newEntry("doc-b", 0, "b", []float32{0, 1}),
	}))

	store.RemoveDocument("doc-a")

	stats := store.Stats()
	gt.Equal(t, stats.Entries, 1)
	gt.Equal(t, stats.Documents["doc-b"], 1)
}

func TestAdoptDimensionOnFirstWrite(t *testing.T) {
	store := vectorstore.New(0, "test-embedding")
	gt.Equal(t, store.Dimension(), 0)

	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "a", []float32{1, 0, 0}),
	}))
	gt.Equal(t, store.Dimension(), 3)

	err := store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 1, "b", []float32{1, 0}),
	})
	gt.Error(t, err)
}

func TestSwapIsAtomicAgainstSearch(t *testing.T) {
	store := vectorstore.New(2, "test-embedding")

	generation := func(title string, n int) []*vectorstore.Entry {
		entries := make([]*vectorstore.Entry, n)
		for i := 0; i < n; i++ {
			e := newEntry("doc-a", i, title, []float32{1, 0})
			e.Title = title
			entries[i] = e
		}
		return entries
	}
	store.Swap(generation("gen-1", 4))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			if i%2 == 0 {
				store.Swap(generation("gen-2", 7))
			} else {
				store.Swap(generation("gen-1", 4))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		results, err := store.Search([]float32{1, 0}, 10, nil)
		gt.NoError(t, err)

		// every result must come from a single snapshot
		title := results[0].Entry.Title
		for _, r := range results {
			gt.Equal(t, r.Entry.Title, title)
		}
		if title == "gen-1" {
			gt.A(t, results).Length(4)
		} else {
			gt.A(t, results).Length(7)
		}
	}
	close(done)
	wg.Wait()
}

// memStorage is an in-memory blob store for persistence tests
type memStorage struct {
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memWriter{storage: m, key: key}, nil
}

func (m *memStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, goerr.New("blob not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type memWriter struct {
	bytes.Buffer
	storage *memStorage
	key     string
}

func (w *memWriter) Close() error {
	w.storage.data[w.key] = w.Buffer.Bytes()
	return nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()

	store := vectorstore.New(2, "test-embedding")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "alpha", []float32{1, 0}),
		newEntry("doc-b", 0, "beta", []float32{0, 1}),
	}))

	gt.NoError(t, store.Save(ctx, storage, "index/test.json"))

	loaded, err := vectorstore.Load(ctx, storage, "index/test.json", "test-embedding")
	gt.NoError(t, err)
	gt.Equal(t, loaded.Stats().Entries, 2)
	gt.Equal(t, loaded.Dimension(), 2)

	results, err := loaded.Search([]float32{1, 0}, 1, nil)
	gt.NoError(t, err)
	gt.Equal(t, results[0].Entry.Chunk.Text, "alpha")
}

func TestLoadRejectsModelVersionMismatch(t *testing.T) {
	ctx := context.Background()
	storage := newMemStorage()

	store := vectorstore.New(2, "embedding-v1")
	gt.NoError(t, store.Upsert([]*vectorstore.Entry{
		newEntry("doc-a", 0, "alpha", []float32{1, 0}),
	}))
	gt.NoError(t, store.Save(ctx, storage, "index/test.json"))

	_, err := vectorstore.Load(ctx, storage, "index/test.json", "embedding-v2")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrModelVersionMismatch))
}
