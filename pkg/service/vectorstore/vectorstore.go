package vectorstore

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// Entry is the searchable unit: one chunk embedding plus the metadata
// snapshot needed to build a citation without touching the source document.
type Entry struct {
	Chunk        model.Chunk
	Vector       []float32
	Title        string
	RevisionDate time.Time
}

// Result is a search hit with its cosine similarity score
type Result struct {
	Entry *Entry
	Score float64
}

// Stats describes the live index
type Stats struct {
	Entries      int
	Documents    map[model.DocumentID]int
	Dimension    int
	ModelVersion string
	BuiltAt      time.Time
}

// index is an immutable snapshot. All mutations build a new index and swap
// the pointer, so in-flight searches keep the version they started with.
type index struct {
	entries []*Entry
	norms   []float64
	builtAt time.Time
}

func newIndex(entries []*Entry) *index {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Chunk, sorted[j].Chunk
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Ordinal < b.Ordinal
	})

	norms := make([]float64, len(sorted))
	for i, e := range sorted {
		norms[i] = vectorNorm(e.Vector)
	}

	return &index{
		entries: sorted,
		norms:   norms,
		builtAt: time.Now(),
	}
}

// Store holds chunk embeddings and serves cosine similarity search.
// One Store carries vectors of a single dimension and embedding model
// version; mixing versions is rejected. Writes are serialized; searches
// are lock-free against the current snapshot.
type Store struct {
	writeMu      sync.Mutex
	dimension    int
	modelVersion string
	current      atomic.Pointer[index]
}

// New creates an empty store for the given vector dimension and embedding
// model version. Dimension 0 means "adopt from the first written entry".
func New(dimension int, modelVersion string) *Store {
	s := &Store{
		dimension:    dimension,
		modelVersion: modelVersion,
	}
	s.current.Store(newIndex(nil))
	return s
}

func (s *Store) Dimension() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.dimension
}

// adoptDimension fixes an unset dimension from the first entry seen.
// Callers hold writeMu.
func (s *Store) adoptDimension(entries []*Entry) {
	if s.dimension == 0 && len(entries) > 0 {
		s.dimension = len(entries[0].Vector)
	}
}

func (s *Store) ModelVersion() string {
	return s.modelVersion
}

// Upsert adds entries, replacing any existing entry with the same chunk ID.
// Entries whose vector dimension does not match the store are rejected and
// reported; the remaining entries are still applied.
func (s *Store) Upsert(entries []*Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.adoptDimension(entries)

	accepted := make([]*Entry, 0, len(entries))
	var rejected []model.ChunkID
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			rejected = append(rejected, e.Chunk.ID)
			continue
		}
		accepted = append(accepted, e)
	}

	if len(accepted) > 0 {
		replaced := make(map[model.ChunkID]bool, len(accepted))
		for _, e := range accepted {
			replaced[e.Chunk.ID] = true
		}

		old := s.current.Load()
		next := make([]*Entry, 0, len(old.entries)+len(accepted))
		for _, e := range old.entries {
			if !replaced[e.Chunk.ID] {
				next = append(next, e)
			}
		}
		next = append(next, accepted...)
		s.current.Store(newIndex(next))
	}

	if len(rejected) > 0 {
		return goerr.Wrap(model.ErrDimensionMismatch, "rejected entries",
			goerr.V("expected_dimension", s.dimension),
			goerr.V("rejected_chunks", rejected),
		)
	}
	return nil
}

// ReplaceDocument atomically substitutes all entries of a document with the
// given set. Concurrent searches observe either the full old chunk set or
// the full new one, never a mix.
func (s *Store) ReplaceDocument(docID model.DocumentID, entries []*Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.adoptDimension(entries)

	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return goerr.Wrap(model.ErrDimensionMismatch, "rejected document update",
				goerr.V("document_id", docID),
				goerr.V("expected_dimension", s.dimension),
				goerr.V("got_dimension", len(e.Vector)),
			)
		}
	}

	old := s.current.Load()
	next := make([]*Entry, 0, len(old.entries)+len(entries))
	for _, e := range old.entries {
		if e.Chunk.DocumentID != docID {
			next = append(next, e)
		}
	}
	next = append(next, entries...)
	s.current.Store(newIndex(next))
	return nil
}

// RemoveDocument drops all entries belonging to the document
func (s *Store) RemoveDocument(docID model.DocumentID) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.current.Load()
	next := make([]*Entry, 0, len(old.entries))
	for _, e := range old.entries {
		if e.Chunk.DocumentID != docID {
			next = append(next, e)
		}
	}
	s.current.Store(newIndex(next))
}

// Swap replaces the whole index with a freshly built entry set. In-flight
// searches complete against the snapshot they started with.
func (s *Store) Swap(entries []*Entry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.adoptDimension(entries)

	s.current.Store(newIndex(entries))
}

// Search returns up to k entries ordered by descending cosine similarity.
// Ties are broken by (documentID, ordinal) ascending, which the index sort
// order provides, so identical queries are deterministic. The optional
// filter drops entries before ranking.
func (s *Store) Search(query []float32, k int, filter func(*Entry) bool) ([]Result, error) {
	if dim := s.Dimension(); dim != 0 && len(query) != dim {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query dimension mismatch",
			goerr.V("expected", dim),
			goerr.V("got", len(query)),
		)
	}
	if k <= 0 {
		return nil, nil
	}

	idx := s.current.Load()
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(idx.entries))
	for i, e := range idx.entries {
		if filter != nil && !filter(e) {
			continue
		}
		if idx.norms[i] == 0 {
			continue
		}
		score := dotProduct(query, e.Vector) / (queryNorm * idx.norms[i])
		results = append(results, Result{Entry: e, Score: score})
	}

	// Entries are pre-sorted by (documentID, ordinal); a stable sort on
	// score keeps that order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Entries returns a copy of the current entry set
func (s *Store) Entries() []*Entry {
	idx := s.current.Load()
	entries := make([]*Entry, len(idx.entries))
	copy(entries, idx.entries)
	return entries
}

// Stats reports the shape of the live index
func (s *Store) Stats() Stats {
	idx := s.current.Load()
	docs := make(map[model.DocumentID]int)
	for _, e := range idx.entries {
		docs[e.Chunk.DocumentID]++
	}
	return Stats{
		Entries:      len(idx.entries),
		Documents:    docs,
		Dimension:    s.Dimension(),
		ModelVersion: s.modelVersion,
		BuiltAt:      idx.builtAt,
	}
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
