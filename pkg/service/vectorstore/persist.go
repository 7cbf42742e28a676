package vectorstore

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// blob is the serialized index format. ModelVersion gates loading: vectors
// built with a different embedding model are not comparable to live queries.
type blob struct {
	ModelVersion string    `json:"model_version"`
	Dimension    int       `json:"dimension"`
	SavedAt      time.Time `json:"saved_at"`
	Entries      []*Entry  `json:"entries"`
}

// Save serializes the current index through the storage collaborator
func (s *Store) Save(ctx context.Context, storage adapter.Storage, key string) error {
	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open index blob for writing", goerr.V("key", key))
	}

	b := blob{
		ModelVersion: s.modelVersion,
		Dimension:    s.Dimension(),
		SavedAt:      time.Now(),
		Entries:      s.Entries(),
	}
	if err := json.NewEncoder(w).Encode(&b); err != nil {
		w.Close()
		return goerr.Wrap(err, "failed to encode index blob", goerr.V("key", key))
	}

	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close index blob", goerr.V("key", key))
	}
	return nil
}

// Load deserializes an index blob into a new Store. A blob saved with a
// different embedding model version or dimension is rejected rather than
// silently loaded.
func Load(ctx context.Context, storage adapter.Storage, key, modelVersion string) (*Store, error) {
	r, err := storage.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open index blob", goerr.V("key", key))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read index blob", goerr.V("key", key))
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, goerr.Wrap(err, "failed to decode index blob", goerr.V("key", key))
	}

	if b.ModelVersion != modelVersion {
		return nil, goerr.Wrap(model.ErrModelVersionMismatch, "stored index is incompatible",
			goerr.V("stored", b.ModelVersion),
			goerr.V("live", modelVersion),
		)
	}
	for _, e := range b.Entries {
		if len(e.Vector) != b.Dimension {
			return nil, goerr.Wrap(model.ErrDimensionMismatch, "corrupt index blob",
				goerr.V("chunk_id", e.Chunk.ID),
				goerr.V("expected", b.Dimension),
				goerr.V("got", len(e.Vector)),
			)
		}
	}

	s := New(b.Dimension, b.ModelVersion)
	s.Swap(b.Entries)
	return s, nil
}
