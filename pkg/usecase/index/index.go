package index

import (
	"context"
	"strings"

	"github.com/m-kurata/kotae/pkg/adapter"
	"github.com/m-kurata/kotae/pkg/model"
	"github.com/m-kurata/kotae/pkg/service/vectorstore"
	"github.com/m-kurata/kotae/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// UseCase turns raw documents into embedded, searchable chunks in a
// vector store.
type UseCase struct {
	gemini adapter.Gemini
	store  *vectorstore.Store

	chunkSize    int
	chunkOverlap int
}

type Option func(*UseCase)

func WithChunkSize(runes int) Option {
	return func(u *UseCase) {
		u.chunkSize = runes
	}
}

func WithChunkOverlap(runes int) Option {
	return func(u *UseCase) {
		u.chunkOverlap = runes
	}
}

// New creates an indexer writing into the given store. The store must be
// tagged with the collaborator's embedding model version.
func New(gemini adapter.Gemini, store *vectorstore.Store, opts ...Option) (*UseCase, error) {
	if store.ModelVersion() != gemini.EmbeddingModel() {
		return nil, goerr.Wrap(model.ErrModelVersionMismatch, "store and embedder disagree",
			goerr.V("store_model", store.ModelVersion()),
			goerr.V("embedder_model", gemini.EmbeddingModel()),
		)
	}

	u := &UseCase{
		gemini:       gemini,
		store:        store,
		chunkSize:    1000,
		chunkOverlap: 200,
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.chunkOverlap >= u.chunkSize {
		return nil, goerr.New("chunk overlap must be smaller than chunk size",
			goerr.V("chunk_size", u.chunkSize),
			goerr.V("chunk_overlap", u.chunkOverlap),
		)
	}
	return u, nil
}

func (u *UseCase) Store() *vectorstore.Store {
	return u.store
}

// Index chunks and embeds one document, then atomically replaces that
// document's entries in the store. Readers see either the fully-old or
// fully-new chunk set.
func (u *UseCase) Index(ctx context.Context, doc *model.Document) ([]model.ChunkID, error) {
	entries, err := u.buildEntries(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := u.store.ReplaceDocument(doc.ID, entries); err != nil {
		return nil, err
	}

	ids := make([]model.ChunkID, len(entries))
	for i, e := range entries {
		ids[i] = e.Chunk.ID
	}

	logging.From(ctx).Info("indexed document",
		"document_id", doc.ID,
		"title", doc.Metadata.Title,
		"chunks", len(ids),
	)
	return ids, nil
}

// FailedDocument reports one document that could not be indexed
type FailedDocument struct {
	DocumentID model.DocumentID
	SourcePath string
	Err        error
}

// Report summarizes a batch indexing run
type Report struct {
	Indexed int
	Chunks  int
	Failed  []FailedDocument
}

// RebuildAll builds a complete new index from the documents and swaps it in
// atomically; readers never observe a half-built index. A failure on one
// document is recorded in the report and does not abort the rest.
func (u *UseCase) RebuildAll(ctx context.Context, docs []*model.Document) (*Report, error) {
	var (
		entries []*vectorstore.Entry
		report  Report
	)

	for _, doc := range docs {
		docEntries, err := u.buildEntries(ctx, doc)
		if err != nil {
			logging.From(ctx).Warn("failed to index document",
				"document_id", doc.ID,
				"error", err,
			)
			report.Failed = append(report.Failed, FailedDocument{
				DocumentID: doc.ID,
				SourcePath: doc.SourcePath,
				Err:        err,
			})
			continue
		}
		entries = append(entries, docEntries...)
		report.Indexed++
		report.Chunks += len(docEntries)
	}

	u.store.Swap(entries)
	return &report, nil
}

// Remove drops all chunks of the document from the store
func (u *UseCase) Remove(docID model.DocumentID) {
	u.store.RemoveDocument(docID)
}

func (u *UseCase) buildEntries(ctx context.Context, doc *model.Document) ([]*vectorstore.Entry, error) {
	if strings.TrimSpace(doc.RawText) == "" {
		return nil, goerr.Wrap(model.ErrInvalidDocument, "document has no text", goerr.V("document_id", doc.ID))
	}

	chunks := chunkDocument(doc, u.chunkSize, u.chunkOverlap)

	entries := make([]*vectorstore.Entry, 0, len(chunks))
	for _, chunk := range chunks {
		resp, err := u.gemini.Embedding(ctx, chunk.Text)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to embed chunk",
				goerr.V("document_id", doc.ID),
				goerr.V("ordinal", chunk.Ordinal),
			)
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return nil, goerr.New("embedding response is empty",
				goerr.V("document_id", doc.ID),
				goerr.V("ordinal", chunk.Ordinal),
			)
		}

		entries = append(entries, &vectorstore.Entry{
			Chunk:        chunk,
			Vector:       resp.Embeddings[0].Values,
			Title:        doc.Metadata.Title,
			RevisionDate: doc.Metadata.RevisionDate,
		})
	}
	return entries, nil
}
