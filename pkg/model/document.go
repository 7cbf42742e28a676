package model

import (
	"time"

	"github.com/google/uuid"
)

type DocumentID string

// NewDocumentID generates a new unique DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

type ChunkID string

// NewChunkID generates a new unique ChunkID
func NewChunkID() ChunkID {
	return ChunkID(uuid.New().String())
}

// Document is a raw source document before chunking. Once indexed it is
// immutable; re-indexing supersedes it with a new chunk set.
type Document struct {
	ID         DocumentID
	SourcePath string
	RawText    string
	Metadata   DocumentMetadata
}

type DocumentMetadata struct {
	Title        string
	RevisionDate time.Time
}

// Chunk is a contiguous slice of a document, the unit of retrieval.
// Ordinal gives document-local order. StartOffset/EndOffset are rune
// offsets into the document text; adjacent chunks may share a configured
// overlap window.
type Chunk struct {
	ID          ChunkID
	DocumentID  DocumentID
	Ordinal     int
	Text        string
	StartOffset int
	EndOffset   int
}

// Citation points from a generated answer back to the chunk that supports it.
type Citation struct {
	ChunkID    ChunkID
	DocumentID DocumentID
	Locator    string
	Score      float64
}
