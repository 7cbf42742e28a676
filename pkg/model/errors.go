package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidDocument marks an unparseable or empty source document.
	// Indexing skips the document and continues with the rest of the batch.
	ErrInvalidDocument = goerr.New("invalid document")

	// ErrDimensionMismatch is returned when an incoming vector does not
	// match the dimension of the live index. Fatal for the offending
	// entries, never for the index itself.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")

	// ErrModelVersionMismatch is returned when stored vectors were built
	// with a different embedding model than the live one. Vectors from
	// different models are not comparable.
	ErrModelVersionMismatch = goerr.New("embedding model version mismatch")

	// ErrRateLimited marks a quota failure from the LLM collaborator after
	// retries are exhausted.
	ErrRateLimited = goerr.New("rate limit exceeded")

	// ErrCompletion marks a completion that failed permanently, including
	// the reduced-prompt retry.
	ErrCompletion = goerr.New("completion failed")

	// ErrAuth marks rejected collaborator credentials. Never retried.
	ErrAuth = goerr.New("authentication failed")

	ErrInvalidSessionState = goerr.New("invalid session state")
)
