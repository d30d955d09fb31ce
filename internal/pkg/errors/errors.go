package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// EmptyDocumentError reports that chunking produced no chunks for a document.
// The ingestion job marks the document failed when it sees this.
type EmptyDocumentError struct {
	DocumentID uuid.UUID
}

func (e *EmptyDocumentError) Error() string {
	return fmt.Sprintf("document %s produced no chunks", e.DocumentID)
}

// StoreWriteError wraps a failed upsert or delete against the vector store.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("vector store write failed (op=%s): %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// StoreReadError wraps a failed search against the vector store.
type StoreReadError struct {
	Op  string
	Err error
}

func (e *StoreReadError) Error() string {
	return fmt.Sprintf("vector store read failed (op=%s): %v", e.Op, e.Err)
}

func (e *StoreReadError) Unwrap() error { return e.Err }

// GenerationError wraps a failed call to the answer generation backend.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// FilterOnlyUnsupportedError reports that a vector store backend cannot run
// a metadata-only search (empty query text).
type FilterOnlyUnsupportedError struct {
	Provider string
}

func (e *FilterOnlyUnsupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support filter-only search", e.Provider)
}
