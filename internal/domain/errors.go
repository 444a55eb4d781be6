package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexUnavailable is returned when the chunk index cannot be queried.
	ErrIndexUnavailable = errors.New("chunk index unavailable")

	// ErrMalformedPlan is returned for plans rejected before any index access.
	ErrMalformedPlan = errors.New("malformed query plan")

	ErrChunkNotFound     = errors.New("chunk not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrIndexClosed       = errors.New("chunk index closed")

	// ErrEmbedderUnavailable is returned when the query cannot be embedded.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
)

// PlanError describes which part of a QueryPlan is invalid.
// It matches ErrMalformedPlan with errors.Is.
type PlanError struct {
	Field  string
	Value  string
	Reason string
}

func (e *PlanError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", ErrMalformedPlan, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: unknown %s %q", ErrMalformedPlan, e.Field, e.Value)
}

func (e *PlanError) Unwrap() error {
	return ErrMalformedPlan
}
