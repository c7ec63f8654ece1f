package chunkstore

import (
	"context"

	"sinew/internal/tenant"
)

// VectorMatch is a similarity hit keyed by chunk id.
type VectorMatch struct {
	ChunkID string
	Score   float64
}

// VectorBackend is the pluggable approximate-nearest-neighbor backend behind
// VectorSearch/HybridSearch (spec §6.2, SPEC_FULL.md §B: pgvector default,
// qdrant alternate selected by VECTOR_BACKEND=qdrant).
//
// The pgvector backend stores vectors in the same `chunks` row as the rest
// of the chunk's columns, so its Upsert/Delete are no-ops — the INSERT/DELETE
// already performed against the `chunks` table by the relational store is
// sufficient. The qdrant backend maintains a separate mirrored collection
// and needs explicit Upsert/Delete calls.
type VectorBackend interface {
	Upsert(ctx context.Context, t tenant.ID, chunks []Chunk) error
	Delete(ctx context.Context, t tenant.ID, documentID string) error
	Search(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]VectorMatch, error)
}
