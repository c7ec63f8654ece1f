// Package retrieval implements C6: the uniform retrieval tool contract
// consumed by the agent runtime (spec §4.6). Each tool validates its tenant
// id, goes through the embedding/result caches in C5, falls back to C3/C4 on
// a miss, and swallows backend failures into an empty result plus a logged
// error — except InvalidTenant/InvalidArgument, which propagate untouched.
package retrieval

import (
	"time"

	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
)

// VectorSearchInput is the vector_search tool's typed argument shape
// (spec §4.6 table).
type VectorSearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// GraphSearchInput is the graph_search tool's typed argument shape.
type GraphSearchInput struct {
	Query string `json:"query"`
}

// HybridSearchInput is the hybrid_search tool's typed argument shape.
// TextWeight is a pointer so an explicit 0.0 (full vector weight) is
// distinguishable from "unset" (spec §4.3 hybrid_search example: text_weight=0.0
// is a valid, meaningful value, not a default sentinel).
type HybridSearchInput struct {
	Query      string   `json:"query"`
	Limit      int      `json:"limit"`
	TextWeight *float64 `json:"text_weight,omitempty"`
}

// GetDocumentInput is the get_document tool's typed argument shape.
type GetDocumentInput struct {
	DocumentID string `json:"document_id"`
}

// ListDocumentsInput is the list_documents tool's typed argument shape.
type ListDocumentsInput struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// GetEntityRelationshipsInput is the get_entity_relationships tool's typed
// argument shape.
type GetEntityRelationshipsInput struct {
	EntityName string `json:"entity_name"`
	Depth      int    `json:"depth"`
}

// GetEntityTimelineInput is the get_entity_timeline tool's typed argument
// shape.
type GetEntityTimelineInput struct {
	EntityName string     `json:"entity_name"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
}

// DocumentResult is the get_document tool's result: the document plus its
// ordered chunks, or a nil Document when not found in the tenant.
type DocumentResult struct {
	Document *chunkstore.Document `json:"document"`
	Chunks   []chunkstore.Chunk   `json:"chunks"`
}

// EntityNeighborhood is the get_entity_relationships tool's result.
type EntityNeighborhood struct {
	Entity    string                     `json:"entity"`
	Depth     int                        `json:"depth"`
	Neighbors []graphstore.RelatedEntity `json:"neighbors"`
}

// ComprehensiveSearchResult merges the vector and graph branches of
// perform_comprehensive_search (spec §4.6).
type ComprehensiveSearchResult struct {
	VectorHits   []chunkstore.ChunkHit `json:"vector_hits"`
	GraphFacts   []graphstore.FactHit  `json:"graph_facts"`
	TotalResults int                   `json:"total_results"`
}
