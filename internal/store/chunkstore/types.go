// Package chunkstore implements C3: the tenant-scoped document/chunk store
// with vector and hybrid retrieval (spec §4.3, §6.2).
package chunkstore

import (
	"context"
	"time"

	"sinew/internal/tenant"
)

// Document is a persisted source document (spec §3 "Document").
type Document struct {
	ID        string
	TenantID  string
	Title     string
	Source    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is an ordered, immutable span of a document with a fixed-dimension
// embedding (spec §3 "Chunk").
type Chunk struct {
	ID         string
	DocumentID string
	TenantID   string
	Index      int
	Content    string
	StartChar  int
	EndChar    int
	Metadata   map[string]any
	Embedding  []float32
	TokenCount int
}

// ChunkHit is a retrieval result row, shared by vector and hybrid search
// (spec §4.3).
type ChunkHit struct {
	ChunkID    string
	DocumentID string
	Content    string
	Title      string
	Source     string
	Metadata   map[string]any
	Similarity float64
	Rank       float64 // populated for HybridSearch only
}

// Store is the C3 contract. Every operation takes a validated tenant id as
// its first argument; every query predicate includes it (spec §5).
type Store interface {
	InsertDocument(ctx context.Context, t tenant.ID, doc Document, chunks []Chunk) (Document, error)
	DeleteDocument(ctx context.Context, t tenant.ID, documentID string) error
	GetDocument(ctx context.Context, t tenant.ID, documentID string) (*Document, error)
	ListDocuments(ctx context.Context, t tenant.ID, limit, offset int) ([]Document, error)
	GetDocumentChunks(ctx context.Context, t tenant.ID, documentID string) ([]Chunk, error)
	VectorSearch(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]ChunkHit, error)
	HybridSearch(ctx context.Context, t tenant.ID, queryVec []float32, queryText string, limit int, textWeight float64) ([]ChunkHit, error)

	// Sessions/messages (spec §3 "Session"/"Message"). Kept on the same
	// relational store as the teacher's chat persistence.
	CreateSession(ctx context.Context, t tenant.ID, sessionID, userID string, metadata map[string]any, expiresAt *time.Time) (Session, error)
	GetSession(ctx context.Context, t tenant.ID, sessionID string) (*Session, error)
	AppendMessage(ctx context.Context, t tenant.ID, sessionID string, msg Message) (Message, error)
	ListMessages(ctx context.Context, t tenant.ID, sessionID string, limit int) ([]Message, error)

	// Health reports whether the backend is reachable, for GET /status/database
	// and GET /health/detailed.
	Health(ctx context.Context) error
}

// Session is a tenant-bound conversation (spec §3 "Session").
type Session struct {
	ID        string
	TenantID  string
	UserID    string
	Metadata  map[string]any
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is an append-only conversation turn (spec §3 "Message").
type Message struct {
	SessionID string
	Role      string // "user" | "assistant"
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
	Ordinal   int
}
