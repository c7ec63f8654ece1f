package chunkstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

// MemoryStore is an in-process Store double used by tests and by offline
// tooling; it implements the same tenant-isolation rules as PostgresStore
// without a database dependency.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
	chunks    map[string][]Chunk // documentID -> chunks
	sessions  map[string]Session
	messages  map[string][]Message // sessionID -> messages
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		chunks:    make(map[string][]Chunk),
		sessions:  make(map[string]Session),
		messages:  make(map[string][]Message),
	}
}

// Health always succeeds: there is no backend connection to lose.
func (m *MemoryStore) Health(ctx context.Context) error { return nil }

func (m *MemoryStore) InsertDocument(ctx context.Context, t tenant.ID, doc Document, chunks []Chunk) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.TenantID = t.String()
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	stored := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.DocumentID = doc.ID
		c.TenantID = t.String()
		stored[i] = c
	}
	m.documents[doc.ID] = doc
	m.chunks[doc.ID] = stored
	return doc, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, t tenant.ID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok || doc.TenantID != t.String() {
		return sinewerr.New(sinewerr.KindNotFound, "document not found", nil)
	}
	delete(m.documents, documentID)
	delete(m.chunks, documentID)
	return nil
}

func (m *MemoryStore) GetDocument(ctx context.Context, t tenant.ID, documentID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	if !ok || doc.TenantID != t.String() {
		return nil, sinewerr.New(sinewerr.KindNotFound, "document not found", nil)
	}
	out := doc
	return &out, nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, t tenant.ID, limit, offset int) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, doc := range m.documents {
		if doc.TenantID == t.String() {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return []Document{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetDocumentChunks(ctx context.Context, t tenant.ID, documentID string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	if !ok || doc.TenantID != t.String() {
		return nil, sinewerr.New(sinewerr.KindNotFound, "document not found", nil)
	}
	chunks := append([]Chunk(nil), m.chunks[documentID]...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *MemoryStore) VectorSearch(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]ChunkHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	var hits []ChunkHit
	for docID, chunks := range m.chunks {
		doc, ok := m.documents[docID]
		if !ok || doc.TenantID != t.String() {
			continue
		}
		for _, c := range chunks {
			if c.Embedding == nil {
				continue
			}
			hits = append(hits, ChunkHit{
				ChunkID: c.ID, DocumentID: docID, Content: c.Content,
				Title: doc.Title, Source: doc.Source, Metadata: c.Metadata,
				Similarity: cosine(queryVec, c.Embedding),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) HybridSearch(ctx context.Context, t tenant.ID, queryVec []float32, queryText string, limit int, textWeight float64) ([]ChunkHit, error) {
	vecHits, err := m.VectorSearch(ctx, t, queryVec, 0)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(queryText))
	for i := range vecHits {
		textScore := 0.0
		if q != "" && strings.Contains(strings.ToLower(vecHits[i].Content), q) {
			textScore = 1.0
		}
		vecHits[i].Rank = (1-textWeight)*vecHits[i].Similarity + textWeight*textScore
	}
	sort.Slice(vecHits, func(i, j int) bool { return vecHits[i].Rank > vecHits[j].Rank })
	if limit > 0 && limit < len(vecHits) {
		vecHits = vecHits[:limit]
	}
	return vecHits, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, t tenant.ID, sessionID, userID string, metadata map[string]any, expiresAt *time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()
	s := Session{ID: sessionID, TenantID: t.String(), UserID: userID, Metadata: metadata, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	m.sessions[sessionID] = s
	return s, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, t tenant.ID, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != t.String() {
		return nil, nil
	}
	out := s
	return &out, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, t tenant.ID, sessionID string, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != t.String() {
		return Message{}, sinewerr.New(sinewerr.KindNotFound, "session not found for tenant", nil)
	}
	msg.SessionID = sessionID
	msg.CreatedAt = time.Now()
	msg.Ordinal = len(m.messages[sessionID])
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	s.UpdatedAt = msg.CreatedAt
	m.sessions[sessionID] = s
	return msg, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, t tenant.ID, sessionID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.TenantID != t.String() {
		return nil, sinewerr.New(sinewerr.KindNotFound, "session not found for tenant", nil)
	}
	msgs := m.messages[sessionID]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}
