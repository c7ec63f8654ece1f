package chunkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

// PostgresStore is the default C3 backend: Postgres + pgvector, with a
// tenant_id column on every table and every predicate (spec §5, §6.2).
// Grounded on the teacher's postgres_vector.go/postgres_search.go SQL
// shapes, generalized to carry tenant_id and the document/chunk/session
// model instead of the teacher's flat id/text/metadata rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	vector VectorBackend
	dim    int
	log    *zerolog.Logger
}

// NewPostgresStore opens the pool, ensures the schema exists, and wires the
// given vector backend (pgvector by default; qdrant when VECTOR_BACKEND=qdrant).
func NewPostgresStore(ctx context.Context, dsn string, dim int, vb VectorBackend, log *zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "connect", err)
	}
	s := &PostgresStore{pool: pool, vector: vb, dim: dim, log: log}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool so a pgvector VectorBackend
// can be built against the same pool after construction (the pgvector
// backend needs the pool NewPostgresStore opens internally).
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// SetVectorBackend wires the VectorBackend once it is available; see Pool.
func (s *PostgresStore) SetVectorBackend(vb VectorBackend) { s.vector = vb }

// Health pings the connection pool.
func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "ping", err)
	}
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			tenant_id UUID NOT NULL,
			id UUID NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			tenant_id UUID NOT NULL,
			document_id UUID NOT NULL,
			chunk_index INT NOT NULL,
			id UUID NOT NULL DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			start_char INT NOT NULL DEFAULT 0,
			end_char INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d),
			token_count INT NOT NULL DEFAULT 0,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, document_id, chunk_index)
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS chunks_ts_idx ON chunks USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS chunks_tenant_idx ON chunks (tenant_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			tenant_id UUID NOT NULL,
			id UUID NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id UUID NOT NULL,
			tenant_id UUID NOT NULL,
			ordinal INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, ordinal)
		)`,
		`CREATE TABLE IF NOT EXISTS document_ingestion_status (
			tenant_id UUID NOT NULL,
			file_path TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			modified_at TIMESTAMPTZ,
			category TEXT NOT NULL DEFAULT 'uncategorized',
			category_order INT NOT NULL DEFAULT 999,
			priority_weight INT NOT NULL DEFAULT 0,
			chunks_expected INT NOT NULL DEFAULT 0,
			chunks_created INT NOT NULL DEFAULT 0,
			entities_extracted INT NOT NULL DEFAULT 0,
			episodes_created INT NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'pending',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			PRIMARY KEY (tenant_id, file_path)
		)`,
		`CREATE TABLE IF NOT EXISTS document_sections (
			tenant_id UUID NOT NULL,
			ingestion_status_id TEXT NOT NULL,
			section_position INT NOT NULL,
			state TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, ingestion_status_id, section_position)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "migrate", err)
		}
	}
	return nil
}

func jsonOf(m map[string]any) []byte {
	if m == nil {
		m = map[string]any{}
	}
	b, _ := json.Marshal(m)
	return b
}

// InsertDocument atomically inserts the document row and all chunk rows
// (spec §4.3: "all-or-nothing"). Re-ingestion is handled by the caller via
// DeleteDocument first (spec §3 Document: "re-ingestion replaces prior
// chunks/episodes atomically").
func (s *PostgresStore) InsertDocument(ctx context.Context, t tenant.ID, doc Document, chunks []Chunk) (Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "begin tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (tenant_id, id, title, source, content, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			title=EXCLUDED.title, source=EXCLUDED.source, content=EXCLUDED.content,
			metadata=EXCLUDED.metadata, updated_at=now()
	`, t.String(), doc.ID, doc.Title, doc.Source, doc.Content, jsonOf(doc.Metadata))
	if err != nil {
		return Document{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "insert document", err)
	}

	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return Document{}, sinewerr.New(sinewerr.KindInvalidArgument, fmt.Sprintf("chunk %d embedding dimension %d != configured %d", c.Index, len(c.Embedding), s.dim), nil)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chunks (tenant_id, document_id, chunk_index, content, start_char, end_char, metadata, embedding, token_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8::vector,$9)
			ON CONFLICT (tenant_id, document_id, chunk_index) DO UPDATE SET
				content=EXCLUDED.content, start_char=EXCLUDED.start_char, end_char=EXCLUDED.end_char,
				metadata=EXCLUDED.metadata, embedding=EXCLUDED.embedding, token_count=EXCLUDED.token_count
		`, t.String(), doc.ID, c.Index, c.Content, c.StartChar, c.EndChar, jsonOf(c.Metadata), toVectorLiteral(c.Embedding), c.TokenCount)
		if err != nil {
			return Document{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "insert chunk", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Document{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "commit tx", err)
	}
	if s.vector != nil {
		chunks2 := make([]Chunk, len(chunks))
		copy(chunks2, chunks)
		for i := range chunks2 {
			chunks2[i].DocumentID = doc.ID
			chunks2[i].TenantID = t.String()
		}
		if err := s.vector.Upsert(ctx, t, chunks2); err != nil {
			s.warn("vector backend upsert failed after commit", err)
		}
	}
	return doc, nil
}

// DeleteDocument cascades to chunks, tenant-filtered (spec §4.3).
func (s *PostgresStore) DeleteDocument(ctx context.Context, t tenant.ID, documentID string) error {
	if s.vector != nil {
		if err := s.vector.Delete(ctx, t, documentID); err != nil {
			s.warn("vector backend delete failed", err)
		}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id=$1 AND document_id=$2`, t.String(), documentID); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "delete chunks", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE tenant_id=$1 AND id=$2`, t.String(), documentID); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "delete document", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, t tenant.ID, documentID string) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, source, content, metadata, created_at, updated_at
		FROM documents WHERE tenant_id=$1 AND id=$2
	`, t.String(), documentID)
	var d Document
	var md map[string]any
	if err := row.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &md, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "get document", err)
	}
	d.TenantID = t.String()
	d.Metadata = md
	return &d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, t tenant.ID, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, source, content, metadata, created_at, updated_at
		FROM documents WHERE tenant_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, t.String(), limit, offset)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "list documents", err)
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var md map[string]any
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &md, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "scan document", err)
		}
		d.TenantID = t.String()
		d.Metadata = md
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDocumentChunks prefers the tenant-aware stored procedure
// get_document_chunks(tenant_id, document_id) when present; on
// "procedure missing" it falls back to an explicit tenant-filtered join
// query. Any other backend error downgrades to an empty result with a
// logged warning (spec §4.3, §7) — never to cross-tenant data.
func (s *PostgresStore) GetDocumentChunks(ctx context.Context, t tenant.ID, documentID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT * FROM get_document_chunks($1, $2)`, t.String(), documentID)
	if err == nil {
		defer rows.Close()
		return scanChunkRows(rows, t.String(), documentID)
	}
	if !isProcedureMissing(err) {
		s.warn("get_document_chunks backend error, returning empty result", err)
		return nil, nil
	}
	rows, err = s.pool.Query(ctx, `
		SELECT chunk_index, id, content, start_char, end_char, metadata, token_count
		FROM chunks
		WHERE tenant_id=$1 AND document_id=$2
		ORDER BY chunk_index ASC
	`, t.String(), documentID)
	if err != nil {
		s.warn("get_document_chunks fallback query failed", err)
		return nil, nil
	}
	defer rows.Close()
	return scanChunkRows(rows, t.String(), documentID)
}

func scanChunkRows(rows pgx.Rows, tenantID, documentID string) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		var md map[string]any
		if err := rows.Scan(&c.Index, &c.ID, &c.Content, &c.StartChar, &c.EndChar, &md, &c.TokenCount); err != nil {
			return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "scan chunk", err)
		}
		c.TenantID = tenantID
		c.DocumentID = documentID
		c.Metadata = md
		out = append(out, c)
	}
	return out, rows.Err()
}

func isProcedureMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "undefined_function") || strings.Contains(msg, "no function matches")
}

// VectorSearch delegates similarity ranking to the configured VectorBackend,
// then joins chunk/document metadata, tenant-filtered end to end.
func (s *PostgresStore) VectorSearch(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.vector == nil {
		return nil, nil
	}
	matches, err := s.vector.Search(ctx, t, queryVec, limit)
	if err != nil {
		s.warn("vector_search backend error, returning empty result", err)
		return nil, nil
	}
	return s.hydrateHits(ctx, t, matches, nil)
}

// HybridSearch combines vector similarity and lexical rank per
// score = (1-text_weight)*vector_sim + text_weight*text_rank (spec §4.3).
func (s *PostgresStore) HybridSearch(ctx context.Context, t tenant.ID, queryVec []float32, queryText string, limit int, textWeight float64) ([]ChunkHit, error) {
	if textWeight < 0 || textWeight > 1 {
		return nil, sinewerr.New(sinewerr.KindInvalidArgument, "text_weight must be within [0,1]", nil)
	}
	if limit <= 0 {
		limit = 10
	}
	if s.vector == nil {
		return nil, nil
	}
	// Over-fetch on the vector side so reranking by the blended score still
	// has a chance to prefer lexically-strong hits outside the raw top-N.
	matches, err := s.vector.Search(ctx, t, queryVec, limit*4)
	if err != nil {
		s.warn("hybrid_search vector backend error, returning empty result", err)
		return nil, nil
	}
	ranks, err := s.textRanks(ctx, t, queryText, matches)
	if err != nil {
		s.warn("hybrid_search text rank query failed, using vector-only ranking", err)
		ranks = map[string]float64{}
	}
	hits, err := s.hydrateHits(ctx, t, matches, ranks)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Rank = ranks[hits[i].ChunkID]
		hits[i].Similarity = (1-textWeight)*hits[i].Similarity + textWeight*hits[i].Rank
	}
	sortHitsDesc(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *PostgresStore) textRanks(ctx context.Context, t tenant.ID, queryText string, matches []VectorMatch) (map[string]float64, error) {
	q := strings.TrimSpace(queryText)
	out := make(map[string]float64, len(matches))
	if q == "" || len(matches) == 0 {
		return out, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts_rank(ts, plainto_tsquery('simple', $1)) AS rank
		FROM chunks WHERE tenant_id=$2 AND id = ANY($3::uuid[])
	`, q, t.String(), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var maxRank float64
	for rows.Next() {
		var id string
		var r float64
		if err := rows.Scan(&id, &r); err != nil {
			return nil, err
		}
		out[id] = r
		if r > maxRank {
			maxRank = r
		}
	}
	if maxRank > 0 {
		for k, v := range out {
			out[k] = v / maxRank
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) hydrateHits(ctx context.Context, t tenant.ID, matches []VectorMatch, ranks map[string]float64) ([]ChunkHit, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	score := make(map[string]float64, len(matches))
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
		score[m.ChunkID] = m.Score
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.document_id, c.content, c.metadata, d.title, d.source
		FROM chunks c JOIN documents d ON d.tenant_id=c.tenant_id AND d.id=c.document_id
		WHERE c.tenant_id=$1 AND c.id = ANY($2::uuid[])
	`, t.String(), ids)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "hydrate hits", err)
	}
	defer rows.Close()
	var out []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var md map[string]any
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Content, &md, &h.Title, &h.Source); err != nil {
			return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "scan hit", err)
		}
		h.Metadata = md
		h.Similarity = score[h.ChunkID]
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortHitsDesc(out)
	return out, nil
}

func sortHitsDesc(hits []ChunkHit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Similarity > hits[j-1].Similarity; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (s *PostgresStore) CreateSession(ctx context.Context, t tenant.ID, sessionID, userID string, metadata map[string]any, expiresAt *time.Time) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (tenant_id, id, user_id, metadata, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tenant_id, id) DO UPDATE SET updated_at=now()
		RETURNING created_at, updated_at
	`, t.String(), sessionID, userID, jsonOf(metadata), expiresAt)
	var sess Session
	if err := row.Scan(&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return Session{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "create session", err)
	}
	sess.ID, sess.TenantID, sess.UserID, sess.Metadata, sess.ExpiresAt = sessionID, t.String(), userID, metadata, expiresAt
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, t tenant.ID, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, metadata, expires_at, created_at, updated_at
		FROM sessions WHERE tenant_id=$1 AND id=$2
	`, t.String(), sessionID)
	var sess Session
	var md map[string]any
	if err := row.Scan(&sess.UserID, &md, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "get session", err)
	}
	sess.ID, sess.TenantID, sess.Metadata = sessionID, t.String(), md
	return &sess, nil
}

// AppendMessage rejects tenant-mismatched sessions rather than recovering
// (spec §3 "Message": "mismatch is a tenant-isolation violation").
func (s *PostgresStore) AppendMessage(ctx context.Context, t tenant.ID, sessionID string, msg Message) (Message, error) {
	existing, err := s.GetSession(ctx, t, sessionID)
	if err != nil {
		return Message{}, err
	}
	if existing == nil {
		return Message{}, sinewerr.New(sinewerr.KindNotFound, "session not found for tenant", nil)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (session_id, tenant_id, ordinal, role, content, metadata)
		VALUES ($1,$2, (SELECT COALESCE(MAX(ordinal),-1)+1 FROM messages WHERE session_id=$1), $3,$4,$5)
		RETURNING ordinal, created_at
	`, sessionID, t.String(), msg.Role, msg.Content, jsonOf(msg.Metadata))
	if err := row.Scan(&msg.Ordinal, &msg.CreatedAt); err != nil {
		return Message{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "append message", err)
	}
	msg.SessionID = sessionID
	return msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, t tenant.ID, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, metadata, created_at, ordinal
		FROM messages WHERE tenant_id=$1 AND session_id=$2
		ORDER BY ordinal DESC LIMIT $3
	`, t.String(), sessionID, limit)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "list messages", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var md map[string]any
		if err := rows.Scan(&m.Role, &m.Content, &md, &m.CreatedAt, &m.Ordinal); err != nil {
			return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore", "scan message", err)
		}
		m.Metadata, m.SessionID = md, sessionID
		out = append(out, m)
	}
	// restore chronological order (query is most-recent-first to LIMIT correctly)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *PostgresStore) warn(msg string, err error) {
	if s.log == nil {
		return
	}
	s.log.Warn().Err(err).Msg(msg)
}
