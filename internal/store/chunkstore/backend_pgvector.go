package chunkstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

// PgvectorBackend ranks chunks already persisted by PostgresStore using the
// pgvector distance operator on the shared `chunks` table. Grounded on the
// teacher's postgres_vector.go SimilaritySearch/metric-switch shape.
type PgvectorBackend struct {
	pool   *pgxpool.Pool
	metric string // cosine|l2|ip
}

func NewPgvectorBackend(pool *pgxpool.Pool, metric string) *PgvectorBackend {
	return &PgvectorBackend{pool: pool, metric: strings.ToLower(strings.TrimSpace(metric))}
}

// Upsert/Delete are no-ops: the vector column lives in the same `chunks` row
// that PostgresStore.InsertDocument/DeleteDocument already write.
func (b *PgvectorBackend) Upsert(context.Context, tenant.ID, []Chunk) error  { return nil }
func (b *PgvectorBackend) Delete(context.Context, tenant.ID, string) error   { return nil }

func (b *PgvectorBackend) Search(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	op, scoreExpr := "<=>", "1 - (embedding <=> $1::vector)"
	switch b.metric {
	case "l2", "euclidean":
		op, scoreExpr = "<->", "-(embedding <-> $1::vector)"
	case "ip", "dot":
		op, scoreExpr = "<#>", "-(embedding <#> $1::vector)"
	}
	vecLit := toVectorLiteral(queryVec)
	query := `SELECT id, ` + scoreExpr + ` AS score FROM chunks WHERE tenant_id=$2 AND embedding IS NOT NULL ORDER BY embedding ` + op + ` $1::vector LIMIT $3`
	rows, err := b.pool.Query(ctx, query, vecLit, t.String(), limit)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore.pgvector", "similarity search", err)
	}
	defer rows.Close()
	out := make([]VectorMatch, 0, limit)
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.ChunkID, &m.Score); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
