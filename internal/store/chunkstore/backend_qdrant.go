package chunkstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

// tenantPayloadField is the Qdrant payload key carrying the owning tenant,
// filtered on every query so a cross-tenant vector can never surface (spec §5).
const tenantPayloadField = "tenant_id"

// QdrantBackend is the alternate pluggable vector store (VECTOR_BACKEND=qdrant),
// mirroring chunk embeddings into a Qdrant collection keyed by a deterministic
// UUID derived from the chunk id. Grounded on the teacher's qdrant_vector.go.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

func NewQdrantBackend(dsn, collection string, dimension int, metric string) (*QdrantBackend, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	b := &QdrantBackend{client: client, collection: collection, dimension: dimension, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := b.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check qdrant collection exists: %w", err)
	}
	if exists {
		return nil
	}
	var distance qdrant.Distance
	switch b.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.dimension),
			Distance: distance,
		}),
	})
}

func pointID(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func (b *QdrantBackend) Upsert(ctx context.Context, t tenant.ID, chunks []Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		vec := make([]float32, len(c.Embedding))
		copy(vec, c.Embedding)
		payload := qdrant.NewValueMap(map[string]any{
			tenantPayloadField: t.String(),
			"chunk_id":         c.ID,
			"document_id":      c.DocumentID,
		})
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: b.collection, Points: points})
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore.qdrant", "upsert", err)
	}
	return nil
}

func (b *QdrantBackend) Delete(ctx context.Context, t tenant.ID, documentID string) error {
	filter := &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch(tenantPayloadField, t.String()),
		qdrant.NewMatch("document_id", documentID),
	}}
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore.qdrant", "delete", err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, t tenant.ID, queryVec []float32, limit int) ([]VectorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(queryVec))
	copy(vec, queryVec)
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(tenantPayloadField, t.String())}}
	lim := uint64(limit)
	res, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "chunkstore.qdrant", "query", err)
	}
	out := make([]VectorMatch, 0, len(res))
	for _, hit := range res {
		chunkID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload["chunk_id"]; ok {
				chunkID = v.GetStringValue()
			}
		}
		if chunkID == "" {
			continue
		}
		out = append(out, VectorMatch{ChunkID: chunkID, Score: float64(hit.Score)})
	}
	return out, nil
}

func (b *QdrantBackend) Close() error { return b.client.Close() }
