package graphstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"sinew/internal/sinewerr"
	"sinew/internal/tenant"
)

// searchFactLimit is the default cap applied to Search when the caller
// passes limit<=0 (spec §4.4 search).
const searchFactLimit = 10

// timelineCap is the hard cap on Timeline results regardless of the
// requested window (spec §4.4 timeline).
const timelineCap = 20

// Neo4jStore is the production C4 backend, grounded on the teacher pack's
// neo4j-go-driver session/ExecuteWrite pattern.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jStore(uri, username, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Neo4jStore{driver: driver}, nil
}

func (s *Neo4jStore) Close(ctx context.Context) error { return s.driver.Close(ctx) }

// Health re-verifies driver connectivity.
func (s *Neo4jStore) Health(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "verify connectivity", err)
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

func (s *Neo4jStore) AddEpisode(ctx context.Context, t tenant.ID, episodeID, content, source string, referenceTime time.Time, metadata map[string]any) (Episode, error) {
	body, truncated := truncateBody(content)
	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["original_length"] = len(content)
	meta["truncated"] = truncated

	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (e:Episode {episode_id: $id, tenant_id: $tenant_id})
			SET e.body = $body, e.source = $source, e.reference_time = $reference_time,
			    e.metadata = $metadata`,
			map[string]any{
				"id":             episodeID,
				"tenant_id":      t.String(),
				"body":           body,
				"source":         source,
				"reference_time": referenceTime.UTC().Format(time.RFC3339),
				"metadata":       flattenMap(meta),
			})
		return nil, err
	})
	if err != nil {
		return Episode{}, sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "add_episode", err)
	}
	return Episode{ID: episodeID, TenantID: t.String(), Body: body, Source: source, ReferenceTime: referenceTime, Metadata: meta}, nil
}

func (s *Neo4jStore) StoreEntities(ctx context.Context, t tenant.ID, entities []Entity, documentTitle string) (StoreEntitiesResult, error) {
	res := StoreEntitiesResult{}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	for _, e := range entities {
		out, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `
				MERGE (n:Entity {tenant_id: $tenant_id, name: $name, kind: $kind})
				ON CREATE SET n.confidence = $confidence, n.document_title = $document_title, n.created = true
				ON MATCH SET n.confidence = CASE WHEN n.confidence < $confidence THEN $confidence ELSE n.confidence END, n.created = false
				RETURN n.created AS created`,
				map[string]any{
					"tenant_id":      t.String(),
					"name":           e.Name,
					"kind":           e.Kind,
					"confidence":     e.Confidence,
					"document_title": documentTitle,
				})
			if err != nil {
				return nil, err
			}
			rec, err := result.Single(ctx)
			if err != nil {
				return nil, err
			}
			created, _ := rec.Get("created")
			b, _ := created.(bool)
			return b, nil
		})
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		if created, _ := out.(bool); created {
			res.Created++
		} else {
			res.Merged++
		}
	}
	return res, nil
}

func (s *Neo4jStore) CreateCooccurrence(ctx context.Context, t tenant.ID, entitiesInChunk []string) error {
	pairs := unorderedPairs(entitiesInChunk)
	if len(pairs) == 0 {
		return nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, p := range pairs {
			_, err := tx.Run(ctx, `
				MATCH (a:Entity {tenant_id: $tenant_id, name: $a}), (b:Entity {tenant_id: $tenant_id, name: $b})
				MERGE (a)-[r:CO_OCCURS {tenant_id: $tenant_id}]-(b)
				ON CREATE SET r.weight = 1
				ON MATCH SET r.weight = r.weight + 1`,
				map[string]any{"tenant_id": t.String(), "a": p[0], "b": p[1]})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "create_cooccurrence", err)
	}
	return nil
}

func (s *Neo4jStore) CreateMentionedIn(ctx context.Context, t tenant.ID, entityNames []string, episodeID string) error {
	if len(entityNames) == 0 {
		return nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)
	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, name := range entityNames {
			_, err := tx.Run(ctx, `
				MATCH (n:Entity {tenant_id: $tenant_id, name: $name}), (e:Episode {tenant_id: $tenant_id, episode_id: $episode_id})
				MERGE (n)-[:MENTIONED_IN {tenant_id: $tenant_id}]->(e)`,
				map[string]any{"tenant_id": t.String(), "name": name, "episode_id": episodeID})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "create_mentioned_in", err)
	}
	return nil
}

func (s *Neo4jStore) Search(ctx context.Context, t tenant.ID, queryText string, limit int) ([]FactHit, error) {
	if limit <= 0 || limit > searchFactLimit {
		limit = searchFactLimit
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `
		MATCH (e:Episode {tenant_id: $tenant_id})
		WHERE toLower(e.body) CONTAINS toLower($query)
		RETURN e.body AS fact, e.episode_id AS uuid, e.reference_time AS valid_at
		ORDER BY e.reference_time DESC
		LIMIT $limit`,
		map[string]any{"tenant_id": t.String(), "query": queryText, "limit": int64(limit)})
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "search", err)
	}
	var hits []FactHit
	for result.Next(ctx) {
		rec := result.Record()
		fact, _ := rec.Get("fact")
		uuid, _ := rec.Get("uuid")
		validAtRaw, _ := rec.Get("valid_at")
		hits = append(hits, FactHit{
			Fact:    fmt.Sprint(fact),
			UUID:    fmt.Sprint(uuid),
			ValidAt: parseNeoTime(validAtRaw),
		})
	}
	return hits, result.Err()
}

func (s *Neo4jStore) RelatedEntities(ctx context.Context, t tenant.ID, name string, depth int) ([]RelatedEntity, error) {
	depth = clampDepth(depth)
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(ctx)
	cypher := fmt.Sprintf(`
		MATCH (start:Entity {tenant_id: $tenant_id, name: $name})-[r:CO_OCCURS*1..%d]-(n:Entity {tenant_id: $tenant_id})
		WHERE n.name <> $name
		RETURN DISTINCT n.name AS name, n.kind AS kind, reduce(w = 0.0, rel IN r | w + rel.weight) AS weight`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"tenant_id": t.String(), "name": name})
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "related_entities", err)
	}
	var out []RelatedEntity
	for result.Next(ctx) {
		rec := result.Record()
		n, _ := rec.Get("name")
		k, _ := rec.Get("kind")
		w, _ := rec.Get("weight")
		weight, _ := w.(float64)
		out = append(out, RelatedEntity{Name: fmt.Sprint(n), Kind: fmt.Sprint(k), Weight: weight})
	}
	return out, result.Err()
}

func (s *Neo4jStore) Timeline(ctx context.Context, t tenant.ID, name string, start, end *time.Time) ([]Episode, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer sess.Close(ctx)
	params := map[string]any{"tenant_id": t.String(), "name": name, "limit": int64(timelineCap)}
	clauses := ""
	if start != nil {
		clauses += " AND e.reference_time >= $start"
		params["start"] = start.UTC().Format(time.RFC3339)
	}
	if end != nil {
		clauses += " AND e.reference_time <= $end"
		params["end"] = end.UTC().Format(time.RFC3339)
	}
	cypher := fmt.Sprintf(`
		MATCH (n:Entity {tenant_id: $tenant_id, name: $name})-[:MENTIONED_IN]->(e:Episode {tenant_id: $tenant_id})
		WHERE true%s
		RETURN DISTINCT e.episode_id AS id, e.body AS body, e.source AS source, e.reference_time AS reference_time
		ORDER BY e.reference_time DESC
		LIMIT $limit`, clauses)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, sinewerr.Backend(sinewerr.KindBackendUnavailable, "graphstore", "timeline", err)
	}
	var out []Episode
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		body, _ := rec.Get("body")
		source, _ := rec.Get("source")
		refTime, _ := rec.Get("reference_time")
		out = append(out, Episode{
			ID:            fmt.Sprint(id),
			TenantID:      t.String(),
			Body:          fmt.Sprint(body),
			Source:        fmt.Sprint(source),
			ReferenceTime: parseNeoTime(refTime),
		})
	}
	return out, result.Err()
}

func parseNeoTime(v any) time.Time {
	switch val := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339, val)
		if err == nil {
			return parsed
		}
	case dbtype.LocalDateTime:
		return val.Time()
	case time.Time:
		return val
	}
	return time.Time{}
}

func flattenMap(m map[string]any) map[string]any {
	// Neo4j properties must be primitive/array; nested maps are rejected, so
	// metadata is stored as a JSON-ish flat map of stringified values.
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, int64, float64:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
