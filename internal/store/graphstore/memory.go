package graphstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sinew/internal/tenant"
)

type entityKey struct{ tenant, name, kind string }

// MemoryStore is an in-process Store double, grounded on the teacher's
// memory_graph.go test-double pattern for C4's Neo4j backend.
type MemoryStore struct {
	mu       sync.RWMutex
	episodes map[string]Episode // "tenant|episodeID" -> Episode
	entities map[entityKey]*Entity
	edges    map[string]float64      // "tenant|a|b" (sorted) -> weight
	mentions map[string]map[string]bool // "tenant|name" -> set of episodeID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		episodes: make(map[string]Episode),
		entities: make(map[entityKey]*Entity),
		edges:    make(map[string]float64),
		mentions: make(map[string]map[string]bool),
	}
}

// Health always succeeds: there is no backend connection to lose.
func (m *MemoryStore) Health(ctx context.Context) error { return nil }

func episodeKey(t, id string) string { return t + "|" + id }

func edgeKey(t, a, b string) string {
	if a > b {
		a, b = b, a
	}
	return t + "|" + a + "|" + b
}

func (m *MemoryStore) AddEpisode(ctx context.Context, t tenant.ID, episodeID, content, source string, referenceTime time.Time, metadata map[string]any) (Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, truncated := truncateBody(content)
	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	meta["original_length"] = len(content)
	meta["truncated"] = truncated
	ep := Episode{ID: episodeID, TenantID: t.String(), Body: body, Source: source, ReferenceTime: referenceTime, Metadata: meta}
	m.episodes[episodeKey(t.String(), episodeID)] = ep
	return ep, nil
}

func (m *MemoryStore) StoreEntities(ctx context.Context, t tenant.ID, entities []Entity, documentTitle string) (StoreEntitiesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := StoreEntitiesResult{}
	for _, e := range entities {
		key := entityKey{t.String(), e.Name, e.Kind}
		if existing, ok := m.entities[key]; ok {
			if e.Confidence > existing.Confidence {
				existing.Confidence = e.Confidence
			}
			existing.SourceChunkIDs = append(existing.SourceChunkIDs, e.SourceChunkIDs...)
			res.Merged++
			continue
		}
		copyE := e
		copyE.DocumentTitle = documentTitle
		m.entities[key] = &copyE
		res.Created++
	}
	return res, nil
}

func (m *MemoryStore) CreateCooccurrence(ctx context.Context, t tenant.ID, entitiesInChunk []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range unorderedPairs(entitiesInChunk) {
		k := edgeKey(t.String(), p[0], p[1])
		m.edges[k] = m.edges[k] + 1
	}
	return nil
}

func (m *MemoryStore) CreateMentionedIn(ctx context.Context, t tenant.ID, entityNames []string, episodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range entityNames {
		mk := t.String() + "|" + name
		if m.mentions[mk] == nil {
			m.mentions[mk] = make(map[string]bool)
		}
		m.mentions[mk][episodeID] = true
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, t tenant.ID, queryText string, limit int) ([]FactHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > searchFactLimit {
		limit = searchFactLimit
	}
	q := strings.ToLower(queryText)
	var hits []FactHit
	for key, ep := range m.episodes {
		if !strings.HasPrefix(key, t.String()+"|") {
			continue
		}
		if !strings.Contains(strings.ToLower(ep.Body), q) {
			continue
		}
		hits = append(hits, FactHit{Fact: ep.Body, UUID: ep.ID, ValidAt: ep.ReferenceTime})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ValidAt.After(hits[j].ValidAt) })
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) RelatedEntities(ctx context.Context, t tenant.ID, name string, depth int) ([]RelatedEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	depth = clampDepth(depth)

	// BFS over CO_OCCURS edges up to `depth` hops, summing edge weights
	// along the path (mirrors the Cypher reduce() in the Neo4j backend).
	type frontierEntry struct {
		name   string
		weight float64
	}
	visited := map[string]float64{name: 0}
	frontier := []frontierEntry{{name, 0}}
	for d := 0; d < depth; d++ {
		var next []frontierEntry
		for _, f := range frontier {
			for key, w := range m.edges {
				parts := strings.SplitN(key, "|", 3)
				if len(parts) != 3 || parts[0] != t.String() {
					continue
				}
				a, b := parts[1], parts[2]
				var neighbor string
				switch f.name {
				case a:
					neighbor = b
				case b:
					neighbor = a
				default:
					continue
				}
				totalWeight := f.weight + w
				if existing, ok := visited[neighbor]; !ok || totalWeight > existing {
					visited[neighbor] = totalWeight
					next = append(next, frontierEntry{neighbor, totalWeight})
				}
			}
		}
		frontier = next
	}
	var out []RelatedEntity
	for n, w := range visited {
		if n == name {
			continue
		}
		kind := ""
		for ek, e := range m.entities {
			if ek.tenant == t.String() && ek.name == n {
				kind = e.Kind
				break
			}
		}
		out = append(out, RelatedEntity{Name: n, Kind: kind, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

func (m *MemoryStore) Timeline(ctx context.Context, t tenant.ID, name string, start, end *time.Time) ([]Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk := t.String() + "|" + name
	episodeIDs := m.mentions[mk]
	var out []Episode
	for id := range episodeIDs {
		ep, ok := m.episodes[episodeKey(t.String(), id)]
		if !ok {
			continue
		}
		if start != nil && ep.ReferenceTime.Before(*start) {
			continue
		}
		if end != nil && ep.ReferenceTime.After(*end) {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceTime.After(out[j].ReferenceTime) })
	if len(out) > timelineCap {
		out = out[:timelineCap]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
