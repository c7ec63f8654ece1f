// Package graphstore implements C4: the tenant-scoped knowledge graph of
// episodes, entities, and their relationships (spec §4.4).
package graphstore

import (
	"context"
	"strings"
	"time"

	"sinew/internal/tenant"
)

// maxBodyChars is the episode body truncation limit (spec §4.4 add_episode).
const maxBodyChars = 6000

// truncatedMarker is appended to a body truncated at a sentence boundary.
const truncatedMarker = "[TRUNCATED]"

// Episode is a graph node representing one chunk's content surface
// (spec §3 "Episode").
type Episode struct {
	ID            string
	TenantID      string
	Body          string
	Source        string
	ReferenceTime time.Time
	Metadata      map[string]any
}

// Entity is a graph node deduped within a tenant by (tenant_id, name, kind)
// (spec §3 "Entity").
type Entity struct {
	Name            string
	Kind            string
	Confidence      float64
	SourceChunkIDs  []string
	DocumentTitle   string
}

// RelatedEntity is one neighbor returned by RelatedEntities, annotated with
// the CO_OCCURS edge weight that connects it to the queried entity.
type RelatedEntity struct {
	Name   string
	Kind   string
	Weight float64
}

// FactHit is one result of Search, over episode bodies (spec §4.4 search).
type FactHit struct {
	Fact    string
	UUID    string
	ValidAt time.Time
}

// StoreEntitiesResult reports the outcome of a batched entity upsert.
type StoreEntitiesResult struct {
	Created int
	Merged  int
	Errors  []error
}

// Store is the C4 contract. Every operation takes a validated tenant id
// (spec §4.4); tenant-mismatched reads/writes must never cross tenants.
type Store interface {
	AddEpisode(ctx context.Context, t tenant.ID, episodeID, content, source string, referenceTime time.Time, metadata map[string]any) (Episode, error)
	StoreEntities(ctx context.Context, t tenant.ID, entities []Entity, documentTitle string) (StoreEntitiesResult, error)
	CreateCooccurrence(ctx context.Context, t tenant.ID, entitiesInChunk []string) error
	CreateMentionedIn(ctx context.Context, t tenant.ID, entityNames []string, episodeID string) error
	Search(ctx context.Context, t tenant.ID, queryText string, limit int) ([]FactHit, error)
	RelatedEntities(ctx context.Context, t tenant.ID, name string, depth int) ([]RelatedEntity, error)
	Timeline(ctx context.Context, t tenant.ID, name string, start, end *time.Time) ([]Episode, error)

	// Health reports whether the backend is reachable, for GET /status/database
	// and GET /health/detailed.
	Health(ctx context.Context) error
}

// truncateBody enforces the 6000-char episode body cap, cutting at the last
// sentence boundary below the limit (spec §4.4).
func truncateBody(body string) (string, bool) {
	if len(body) <= maxBodyChars {
		return body, false
	}
	window := body[:maxBodyChars]
	cut := -1
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(window, sep); idx > cut {
			cut = idx + len(sep)
		}
	}
	if cut <= 0 {
		cut = maxBodyChars
	}
	return strings.TrimRight(body[:cut], " \n") + " " + truncatedMarker, true
}

// clampDepth bounds the related-entities traversal depth to [1,3] (spec §4.4).
func clampDepth(depth int) int {
	switch {
	case depth < 1:
		return 1
	case depth > 3:
		return 3
	default:
		return depth
	}
}

// unorderedPairs returns every unordered pair of distinct names, used to
// build CO_OCCURS edges for entities observed in the same chunk.
func unorderedPairs(names []string) [][2]string {
	seen := make(map[string]bool, len(names))
	var uniq []string
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	var pairs [][2]string
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			pairs = append(pairs, [2]string{uniq[i], uniq[j]})
		}
	}
	return pairs
}
