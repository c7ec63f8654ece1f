package retrieval

import (
	"context"
	"sync"

	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
)

// PerformComprehensiveSearch fans out the enabled branches concurrently and
// waits for both (spec §4.6 perform_comprehensive_search). A branch that
// errors contributes an empty slice rather than failing the whole call — the
// other branch's results still come back — mirroring Dispatch's
// swallow-and-log policy rather than errgroup's fail-fast one, since this is
// merging two independently-optional searches, not a single atomic unit of
// work.
func PerformComprehensiveSearch(ctx context.Context, r *Registry, t tenant.ID, query string, useVector, useGraph bool, limit int) ComprehensiveSearchResult {
	limit = clampLimit(limit)

	var vectorHits []chunkstore.ChunkHit
	var graphFacts []graphstore.FactHit

	var wg sync.WaitGroup
	if useVector {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, err := embedCached(ctx, r, t, query)
			if err != nil {
				if r.Log != nil {
					r.Log.Error().Err(err).Str("tenant_id", t.String()).Msg("retrieval: comprehensive search vector branch failed")
				}
				return
			}
			hits, err := r.ChunkStore.VectorSearch(ctx, t, vec, limit)
			if err != nil {
				if r.Log != nil {
					r.Log.Error().Err(err).Str("tenant_id", t.String()).Msg("retrieval: comprehensive search vector branch failed")
				}
				return
			}
			vectorHits = hits
		}()
	}
	if useGraph {
		wg.Add(1)
		go func() {
			defer wg.Done()
			facts, err := r.GraphStore.Search(ctx, t, query, limit)
			if err != nil {
				if r.Log != nil {
					r.Log.Error().Err(err).Str("tenant_id", t.String()).Msg("retrieval: comprehensive search graph branch failed")
				}
				return
			}
			graphFacts = facts
		}()
	}
	wg.Wait()

	return ComprehensiveSearchResult{
		VectorHits:   vectorHits,
		GraphFacts:   graphFacts,
		TotalResults: len(vectorHits) + len(graphFacts),
	}
}
