package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sinew/internal/chunker"
	"sinew/internal/config"
	"sinew/internal/embedding"
	"sinew/internal/entity"
	"sinew/internal/observability"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
	"sinew/internal/tracker"
)

// selectiveFailGraphStore fails AddEpisode whenever the episode content is in
// failOn, so a test can force exactly one section's graph write to fail
// without needing a multi-section document fixture on disk.
type selectiveFailGraphStore struct {
	graphstore.Store
	failOn map[string]bool
}

func (s *selectiveFailGraphStore) AddEpisode(ctx context.Context, t tenant.ID, episodeID, content, source string, referenceTime time.Time, metadata map[string]any) (graphstore.Episode, error) {
	if s.failOn[content] {
		return graphstore.Episode{}, errors.New("graph backend unavailable")
	}
	return s.Store.AddEpisode(ctx, t, episodeID, content, source, referenceTime, metadata)
}

func newTestPipeline(t *testing.T) (*Pipeline, chunkstore.Store, graphstore.Store, tracker.Tracker) {
	t.Helper()
	vocab, err := entity.DefaultVocabulary()
	require.NoError(t, err)

	cs := chunkstore.NewMemoryStore()
	gs := graphstore.NewMemoryStore()
	trk := tracker.NewMemoryTracker()

	p := &Pipeline{
		Tracker:    trk,
		ChunkStore: cs,
		GraphStore: gs,
		Embedder:   embedding.NewClient(config.EmbeddingConfig{Offline: true, Dimension: 8}),
		Extractor:  entity.NewExtractor(vocab),
		ChunkerCfg: chunker.Config{ChunkSize: 200, ChunkOverlap: 20, MaxChunkSize: 400, MinChunkSize: 10, UseSemanticSplitting: true},
		Cfg:        Config{MaxWorkers: 2, StreamingThresholdByte: 5 << 20, MaxSectionSize: 2000},
	}
	return p, cs, gs, trk
}

func writeDocs(t *testing.T, root string) {
	t.Helper()
	dir := filepath.Join(root, "master", "ginocchio")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	bodies := []string{
		"Knee anatomy overview.\n\nThe knee joint connects the femur and tibia. The spleen is unrelated anatomy mentioned for extraction testing.\n\nRehabilitation exercises follow a graded protocol after splenectomy recovery.",
		"Ankle sprain management.\n\nAnkle sprains are common sports injuries affecting the talus and surrounding ligaments.\n\nTreatment includes rest, ice, compression, and elevation.",
		"Lower back pain.\n\nLumbar strain is a frequent presenting complaint.\n\nPhysical therapy and core strengthening are first-line treatments.",
	}
	for i, body := range bodies {
		name := filepath.Join(dir, filepathPrefix(i)+"_doc.txt")
		require.NoError(t, os.WriteFile(name, []byte(body), 0o644))
	}
}

func filepathPrefix(i int) string {
	return [...]string{"01", "02", "03"}[i]
}

func TestIngestDirectory_IsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeDocs(t, root)

	p, cs, _, trk := newTestPipeline(t)
	tid := tenant.New()
	ctx := context.Background()

	results, err := p.IngestDirectory(ctx, tid, root)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.Success, r.Errors)
	}

	docsAfterFirst, err := cs.ListDocuments(ctx, tid, 100, 0)
	require.NoError(t, err)
	require.Len(t, docsAfterFirst, 3)

	report, err := trk.IngestionReport(ctx, tid.String())
	require.NoError(t, err)
	require.Equal(t, 3, report.ByState[tracker.StateCompleted])

	// Re-run with no changes: zero additional work, still all completed
	// (spec §8 "Ingest(file)=Ingest(Ingest(file))").
	results2, err := p.IngestDirectory(ctx, tid, root)
	require.NoError(t, err)
	for _, r := range results2 {
		require.True(t, r.Skipped, "expected unchanged file to be skipped on re-run")
	}

	docsAfterSecond, err := cs.ListDocuments(ctx, tid, 100, 0)
	require.NoError(t, err)
	require.Len(t, docsAfterSecond, 3)

	report2, err := trk.IngestionReport(ctx, tid.String())
	require.NoError(t, err)
	require.Equal(t, 3, report2.ByState[tracker.StateCompleted])
}

func TestIngestDirectory_BuildsGraphEntitiesAndEpisodes(t *testing.T) {
	root := t.TempDir()
	writeDocs(t, root)

	p, _, gs, _ := newTestPipeline(t)
	tid := tenant.New()
	ctx := context.Background()

	results, err := p.IngestDirectory(ctx, tid, root)
	require.NoError(t, err)
	total := 0
	for _, r := range results {
		total += r.EntitiesExtracted
	}
	require.Positive(t, total, "expected at least one entity extracted across documents")

	facts, err := gs.Search(ctx, tid, "knee", 10)
	require.NoError(t, err)
	require.NotEmpty(t, facts)
}

// TestBuildGraph_FailureMarksOwningSectionFailed covers spec §4.9 step 8:
// a graph-store write failure for one section's chunk must not abort the
// other section, and must leave the tracker able to report exactly the
// section that failed (§4.10 GetFailedSections, §8 scenario 4).
func TestBuildGraph_FailureMarksOwningSectionFailed(t *testing.T) {
	p, _, _, trk := newTestPipeline(t)
	tid := tenant.New()
	ctx := context.Background()
	log := observability.LoggerWithTrace(ctx)

	status, err := trk.CreateOrUpdateStatus(ctx, tracker.IngestionStatus{TenantID: tid.String(), FilePath: "f.txt"})
	require.NoError(t, err)
	sec1, err := trk.TrackSection(ctx, status.ID, 0, "paragraph", "section one", nil)
	require.NoError(t, err)
	sec2, err := trk.TrackSection(ctx, status.ID, 1, "paragraph", "section two", nil)
	require.NoError(t, err)

	p.GraphStore = &selectiveFailGraphStore{Store: p.GraphStore, failOn: map[string]bool{"chunk from section two": true}}

	chunks := []chunker.Chunk{
		{Index: 0, Content: "chunk from section one"},
		{Index: 1, Content: "chunk from section two"},
	}
	chunkSectionIDs := []string{sec1.ID, sec2.ID}

	episodesCreated := p.buildGraph(ctx, tid, chunkstore.Document{ID: "doc-1"}, chunks, nil, chunkSectionIDs, nil, "title", "source", log)
	require.Equal(t, 1, episodesCreated, "section one's episode should still be written when section two's write fails")

	failed, err := trk.GetFailedSections(ctx, status.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, sec2.ID, failed[0].ID)
	require.NotEmpty(t, failed[0].ErrorMessage)
}

// TestBuildGraph_ResumeOnlyRewritesFailedSections covers the other half of
// the same invariant: once a section is known-failed, a resume run must
// skip re-writing episodes for sections that already succeeded, since
// AddEpisode has no dedupe and would double-count them.
func TestBuildGraph_ResumeOnlyRewritesFailedSections(t *testing.T) {
	p, _, gs, trk := newTestPipeline(t)
	tid := tenant.New()
	ctx := context.Background()
	log := observability.LoggerWithTrace(ctx)

	status, err := trk.CreateOrUpdateStatus(ctx, tracker.IngestionStatus{TenantID: tid.String(), FilePath: "f.txt"})
	require.NoError(t, err)
	sec1, err := trk.TrackSection(ctx, status.ID, 0, "paragraph", "section one", nil)
	require.NoError(t, err)
	sec2, err := trk.TrackSection(ctx, status.ID, 1, "paragraph", "section two", nil)
	require.NoError(t, err)
	require.NoError(t, trk.UpdateSectionStatus(ctx, sec1.ID, tracker.SectionPatch{State: tracker.StateCompleted}))
	require.NoError(t, trk.UpdateSectionStatus(ctx, sec2.ID, tracker.SectionPatch{State: tracker.StateCompleted}))

	chunks := []chunker.Chunk{
		{Index: 0, Content: "chunk from section one"},
		{Index: 1, Content: "chunk from section two"},
	}
	chunkSectionIDs := []string{sec1.ID, sec2.ID}
	resumeOnly := map[string]bool{sec2.ID: true}

	episodesCreated := p.buildGraph(ctx, tid, chunkstore.Document{ID: "doc-1"}, chunks, nil, chunkSectionIDs, resumeOnly, "title", "source", log)
	require.Equal(t, 1, episodesCreated, "only the previously-failed section should be re-written")

	facts, err := gs.Search(ctx, tid, "section one", 10)
	require.NoError(t, err)
	require.Empty(t, facts, "section one's episode must not be duplicated on resume")

	facts2, err := gs.Search(ctx, tid, "section two", 10)
	require.NoError(t, err)
	require.NotEmpty(t, facts2, "section two should have been (re)written")
}
