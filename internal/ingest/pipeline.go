package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"sinew/internal/chunker"
	"sinew/internal/ingest/reader"
	"sinew/internal/observability"
	"sinew/internal/sinewerr"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
	"sinew/internal/tracker"
)

// IngestDirectory scans root for documents and ingests every file the
// tracker decides needs work, with bounded file-level parallelism
// (spec §4.9 "concurrency"). Sections within a single file are always
// processed sequentially; only different files run concurrently.
func (p *Pipeline) IngestDirectory(ctx context.Context, t tenant.ID, root string) ([]Result, error) {
	scans, err := p.Tracker.Scan(ctx, t.String(), root)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(scans))
	workers := p.Cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, scan := range scans {
		i, scan := i, scan
		if scan.Action == tracker.ActionSkip {
			results[i] = Result{FilePath: scan.FilePath, Skipped: true, SkipReason: scan.Reason}
			continue
		}
		g.Go(func() error {
			results[i] = p.ingestFile(gctx, t, root, scan)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// ingestFile runs one file through cleanup→process→embed+persist→graph-
// build→finalize (spec §4.9). Failures are captured on the Result and the
// tracker status rather than propagated, so one bad file never aborts a
// directory-wide ingestion run.
func (p *Pipeline) ingestFile(ctx context.Context, t tenant.ID, root string, scan tracker.ScanResult) Result {
	start := time.Now()
	log := observability.LoggerWithTrace(ctx)
	res := Result{FilePath: scan.FilePath}

	fileCtx, cancel := context.WithTimeout(ctx, 2*time.Hour)
	defer cancel()

	status, err := p.Tracker.CreateOrUpdateStatus(fileCtx, tracker.IngestionStatus{
		TenantID: t.String(), FilePath: scan.FilePath, ContentHash: scan.ContentHash,
		Size: scan.Size, ModifiedAt: scan.ModifiedAt, Category: scan.Category, Order: scan.Order,
		State: tracker.StateProcessing,
	})
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	// A partial file's decide action is still cleanup_and_reingest (spec
	// §4.9 step 2) — chunks and documents always get wiped and rebuilt, since
	// chunkstore.InsertDocument replaces a document's chunks wholesale rather
	// than appending. But when the previous state was specifically `partial`
	// rather than `failed`, its SectionStatus rows survive the cleanup (spec
	// §4.9 step 4 only names chunks/documents), so GetFailedSections still
	// names exactly the sections that failed last time; only those sections'
	// graph writes are retried (spec §4.9 step 8, §8 scenario 4). A fully
	// `failed` file has no such per-section signal to trust, so it gets a
	// clean slate: every chunk's graph write runs again.
	var resumeOnly map[string]bool
	resuming := scan.Action == tracker.ActionCleanupAndReingest && scan.Existing != nil && scan.Existing.State == tracker.StatePartial
	if resuming {
		if failedSecs, ferr := p.Tracker.GetFailedSections(fileCtx, status.ID); ferr == nil {
			resumeOnly = make(map[string]bool, len(failedSecs))
			for _, s := range failedSecs {
				resumeOnly[s.ID] = true
			}
		}
	}

	if scan.Action == tracker.ActionCleanupAndReingest {
		if err := p.Tracker.CleanupIncomplete(fileCtx, t.String(), scan.FilePath); err != nil {
			log.Warn().Err(err).Str("file_path", scan.FilePath).Msg("ingest: cleanup before reingest failed")
		}
	}

	title, chunks, entitiesByChunk, chunkSectionIDs, procErr := p.process(fileCtx, status.ID, root, scan)
	if procErr != nil {
		res.Errors = append(res.Errors, procErr.Error())
		failed := tracker.StateFailed
		msg := procErr.Error()
		_ = p.Tracker.UpdateStatus(fileCtx, status.ID, tracker.StatusPatch{State: &failed, ErrorMessage: &msg})
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		return res
	}

	if len(chunks) == 0 {
		res.Errors = append(res.Errors, "no chunks created")
		failed := tracker.StateFailed
		msg := "no chunks created"
		_ = p.Tracker.UpdateStatus(fileCtx, status.ID, tracker.StatusPatch{State: &failed, ErrorMessage: &msg})
		return res
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.Embedder.EmbedBatch(fileCtx, texts)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		failed := tracker.StateFailed
		msg := err.Error()
		_ = p.Tracker.UpdateStatus(fileCtx, status.ID, tracker.StatusPatch{State: &failed, ErrorMessage: &msg})
		return res
	}

	storeChunks := make([]chunkstore.Chunk, len(chunks))
	source := relSource(root, scan.FilePath)
	var fullContent string
	for i, c := range chunks {
		storeChunks[i] = chunkstore.Chunk{
			Index: c.Index, Content: c.Content, StartChar: c.StartChar, EndChar: c.EndChar,
			Metadata: c.Metadata, Embedding: vectors[i], TokenCount: c.TokenCount,
		}
		fullContent += c.Content + "\n"
	}

	doc, err := p.ChunkStore.InsertDocument(fileCtx, t, chunkstore.Document{
		Title: title, Source: source, Content: fullContent,
		Metadata: map[string]any{"category": scan.Category, "order": scan.Order},
	}, storeChunks)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		failed := tracker.StateFailed
		msg := err.Error()
		_ = p.Tracker.UpdateStatus(fileCtx, status.ID, tracker.StatusPatch{State: &failed, ErrorMessage: &msg})
		return res
	}

	entitiesExtracted := 0
	for _, es := range entitiesByChunk {
		entitiesExtracted += len(es)
	}

	episodesCreated := 0
	if !p.Cfg.SkipGraphBuilding && p.GraphStore != nil {
		episodesCreated = p.buildGraph(fileCtx, t, doc, chunks, entitiesByChunk, chunkSectionIDs, resumeOnly, title, source, log)
		if resumeOnly != nil && scan.Existing != nil {
			// Sections that were already complete before this resume kept
			// their episodes; buildGraph only counted the ones it retried.
			episodesCreated += scan.Existing.EpisodesCreated
		}
	}

	res.Success = true
	res.DocumentID = doc.ID
	res.Title = title
	res.ChunksCreated = len(chunks)
	res.EntitiesExtracted = entitiesExtracted
	res.EpisodesCreated = episodesCreated
	res.ProcessingTimeMS = time.Since(start).Milliseconds()

	finalState := tracker.StateCompleted
	if !p.Cfg.SkipGraphBuilding && p.GraphStore != nil {
		if stillFailed, ferr := p.Tracker.GetFailedSections(fileCtx, status.ID); ferr == nil && len(stillFailed) > 0 {
			finalState = tracker.StatePartial
			for _, s := range stillFailed {
				res.Errors = append(res.Errors, fmt.Sprintf("section %d: %s", s.SectionPosition, s.ErrorMessage))
			}
		}
	}
	chunksCreated := len(chunks)
	_ = p.Tracker.UpdateStatus(fileCtx, status.ID, tracker.StatusPatch{
		State: &finalState, ChunksCreated: &chunksCreated, EntitiesExtracted: &entitiesExtracted, EpisodesCreated: &episodesCreated,
	})
	return res
}

// process reads the file and splits it into chunks, using the streaming
// per-section path for files over the configured byte threshold and the
// standard whole-document path otherwise (spec §4.9 "Process"). It also
// returns a chunkSectionIDs slice parallel to chunks recording which tracked
// section (if any) each chunk came from — nil for the non-streaming path,
// which does not track sections individually.
func (p *Pipeline) process(ctx context.Context, statusID, root string, scan tracker.ScanResult) (string, []chunker.Chunk, [][]entityHit, []string, error) {
	if scan.Size > p.Cfg.StreamingThresholdByte {
		return p.processStreaming(ctx, statusID, scan.FilePath)
	}
	title, chunks, entities, err := p.processStandard(scan.FilePath)
	return title, chunks, entities, nil, err
}

func (p *Pipeline) processStandard(path string) (string, []chunker.Chunk, [][]entityHit, error) {
	doc, err := reader.Read(path)
	if err != nil {
		return "", nil, nil, err
	}
	content := reader.Compress(doc.Content)
	chunks, err := chunker.Run(content, p.ChunkerCfg, map[string]any{"title": doc.Title})
	if err != nil {
		return "", nil, nil, err
	}
	return doc.Title, chunks, p.extract(chunks), nil
}

// entityHit is a lightweight alias kept local to avoid importing the entity
// package's full Entity type into this file's other helpers.
type entityHit = entityExtracted

func (p *Pipeline) extract(chunks []chunker.Chunk) [][]entityHit {
	out := make([][]entityHit, len(chunks))
	if p.Extractor == nil {
		return out
	}
	for i, c := range chunks {
		for _, e := range p.Extractor.Extract(c.Content, fmt.Sprintf("%d", c.Index)) {
			out[i] = append(out[i], entityExtracted{Name: e.Name, Kind: string(e.Kind), Confidence: e.Confidence})
		}
	}
	return out
}

type entityExtracted struct {
	Name       string
	Kind       string
	Confidence float64
}

// processStreaming walks a large document section by section, tracking
// each one individually (spec §4.9 "streaming path"). Oversized sections
// are hard-split at MaxSectionSize before being handed to the chunker.
func (p *Pipeline) processStreaming(ctx context.Context, statusID, path string) (string, []chunker.Chunk, [][]entityHit, []string, error) {
	doc, err := reader.Read(path)
	if err != nil {
		return "", nil, nil, nil, err
	}
	sections, err := reader.Sections(path)
	if err != nil {
		return "", nil, nil, nil, err
	}

	var allChunks []chunker.Chunk
	var allEntities [][]entityHit
	var chunkSectionIDs []string
	offset := 0
	for _, sec := range sections {
		secCtx, cancel := context.WithTimeout(ctx, p.Cfg.SectionSoftTimeout)
		content := reader.Compress(sec.Content)
		maxSize := p.Cfg.MaxSectionSize
		if maxSize <= 0 {
			maxSize = 2000
		}
		parts := splitOversized(content, maxSize)

		tracked, trackErr := p.Tracker.TrackSection(secCtx, statusID, sec.Position, sec.Type, content, nil)
		cancel()
		if trackErr != nil {
			continue
		}

		processingState := tracker.StateProcessing
		_ = p.Tracker.UpdateSectionStatus(ctx, tracked.ID, tracker.SectionPatch{State: processingState})

		var secChunks []chunker.Chunk
		for _, part := range parts {
			cs, err := chunker.Run(part, p.ChunkerCfg, map[string]any{"title": doc.Title, "section_type": sec.Type})
			if err != nil {
				continue
			}
			for i := range cs {
				cs[i].Index = len(allChunks) + len(secChunks)
				cs[i].StartChar += offset
				cs[i].EndChar += offset
			}
			secChunks = append(secChunks, cs...)
		}
		offset += len(content)

		entitiesForSec := p.extract(secChunks)
		entCount := 0
		for _, es := range entitiesForSec {
			entCount += len(es)
		}
		chunksCreated := len(secChunks)
		completedState := tracker.StateCompleted
		_ = p.Tracker.UpdateSectionStatus(ctx, tracked.ID, tracker.SectionPatch{
			State: completedState, ChunksCreated: chunksCreated, EntitiesExtracted: entCount,
		})

		allChunks = append(allChunks, secChunks...)
		allEntities = append(allEntities, entitiesForSec...)
		for range secChunks {
			chunkSectionIDs = append(chunkSectionIDs, tracked.ID)
		}
	}
	return doc.Title, allChunks, allEntities, chunkSectionIDs, nil
}

// splitOversized hard-splits content into windows no larger than maxSize,
// used when a single section survives compression still too large to
// chunk as one unit (spec §4.9 "streaming path").
func splitOversized(content string, maxSize int) []string {
	if len(content) <= maxSize {
		return []string{content}
	}
	var parts []string
	for i := 0; i < len(content); i += maxSize {
		end := i + maxSize
		if end > len(content) {
			end = len(content)
		}
		parts = append(parts, content[i:end])
	}
	return parts
}

// buildGraph writes one episode per chunk plus the entities/co-occurrences
// extracted from it, pausing GraphWriteDelay between episodes to avoid
// overwhelming the graph backend (spec §4.9 "Graph build", grounded on the
// original pipeline's per-episode rate-limit courtesy delay).
//
// chunkSectionIDs, when non-nil, maps each chunk back to the tracked section
// it belongs to (spec §4.9 step 8, §8 scenario 4). When resumeOnly is
// non-nil, only chunks whose section is in that set are written: the rest
// already have episodes from a prior run, and AddEpisode has no way to
// detect or skip a duplicate, so re-running it for an already-successful
// section would double its graph facts. A write failure marks its owning
// section failed in the tracker so the next scan resumes just that section.
func (p *Pipeline) buildGraph(ctx context.Context, t tenant.ID, doc chunkstore.Document, chunks []chunker.Chunk, entitiesByChunk [][]entityHit, chunkSectionIDs []string, resumeOnly map[string]bool, title, source string, log *zerolog.Logger) int {
	episodesCreated := 0
	for i, c := range chunks {
		var sectionID string
		if i < len(chunkSectionIDs) {
			sectionID = chunkSectionIDs[i]
		}
		if resumeOnly != nil && sectionID != "" && !resumeOnly[sectionID] {
			continue
		}

		episodeID := fmt.Sprintf("%s_%d_%s", doc.ID, c.Index, uuid.NewString())
		_, err := p.GraphStore.AddEpisode(ctx, t, episodeID, c.Content,
			fmt.Sprintf("Document: %s (Chunk: %d)", title, c.Index), time.Now().UTC(),
			map[string]any{"document_title": title, "document_source": source, "chunk_index": c.Index})
		if err != nil {
			if sectionID != "" {
				_ = p.Tracker.UpdateSectionStatus(ctx, sectionID, tracker.SectionPatch{State: tracker.StateFailed, ErrorMessage: err.Error()})
			}
			if _, ok := sinewerr.KindOf(err); !ok {
				log.Warn().Err(err).Int("chunk_index", c.Index).Msg("ingest: add_episode failed")
			}
			continue
		}
		episodesCreated++

		if i < len(entitiesByChunk) && len(entitiesByChunk[i]) > 0 {
			if entErr := p.storeChunkEntities(ctx, t, entitiesByChunk[i], title, episodeID, log); entErr != nil && sectionID != "" {
				_ = p.Tracker.UpdateSectionStatus(ctx, sectionID, tracker.SectionPatch{State: tracker.StateFailed, ErrorMessage: entErr.Error()})
			}
		}

		if p.Cfg.GraphWriteDelay > 0 && i < len(chunks)-1 {
			select {
			case <-time.After(p.Cfg.GraphWriteDelay):
			case <-ctx.Done():
				return episodesCreated
			}
		}
	}
	return episodesCreated
}

// storeChunkEntities persists a chunk's extracted entities and their
// co-occurrence/mention edges, returning the first error encountered so the
// caller can mark the chunk's owning section failed (spec §4.9 step 8). The
// co-occurrence/mention writes still run best-effort even after a
// StoreEntities failure, since they're independent graph edges rather than a
// retry of the same write.
func (p *Pipeline) storeChunkEntities(ctx context.Context, t tenant.ID, hits []entityHit, documentTitle, episodeID string, log *zerolog.Logger) error {
	var names []string
	entities := make([]graphstore.Entity, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.Name)
		entities = append(entities, graphstore.Entity{Name: h.Name, Kind: h.Kind, Confidence: h.Confidence})
	}
	var firstErr error
	if _, err := p.GraphStore.StoreEntities(ctx, t, entities, documentTitle); err != nil {
		log.Warn().Err(err).Msg("ingest: store_entities failed")
		firstErr = err
	}
	if err := p.GraphStore.CreateCooccurrence(ctx, t, names); err != nil {
		log.Warn().Err(err).Msg("ingest: create_cooccurrence failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := p.GraphStore.CreateMentionedIn(ctx, t, names, episodeID); err != nil {
		log.Warn().Err(err).Msg("ingest: create_mentioned_in failed")
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// relSource returns path relative to root for tagging a document's `source`
// field, falling back to the absolute path if it cannot be made relative.
func relSource(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
