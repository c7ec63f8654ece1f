// Package ingest implements C9: the per-document ingestion pipeline that
// turns a file on disk into chunks, embeddings, persisted rows, and graph
// episodes/entities, driven by the C10 tracker's scan/decide/cleanup
// lifecycle (spec §4.9).
package ingest

import (
	"time"

	"sinew/internal/chunker"
	"sinew/internal/embedding"
	"sinew/internal/entity"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
	"sinew/internal/tracker"
)

// Config tunes the pipeline's streaming threshold, section size, and
// timeouts (spec §4.9, mirrored by config.IngestConfig).
type Config struct {
	MaxWorkers             int
	StreamingThresholdByte int64
	MaxSectionSize         int
	SectionSoftTimeout     time.Duration
	SkipGraphBuilding      bool
	GraphWriteDelay        time.Duration
}

// Result reports the outcome of ingesting a single file (spec §4.9).
type Result struct {
	FilePath           string
	DocumentID         string
	Title              string
	Success            bool
	Skipped            bool
	SkipReason         string
	ChunksCreated      int
	EntitiesExtracted  int
	EpisodesCreated    int
	ProcessingTimeMS   int64
	Errors             []string
}

// Pipeline wires C7 (chunker), C2 (embedding), C3 (chunk store), C4 (graph
// store), C8 (entity extractor), and C10 (tracker) into the staged
// ingestion sequence (spec §4.9): scan, decide, transition, cleanup,
// process, embed+persist, graph-build, finalize.
type Pipeline struct {
	Tracker    tracker.Tracker
	ChunkStore chunkstore.Store
	GraphStore graphstore.Store
	Embedder   *embedding.Client
	Extractor  *entity.Extractor
	ChunkerCfg chunker.Config
	Cfg        Config
}
