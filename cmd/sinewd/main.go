package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sinew/internal/agentrt"
	"sinew/internal/cache"
	"sinew/internal/chunker"
	"sinew/internal/config"
	"sinew/internal/embedding"
	"sinew/internal/entity"
	"sinew/internal/httpapi"
	"sinew/internal/ingest"
	"sinew/internal/llm/providers"
	"sinew/internal/observability"
	"sinew/internal/retrieval"
	"sinew/internal/store/chunkstore"
	"sinew/internal/store/graphstore"
	"sinew/internal/tenant"
	"sinew/internal/tracker"
)

func main() {
	ingestDir := flag.String("ingest", "", "path to a directory to ingest, then exit (instead of serving HTTP)")
	ingestTenant := flag.String("tenant", "", "tenant id for -ingest")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("sinewd.log", "info")
	logger := &log.Logger

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without tracing/metrics export")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	chunkStore, graphStore, closeStores, err := buildStores(context.Background(), cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage backends")
	}
	defer closeStores()

	embedder := embedding.NewClient(cfg.Embedding)

	if *ingestDir != "" {
		runIngest(context.Background(), cfg, chunkStore, graphStore, embedder, *ingestDir, *ingestTenant)
		return
	}

	c, err := cache.New(cfg.Cache.RedisURL, logger, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init cache")
	}

	var metrics observability.Metrics = observability.NoopMetrics{}
	if cfg.Metrics.Enabled {
		metrics = observability.NewOTelMetrics()
	}

	registry := retrieval.NewRegistry(chunkStore, graphStore, c, embedder, metrics, logger)

	httpClient := observability.NewHTTPClient(nil)
	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init LLM provider")
	}

	runtime := agentrt.New(chunkStore, registry, provider, modelFor(cfg), cfg.Agent, metrics, logger)
	server := httpapi.NewServer(chunkStore, graphStore, c, registry, runtime, metrics, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server}

	go func() {
		log.Info().Str("addr", addr).Msg("sinewd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

// modelFor selects the model name for the configured LLM provider, since
// agentrt.Runtime takes one model string regardless of provider.
func modelFor(cfg config.Config) string {
	switch cfg.LLMClient.Provider {
	case "openai", "local":
		return cfg.LLMClient.OpenAI.Model
	case "google":
		return cfg.LLMClient.Google.Model
	default:
		return cfg.LLMClient.Anthropic.Model
	}
}

// buildStores constructs the C3/C4 backends: Postgres+pgvector/Qdrant and
// Neo4j when configured, falling back to the in-memory doubles otherwise
// (development and offline local runs, per spec §6.3).
func buildStores(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (chunkstore.Store, graphstore.Store, func(), error) {
	var chunkStore chunkstore.Store
	var graphStore graphstore.Store
	var closers []func()

	if cfg.ChunkStore.DatabaseURL != "" {
		pg, err := chunkstore.NewPostgresStore(ctx, cfg.ChunkStore.DatabaseURL, cfg.Embedding.Dimension, nil, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		var vb chunkstore.VectorBackend
		if cfg.ChunkStore.VectorBackend == "qdrant" {
			vb, err = chunkstore.NewQdrantBackend(cfg.ChunkStore.DatabaseURL, cfg.ChunkStore.QdrantCollection, cfg.Embedding.Dimension, cfg.ChunkStore.VectorMetric)
			if err != nil {
				return nil, nil, nil, err
			}
		} else {
			vb = chunkstore.NewPgvectorBackend(pg.Pool(), cfg.ChunkStore.VectorMetric)
		}
		pg.SetVectorBackend(vb)
		chunkStore = pg
		closers = append(closers, pg.Close)
	} else {
		chunkStore = chunkstore.NewMemoryStore()
	}

	if cfg.GraphStore.URI != "" {
		neo, err := graphstore.NewNeo4jStore(cfg.GraphStore.URI, cfg.GraphStore.User, cfg.GraphStore.Password)
		if err != nil {
			return nil, nil, nil, err
		}
		graphStore = neo
		closers = append(closers, func() { _ = neo.Close(context.Background()) })
	} else {
		graphStore = graphstore.NewMemoryStore()
	}

	return chunkStore, graphStore, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

// runIngest drives C9/C10 over a directory outside the HTTP surface: the
// spec's ingestion pipeline is triggered out of band (spec §4.9), not
// through a request handler. A Postgres-backed chunk store gets the
// persistent tracker; anything else (the in-memory double) gets the
// in-memory tracker to match.
func runIngest(ctx context.Context, cfg config.Config, chunkStore chunkstore.Store, graphStore graphstore.Store, embedder *embedding.Client, dir, tenantStr string) {
	t, err := tenant.Validate(tenantStr)
	if err != nil {
		log.Fatal().Err(err).Msg("-tenant is required and must be a valid UUID for -ingest")
	}

	vocab, err := entity.DefaultVocabulary()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load entity vocabulary")
	}

	var trk tracker.Tracker
	if pg, ok := chunkStore.(*chunkstore.PostgresStore); ok {
		trk = tracker.NewPostgresTracker(pg.Pool())
	} else {
		trk = tracker.NewMemoryTracker()
	}

	pipeline := &ingest.Pipeline{
		Tracker:    trk,
		ChunkStore: chunkStore,
		GraphStore: graphStore,
		Embedder:   embedder,
		Extractor:  entity.NewExtractor(vocab),
		ChunkerCfg: chunker.DefaultConfig(),
		Cfg: ingest.Config{
			MaxWorkers:             cfg.Ingest.MaxWorkers,
			StreamingThresholdByte: cfg.Ingest.StreamingThresholdByte,
			MaxSectionSize:         cfg.Ingest.MaxSectionSize,
			SectionSoftTimeout:     cfg.Ingest.SectionSoftTimeout,
			SkipGraphBuilding:      cfg.Ingest.SkipGraphBuilding,
			GraphWriteDelay:        cfg.GraphStore.GraphWriteDelay,
		},
	}

	results, err := pipeline.IngestDirectory(ctx, t, dir)
	if err != nil {
		log.Fatal().Err(err).Msg("ingestion failed")
	}
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	log.Info().Int("total", len(results)).Int("succeeded", ok).Msg("ingestion complete")
}
