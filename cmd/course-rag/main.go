package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/course-rag/rag/api"
	"github.com/ZanzyTHEbar/course-rag/rag/assistant"
	"github.com/ZanzyTHEbar/course-rag/rag/config"
	"github.com/ZanzyTHEbar/course-rag/rag/db"
	"github.com/ZanzyTHEbar/course-rag/rag/generation/harness"
	"github.com/ZanzyTHEbar/course-rag/rag/generation/harness/adapters"
	"github.com/ZanzyTHEbar/course-rag/rag/generation/harness/tools"
	"github.com/ZanzyTHEbar/course-rag/rag/generation/models"
	"github.com/ZanzyTHEbar/course-rag/rag/logging"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	seedPath := flag.String("seed", "", "JSON course file to load into the index store before serving")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *seedPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("course-rag stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, seedPath string, logger zerolog.Logger) error {
	conn, err := db.ConnectToDB(cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.Migrate(ctx, conn)
	if err != nil {
		return err
	}
	logger.Info().Ints64("applied", applied).Msg("database migrated")

	repo, closeRepo, err := openRepository(ctx, cfg, conn)
	if err != nil {
		return err
	}
	defer closeRepo()

	if seedPath != "" {
		courses, err := service.ReadCourseFile(seedPath)
		if err != nil {
			return err
		}
		n, err := service.SeedCourses(ctx, repo, courses)
		if err != nil {
			return err
		}
		logger.Info().Int("courses", len(courses)).Int("chunks", n).Msg("seeded courses")
	}

	embedder, err := models.NewEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	provider, err := models.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	var cache service.EmbeddingCache
	if cfg.Index.QueryCacheCapacity > 0 {
		cache = adapters.NewLRUCache[[]float64](cfg.Index.QueryCacheCapacity)
	}
	index := service.NewIndex(embedder, cache, service.IndexOptions{
		MaxResults:             cfg.Index.MaxResults,
		CourseMatchMaxDistance: cfg.Index.CourseMatchMaxDistance,
		EmbedBatchSize:         cfg.Index.EmbedBatchSize,
		EmbedConcurrency:       cfg.Index.EmbedConcurrency,
		QueryCacheTTLSeconds:   cfg.Index.QueryCacheTTLSeconds,
	}, logger)
	if err := index.Load(ctx, repo); err != nil {
		return err
	}

	factory := harness.NewFactory(cfg, conn, logger)
	orchestrator, err := factory.CreateOrchestrator(provider, models.NewTiktokenEstimator(cfg.LLM.Model, logger).Count)
	if err != nil {
		return err
	}
	store, err := factory.CreateStore()
	if err != nil {
		return err
	}

	svc := assistant.New(orchestrator, store, index, logger, tools.NewCourseSearchTool(index))
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(svc, logger, cfg.Server.QueryTimeout).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Int("courses", index.CourseCount()).Msg("course-rag listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRepository picks the chunk store named by index.backend.
func openRepository(ctx context.Context, cfg *config.Config, conn *sql.DB) (service.ChunkRepository, func(), error) {
	switch cfg.Index.Backend {
	case "postgres":
		repo, err := service.NewPostgresChunkRepository(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return service.NewLibSQLChunkRepository(conn), func() {}, nil
	}
}
