package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chartline-health/chartline/pkg/audit"
	"github.com/chartline-health/chartline/pkg/common/config"
	"github.com/chartline-health/chartline/pkg/common/database"
	"github.com/chartline-health/chartline/pkg/common/logger"
	"github.com/chartline-health/chartline/pkg/embedding"
	"github.com/chartline-health/chartline/pkg/extraction"
	"github.com/chartline-health/chartline/pkg/index"
	"github.com/chartline-health/chartline/pkg/notecache"
	"github.com/chartline-health/chartline/pkg/pipeline"
	"github.com/chartline-health/chartline/pkg/retrieval"
	"github.com/chartline-health/chartline/pkg/server"
	"github.com/chartline-health/chartline/pkg/synthesis"
	"github.com/chartline-health/chartline/pkg/timeline"
)

func main() {
	_ = godotenv.Load()
	logger.Init("chartd")
	cfg := config.Load()

	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to build pipeline")
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      server.New(p, cfg.MaxRequestBody).Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Clinical documentation service started")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down clinical documentation service...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	if err := p.Close(); err != nil {
		logger.Log.WithError(err).Error("Failed to flush embedding index")
	}

	logger.Log.Info("Clinical documentation service stopped")
}

func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	vocab, err := extraction.LoadVocabulary(cfg.ModelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load vocabulary: %w", err)
	}
	extractor := extraction.NewExtractor(extraction.NewRuleModel(vocab), cfg.AcceptThreshold)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	indexes := index.NewManager(cfg.StorageDir)
	retriever := retrieval.New(embedder, indexes, store, cfg.RetrievalK, cfg.RetrievalMinSimilarity)

	denylist, err := synthesis.LoadDenylist(cfg.DenylistPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load denylist: %w", err)
	}
	scanner, err := synthesis.NewSafetyScanner(denylist)
	if err != nil {
		return nil, nil, fmt.Errorf("compile denylist: %w", err)
	}
	synthesizer := synthesis.New(scanner, synthesis.SupersededPolicy(cfg.NoteSupersededPolicy))

	publisher := audit.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)

	var cache pipeline.NoteCache
	if cfg.RedisHost != "" {
		cache = notecache.New(database.GetRedis(), cfg.NoteCacheTTL)
	}

	p := pipeline.New(extractor, embedder, indexes, store, retriever, synthesizer, publisher, cache, pipeline.Options{
		ExtractionTimeout: cfg.ExtractionTimeout,
		SynthesisWindow:   cfg.SynthesisWindow,
	})

	cleanup := func() {
		if err := publisher.Close(); err != nil {
			logger.Log.WithError(err).Error("Failed to close audit publisher")
		}
		if cfg.RedisHost != "" {
			_ = database.CloseRedis()
		}
		if cfg.TimelineBackend == "postgres" {
			_ = database.ClosePostgres()
		}
	}

	return p, cleanup, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedder {
	case "ollama":
		client := embedding.NewOllamaClient(cfg.OllamaHost, cfg.OllamaEmbedModel, cfg.EmbeddingDim)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !client.Healthy(ctx) {
			logger.Log.Warn("Ollama server unreachable at startup; embeds will fail until it comes up")
		}
		return client, nil
	case "local", "":
		return embedding.NewLocal(cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}

func buildStore(cfg *config.Config) (timeline.Store, error) {
	switch cfg.TimelineBackend {
	case "postgres":
		db, err := database.GetPostgres()
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return timeline.NewPostgresStore(db)
	case "file", "":
		return timeline.NewFileStore(cfg.StorageDir)
	default:
		return nil, fmt.Errorf("unknown timeline backend %q", cfg.TimelineBackend)
	}
}
