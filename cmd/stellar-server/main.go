// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/joho/godotenv"

	"github.com/northbound/stellar/internal/config"
	"github.com/northbound/stellar/internal/documents"
	"github.com/northbound/stellar/internal/embeddings"
	"github.com/northbound/stellar/internal/extract"
	"github.com/northbound/stellar/internal/jobstore"
	"github.com/northbound/stellar/internal/llm"
	"github.com/northbound/stellar/internal/logger"
	"github.com/northbound/stellar/internal/processor"
	"github.com/northbound/stellar/internal/server"
	"github.com/northbound/stellar/internal/vectorindex"
	"github.com/northbound/stellar/internal/worker"
)

func main() {
	logFile := "stellar-server.log"
	lg, err := logger.Init(logFile)
	if err != nil {
		log.Printf("failed to initialize logger: %v, using stdout only", err)
	} else {
		lg.Printf("logger initialized, writing to %s", logFile)
	}

	if err := godotenv.Load(); err != nil {
		lg.Printf("no .env file found, using environment variables: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		lg.Fatalf("loading config: %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		lg.Fatalf("preparing data directories: %v", err)
	}

	jobs, err := jobstore.Open(cfg.DocumentsDBPath())
	if err != nil {
		lg.Fatalf("opening job store: %v", err)
	}
	defer jobs.Close()

	docs, err := documents.Open(cfg.DocumentsDBPath())
	if err != nil {
		lg.Fatalf("opening document store: %v", err)
	}
	defer docs.Close()

	embedder := initEmbedder(cfg, lg)

	vectors, err := vectorindex.Open(cfg.EmbeddingsDBPath(), embedder.Dimension(), cfg.EmbedderType, vectorindex.Options{
		CandidateCap: cfg.SearchCandidateCap,
		OnCapTruncated: func(loaded, total int) {
			lg.Warnf("search candidate cap truncated scan: loaded %d of %d rows", loaded, total)
		},
	})
	if err != nil {
		lg.Fatalf("opening vector index: %v", err)
	}
	defer vectors.Close()

	providers := initProviders(cfg, lg)

	extractor := extract.NewExtractor(cfg.ExtractorTimeout, lg)

	notify := func(title, message string) {
		if err := beeep.Notify(title, message, ""); err != nil {
			lg.Warnf("desktop notification failed: %v", err)
		}
	}

	w := worker.New(worker.Config{
		Jobs:         jobs,
		Documents:    docs,
		Extractor:    extractor,
		Chunker:      processor.NewChunkerWithParams(cfg.ChunkMaxSize, cfg.ChunkOverlap, cfg.ChunkMinSize),
		Embedder:     embedder,
		Vectors:      vectors,
		Log:          lg,
		TickInterval: cfg.WorkerTickInterval,
		Notify:       notify,
	})

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	go w.Run(workerCtx)

	srv := server.NewServer(jobs, docs, vectors, embedder, providers, lg, logFile, cfg.PDFDir())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.Routes(),
	}

	go func() {
		lg.Printf("HTTP server listening on %d", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, w, cancelWorker, lg)
}

func initEmbedder(cfg *config.Config, lg *logger.Logger) embeddings.Embedder {
	embedderType := cfg.EmbedderType
	if embedderType == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			embedderType = "openai"
		default:
			embedderType = "local"
		}
	}

	embedderConfig := map[string]string{
		"api_key":   cfg.OpenAIAPIKey,
		"model":     cfg.EmbedderModel,
		"base_url":  cfg.OllamaBaseURL,
		"dimension": fmt.Sprintf("%d", cfg.EmbedderDimension),
	}
	if embeddings.RequiresFallback(embedderType, embedderConfig) {
		lg.Warnf("embedder %q has no API key, falling back to the local embedder", embedderType)
	}
	embedder, err := embeddings.NewEmbedder(embedderType, embedderConfig)
	if err != nil {
		lg.Fatalf("initializing embedder: %v", err)
	}

	redisClient, err := config.NewRedisClient(context.Background())
	if err != nil {
		lg.Warnf("redis unavailable (%v), embedding cache disabled", err)
		return embedder
	}
	return embeddings.NewCachingEmbedder(embedder, redisClient, embedderType)
}

func initProviders(cfg *config.Config, lg *logger.Logger) map[string]llm.Provider {
	providers := make(map[string]llm.Provider)

	if cfg.OpenAIAPIKey != "" {
		p, err := llm.NewProvider(llm.Config{Family: llm.FamilyOpenAI, BaseURL: "https://api.openai.com/v1", APIKey: cfg.OpenAIAPIKey})
		if err != nil {
			lg.Warnf("configuring openai provider: %v", err)
		} else {
			providers["openai"] = p
		}
	}
	if cfg.AnthropicAPIKey != "" {
		p, err := llm.NewProvider(llm.Config{Family: llm.FamilyAnthropic, BaseURL: "https://api.anthropic.com/v1", APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			lg.Warnf("configuring anthropic provider: %v", err)
		} else {
			providers["anthropic"] = p
		}
	}
	if cfg.OllamaBaseURL != "" {
		p, err := llm.NewProvider(llm.Config{Family: llm.FamilyOllama, BaseURL: cfg.OllamaBaseURL})
		if err != nil {
			lg.Warnf("configuring ollama provider: %v", err)
		} else {
			providers["ollama"] = p
		}
	}

	for _, name := range []string{"openai", "anthropic", "ollama"} {
		if p, ok := providers[name]; ok {
			providers["default"] = p
			break
		}
	}

	return providers
}

func waitForShutdown(httpServer *http.Server, w *worker.Worker, cancelWorker context.CancelFunc, lg *logger.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	lg.Println("shutting down...")

	w.Stop()
	cancelWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		lg.Errorf("HTTP shutdown error: %v", err)
	}

	if err := lg.Close(); err != nil {
		log.Printf("failed to close logger: %v", err)
	}
}
