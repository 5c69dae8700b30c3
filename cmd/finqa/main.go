package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/finqa-labs/finqa/internal/chunker"
	"github.com/finqa-labs/finqa/internal/config"
	dbRedis "github.com/finqa-labs/finqa/internal/db/redis"
	"github.com/finqa-labs/finqa/internal/domain"
	"github.com/finqa-labs/finqa/internal/extract"
	logpkg "github.com/finqa-labs/finqa/internal/logger"
	"github.com/finqa-labs/finqa/internal/metrics"
	"github.com/finqa-labs/finqa/internal/repository/corpus"
	"github.com/finqa-labs/finqa/internal/repository/embcache"
	"github.com/finqa-labs/finqa/internal/repository/events"
	tracerepo "github.com/finqa-labs/finqa/internal/repository/trace"
	chiTransport "github.com/finqa-labs/finqa/internal/transport/chi"
	"github.com/finqa-labs/finqa/internal/transport/offline"
	openaiClient "github.com/finqa-labs/finqa/internal/transport/openai"
	answeruc "github.com/finqa-labs/finqa/internal/usecase/answer"
	ingestuc "github.com/finqa-labs/finqa/internal/usecase/ingest"
	"github.com/finqa-labs/finqa/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting finqa API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("model_provider", cfg.Model.Provider),
	)

	for _, dir := range []string{
		cfg.Storage.PersistDir, cfg.Storage.TraceDir, cfg.Storage.EventsDir,
		cfg.Storage.WatchDir, cfg.Storage.UploadDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("Failed to create data directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	// Open the three persistent corpora. A corrupt store is fatal; a missing
	// one starts empty.
	docs := openCorpus(cfg.Storage.PersistDir, "docs", logger)
	chunks := openCorpus(cfg.Storage.PersistDir, "chunks", logger)
	tables := openCorpus(cfg.Storage.PersistDir, "tables", logger)
	logger.Info("Corpora loaded",
		zap.Int("docs", docs.Len()),
		zap.Int("chunks", chunks.Len()),
		zap.Int("tables", tables.Len()),
	)

	// Register model metrics explicitly (no init())
	metrics.RegisterModelMetrics()

	// Model backend — composition root
	var embedder domain.Embedder
	var completer domain.Completer
	switch cfg.Model.Provider {
	case "openai":
		client := openaiClient.New(&openaiClient.Config{
			APIKey:         cfg.Model.APIKey,
			BaseURL:        cfg.Model.BaseURL,
			EmbeddingModel: cfg.Model.EmbeddingModel,
			ChatModel:      cfg.Model.ChatModel,
			Dimensions:     cfg.Model.Dimensions,
			Provider:       cfg.Model.Provider,
			Logger:         logger,
		})
		embedder = client
		completer = client
	default:
		client := offline.New(cfg.Model.Dimensions, logger)
		embedder = client
		completer = client
	}

	// Optional Redis-backed embedding cache
	ctx := context.Background()
	if len(cfg.Cache.Addrs) > 0 {
		kv, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Username: cfg.Cache.Username,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer kv.Close()
		if err := kv.WaitForReady(ctx, time.Duration(cfg.Cache.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}
		embedder = embcache.New(embedder, kv, metrics.EmbeddingCacheTotal, logger)
		logger.Info("Embedding cache enabled", zap.Strings("addrs", cfg.Cache.Addrs))
	}

	ch, err := chunker.New(
		chunker.Strategy(cfg.Chunking.Strategy),
		cfg.Chunking.ChunkSize,
		cfg.Chunking.Overlap,
		cfg.Chunking.MaxChunkSize,
		cfg.Chunking.SentencePattern,
	)
	if err != nil {
		logger.Fatal("Failed to create chunker", zap.Error(err))
	}
	detectTables := cfg.Chunking.DetectTables == nil || *cfg.Chunking.DetectTables
	textExtractor := extract.NewTextExtractor(ch, detectTables)

	journal, err := events.NewJournal(cfg.Storage.EventsDir, cfg.Ingest.EventFlushSize, logger)
	if err != nil {
		logger.Fatal("Failed to create event journal", zap.Error(err))
	}
	traces, err := tracerepo.NewStore(cfg.Storage.TraceDir, logger)
	if err != nil {
		logger.Fatal("Failed to create trace store", zap.Error(err))
	}

	ingestSvc := ingestuc.New(
		[]ingestuc.Extractor{textExtractor},
		embedder, completer,
		docs, chunks, tables,
		ingestuc.Config{
			SummaryChars: cfg.Ingest.SummaryChars,
			BatchSize:    cfg.Ingest.BatchSize,
			WatchDir:     cfg.Storage.WatchDir,
			SystemPrompt: answeruc.DefaultSystemPrompt,
			AlphaDoc:     cfg.Retrieval.AlphaDoc,
			AlphaChunk:   cfg.Retrieval.AlphaChunk,
			AlphaTable:   cfg.Retrieval.AlphaTable,
		},
		logger,
	)
	answerSvc := answeruc.New(ingestSvc, completer, traces, answeruc.Config{
		MaxLoops:           cfg.Loop.MaxLoops,
		TopKDocs:           cfg.Retrieval.TopKDocs,
		TopKChunks:         cfg.Retrieval.TopKChunks,
		TopKTables:         cfg.Retrieval.TopKTables,
		DocSummaryMaxChars: cfg.Retrieval.DocSummaryMaxChars,
	}, logger)

	if cfg.Ingest.AutoScan {
		res, err := ingestSvc.ScanFolder(ctx, false, domain.NopSink{})
		if err != nil {
			logger.Error("Startup folder scan failed", zap.Error(err))
		} else {
			logger.Info("Startup folder scan complete",
				zap.Int("scanned", res.Scanned),
				zap.Int("ingested", res.Ingested),
			)
		}
	}

	server := chiTransport.NewServer(
		ingestSvc, answerSvc, traces, journal,
		docs, chunks, tables,
		cfg.Storage.UploadDir, logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// openCorpus opens one named corpus under persistDir. Corrupt data aborts
// startup rather than silently serving a partial index.
func openCorpus(persistDir, name string, logger *zap.Logger) *corpus.Store {
	st, err := corpus.Open(filepath.Join(persistDir, name), logger)
	if err != nil {
		if corpus.IsFatalLoadError(err) {
			logger.Fatal("Corpus store is corrupt", zap.String("corpus", name), zap.Error(err))
		}
		logger.Fatal("Failed to open corpus store", zap.String("corpus", name), zap.Error(err))
	}
	return st
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWith(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
