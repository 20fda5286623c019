// Command vecindex is the standalone driver for one disk-resident vector
// index: it loads its configuration from the environment (internal/config),
// creates or opens the index at VECINDEX_PATH, starts the background
// optimizers, and serves a Prometheus /metrics endpoint until signaled to
// stop. Grounded on the teacher's cmd/akashi/main.go lifecycle shape
// (NotifyContext signal handling, JSON slog on stdout, godotenv, graceful
// HTTP shutdown) generalized from an HTTP API server to a metrics-only
// sidecar around the embedded engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	engine "github.com/tensorchord/pgvecto.rs-sub000"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/config"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("VECINDEX_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("vecindex starting", "version", version, "path", cfg.IndexPath, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	idx, err := openOrCreate(cfg, logger)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	defer func() {
		if err := idx.Stop(); err != nil {
			logger.Error("stop optimizers", "error", err)
		}
		if err := idx.Close(); err != nil {
			logger.Error("close index", "error", err)
		}
	}()

	idx.Start(ctx)

	metrics, err := telemetry.NewMetrics(telemetry.Meter("vecindex"), idx)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("vecindex shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("vecindex stopped")
	return nil
}

// openOrCreate opens the index at cfg.IndexPath if it was already
// initialized (its options.json exists from a prior run), or creates it
// fresh from cfg's vector-space/indexing settings otherwise. Reopen never
// consults the vector-space flags again — they are fixed at Create time and
// persisted, per §6.
func openOrCreate(cfg config.Config, logger *slog.Logger) (*engine.Index, error) {
	opts := []engine.Option{engine.WithLogger(logger)}

	if _, err := os.Stat(filepath.Join(cfg.IndexPath, "options.json")); err == nil {
		logger.Info("vecindex: opening existing index", "path", cfg.IndexPath)
		return engine.Open(cfg.IndexPath, opts...)
	}

	logger.Info("vecindex: creating new index", "path", cfg.IndexPath,
		"dims", cfg.Dims, "distance", cfg.Distance, "indexing", cfg.IndexingKind)
	return engine.Create(cfg.IndexPath, toEngineOptions(cfg), opts...)
}

// toEngineOptions translates the standalone driver's flat environment
// config into the engine's structured Options, applying DefaultOptions()
// as the floor for anything the driver leaves at its own zero value.
func toEngineOptions(cfg config.Config) engine.Options {
	o := engine.DefaultOptions()
	o.Vector = engine.VectorOptions{
		Dims:     uint32(cfg.Dims),
		Distance: parseDistance(cfg.Distance),
		Kind:     parseVectorKind(cfg.Kind),
	}
	o.Segment = engine.SegmentOptions{
		MaxGrowingSegmentSize: uint32(cfg.MaxGrowingSegmentSize),
		MaxSealedSegmentSize:  uint32(cfg.MaxSealedSegmentSize),
	}
	o.Optimizing = engine.OptimizingOptions{
		WaitingSecs:       uint32(cfg.OptimizingWaitingSecs.Seconds()),
		DeletedThreshold:  cfg.OptimizingDeletedThreshold,
		OptimizingThreads: uint32(cfg.OptimizingThreads),
	}
	o.Indexing = engine.IndexingOptions{
		Kind: parseIndexingKind(cfg.IndexingKind),
		Quantization: engine.QuantizationOptions{
			Kind:  parseQuantizationKind(cfg.QuantizeKind),
			Bits:  uint32(cfg.QuantizeBits),
			Ratio: uint32(cfg.QuantizeRatio),
		},
	}
	return o
}

func parseDistance(s string) engine.Distance {
	switch s {
	case "dot":
		return engine.Dot
	case "cos":
		return engine.Cos
	default:
		return engine.L2
	}
}

func parseVectorKind(s string) engine.VectorKind {
	switch s {
	case "vecf16":
		return engine.Vecf16
	case "svecf32":
		return engine.SVecf32
	case "bvector":
		return engine.BVector
	default:
		return engine.Vecf32
	}
}

func parseIndexingKind(s string) engine.IndexingKind {
	switch s {
	case "ivf":
		return engine.IndexingIvf
	case "hnsw":
		return engine.IndexingHnsw
	case "diskann":
		return engine.IndexingDiskann
	default:
		return engine.IndexingFlat
	}
}

func parseQuantizationKind(s string) engine.QuantizationKind {
	switch s {
	case "scalar":
		return engine.QuantizationScalar
	case "product":
		return engine.QuantizationProduct
	case "rabitq":
		return engine.QuantizationRaBitQ
	default:
		return engine.QuantizationTrivial
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
