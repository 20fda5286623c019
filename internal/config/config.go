// Package config loads and validates the standalone cmd/vecindex driver's
// configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the standalone driver's configuration: where the index
// lives, the vector space it's created with (only consulted on first
// create(); open() reads the persisted options.json instead), segment/
// optimizer tuning, and ambient OTEL/log settings.
type Config struct {
	// Index location and lifecycle.
	IndexPath string // directory the index's segments/options.json/manifest live under.

	// Vector space (§3, §6) — only used by `create`.
	Dims     int
	Distance string // "l2", "dot", or "cos"
	Kind     string // "vecf32", "vecf16", "svecf32", or "bvector"

	// Indexing structure (§6) — only used by `create`.
	IndexingKind   string // "flat", "ivf", "hnsw", or "diskann"
	QuantizeKind   string // "trivial", "scalar", "product", or "rabitq"
	QuantizeBits   int
	QuantizeRatio  int

	// Segment sizing (§6).
	MaxGrowingSegmentSize int
	MaxSealedSegmentSize  int

	// Optimizer tuning (§4.J, §6).
	OptimizingWaitingSecs      time.Duration
	OptimizingDeletedThreshold float64
	OptimizingThreads          int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string

	// Server settings — the standalone driver's own request-handling loop,
	// not the index engine itself.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. Returns an error if any environment variable contains an
// unparseable value; missing variables use defaults, only malformed ones
// are rejected.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		IndexPath:     envStr("VECINDEX_PATH", "./vecindex-data"),
		Distance:      envStr("VECINDEX_DISTANCE", "l2"),
		Kind:          envStr("VECINDEX_KIND", "vecf32"),
		IndexingKind:  envStr("VECINDEX_INDEXING", "flat"),
		QuantizeKind:  envStr("VECINDEX_QUANTIZE", "trivial"),
		OTELEndpoint:  envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:   envStr("OTEL_SERVICE_NAME", "vecindex"),
		LogLevel:      envStr("VECINDEX_LOG_LEVEL", "info"),
	}

	cfg.Dims, errs = collectInt(errs, "VECINDEX_DIMS", 768)
	cfg.QuantizeBits, errs = collectInt(errs, "VECINDEX_QUANTIZE_BITS", 8)
	cfg.QuantizeRatio, errs = collectInt(errs, "VECINDEX_QUANTIZE_RATIO", 4)
	cfg.MaxGrowingSegmentSize, errs = collectInt(errs, "VECINDEX_MAX_GROWING_SEGMENT_SIZE", 20_000)
	cfg.MaxSealedSegmentSize, errs = collectInt(errs, "VECINDEX_MAX_SEALED_SEGMENT_SIZE", 1_000_000)
	cfg.OptimizingThreads, errs = collectInt(errs, "VECINDEX_OPTIMIZING_THREADS", 4)
	cfg.Port, errs = collectInt(errs, "VECINDEX_PORT", 8080)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_EXPORTER_OTLP_INSECURE", false)

	cfg.OptimizingWaitingSecs, errs = collectDuration(errs, "VECINDEX_OPTIMIZING_WAITING_SECS", 60*time.Second)
	cfg.ReadTimeout, errs = collectDuration(errs, "VECINDEX_READ_TIMEOUT", 30*time.Second)
	cfg.WriteTimeout, errs = collectDuration(errs, "VECINDEX_WRITE_TIMEOUT", 30*time.Second)

	var err error
	cfg.OptimizingDeletedThreshold, err = envFloat("VECINDEX_OPTIMIZING_DELETED_THRESHOLD", 0.2)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var, appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envDuration(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.IndexPath == "" {
		errs = append(errs, errors.New("config: VECINDEX_PATH is required"))
	}
	if c.Dims <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_DIMS must be positive"))
	}
	switch c.Distance {
	case "l2", "dot", "cos":
	default:
		errs = append(errs, fmt.Errorf("config: VECINDEX_DISTANCE %q must be one of l2, dot, cos", c.Distance))
	}
	switch c.Kind {
	case "vecf32", "vecf16", "svecf32", "bvector":
	default:
		errs = append(errs, fmt.Errorf("config: VECINDEX_KIND %q must be one of vecf32, vecf16, svecf32, bvector", c.Kind))
	}
	switch c.IndexingKind {
	case "flat", "ivf", "hnsw", "diskann":
	default:
		errs = append(errs, fmt.Errorf("config: VECINDEX_INDEXING %q must be one of flat, ivf, hnsw, diskann", c.IndexingKind))
	}
	switch c.QuantizeKind {
	case "trivial", "scalar", "product", "rabitq":
	default:
		errs = append(errs, fmt.Errorf("config: VECINDEX_QUANTIZE %q must be one of trivial, scalar, product, rabitq", c.QuantizeKind))
	}
	if c.MaxGrowingSegmentSize <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_MAX_GROWING_SEGMENT_SIZE must be positive"))
	}
	if c.MaxSealedSegmentSize <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_MAX_SEALED_SEGMENT_SIZE must be positive"))
	}
	if c.OptimizingThreads <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_OPTIMIZING_THREADS must be positive"))
	}
	if c.OptimizingDeletedThreshold <= 0 || c.OptimizingDeletedThreshold > 1 {
		errs = append(errs, errors.New("config: VECINDEX_OPTIMIZING_DELETED_THRESHOLD must be in (0, 1]"))
	}
	if c.OptimizingWaitingSecs <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_OPTIMIZING_WAITING_SECS must be positive"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, errors.New("config: VECINDEX_PORT must be between 1 and 65535"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_READ_TIMEOUT must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("config: VECINDEX_WRITE_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid float", key, v)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
