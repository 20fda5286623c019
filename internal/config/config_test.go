package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.35")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0.35 {
		t.Fatalf("expected 0.35, got %v", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "not-a-float")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid float, got nil")
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("VECINDEX_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid VECINDEX_PORT")
	}
	if got := err.Error(); !contains(got, "VECINDEX_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention VECINDEX_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("VECINDEX_PORT", "abc")
	t.Setenv("VECINDEX_DIMS", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "VECINDEX_PORT") {
		t.Fatalf("error should mention VECINDEX_PORT, got: %s", got)
	}
	if !contains(got, "VECINDEX_DIMS") {
		t.Fatalf("error should mention VECINDEX_DIMS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IndexPath == "" {
		t.Fatal("expected a default IndexPath")
	}
	if cfg.Dims != 768 {
		t.Fatalf("expected default Dims 768, got %d", cfg.Dims)
	}
	if cfg.Distance != "l2" {
		t.Fatalf("expected default Distance l2, got %s", cfg.Distance)
	}
	if cfg.IndexingKind != "flat" {
		t.Fatalf("expected default IndexingKind flat, got %s", cfg.IndexingKind)
	}
	if cfg.OptimizingThreads <= 0 {
		t.Fatalf("expected a positive default OptimizingThreads, got %d", cfg.OptimizingThreads)
	}
}

func TestLoadRejectsUnknownDistance(t *testing.T) {
	t.Setenv("VECINDEX_DISTANCE", "manhattan")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject an unknown distance")
	}
	if got := err.Error(); !contains(got, "VECINDEX_DISTANCE") {
		t.Fatalf("error should mention VECINDEX_DISTANCE, got: %s", got)
	}
}

func TestLoadRejectsUnknownIndexingKind(t *testing.T) {
	t.Setenv("VECINDEX_INDEXING", "kdtree")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject an unknown indexing kind")
	}
	if got := err.Error(); !contains(got, "VECINDEX_INDEXING") {
		t.Fatalf("error should mention VECINDEX_INDEXING, got: %s", got)
	}
}

func TestLoadRejectsOutOfRangeDeletedThreshold(t *testing.T) {
	t.Setenv("VECINDEX_OPTIMIZING_DELETED_THRESHOLD", "1.5")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to reject a deleted threshold above 1")
	}
	if got := err.Error(); !contains(got, "VECINDEX_OPTIMIZING_DELETED_THRESHOLD") {
		t.Fatalf("error should mention VECINDEX_OPTIMIZING_DELETED_THRESHOLD, got: %s", got)
	}
}

func TestLoadOTELEndpointParsing(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OTELEndpoint != "http://collector:4318" {
		t.Fatalf("expected OTELEndpoint to be honored, got %q", cfg.OTELEndpoint)
	}
	if !cfg.OTELInsecure {
		t.Fatal("expected OTELInsecure to be true")
	}
}

func TestLoadAllEnvVarsHonored(t *testing.T) {
	t.Setenv("VECINDEX_PATH", "/data/vecindex")
	t.Setenv("VECINDEX_DIMS", "1536")
	t.Setenv("VECINDEX_DISTANCE", "cos")
	t.Setenv("VECINDEX_KIND", "vecf16")
	t.Setenv("VECINDEX_INDEXING", "hnsw")
	t.Setenv("VECINDEX_QUANTIZE", "rabitq")
	t.Setenv("VECINDEX_MAX_GROWING_SEGMENT_SIZE", "5000")
	t.Setenv("VECINDEX_OPTIMIZING_THREADS", "8")
	t.Setenv("VECINDEX_OPTIMIZING_WAITING_SECS", "90s")
	t.Setenv("VECINDEX_PORT", "9090")
	t.Setenv("VECINDEX_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.IndexPath != "/data/vecindex" {
		t.Fatalf("expected IndexPath %q, got %q", "/data/vecindex", cfg.IndexPath)
	}
	if cfg.Dims != 1536 {
		t.Fatalf("expected Dims 1536, got %d", cfg.Dims)
	}
	if cfg.Distance != "cos" {
		t.Fatalf("expected Distance cos, got %s", cfg.Distance)
	}
	if cfg.Kind != "vecf16" {
		t.Fatalf("expected Kind vecf16, got %s", cfg.Kind)
	}
	if cfg.IndexingKind != "hnsw" {
		t.Fatalf("expected IndexingKind hnsw, got %s", cfg.IndexingKind)
	}
	if cfg.QuantizeKind != "rabitq" {
		t.Fatalf("expected QuantizeKind rabitq, got %s", cfg.QuantizeKind)
	}
	if cfg.MaxGrowingSegmentSize != 5000 {
		t.Fatalf("expected MaxGrowingSegmentSize 5000, got %d", cfg.MaxGrowingSegmentSize)
	}
	if cfg.OptimizingThreads != 8 {
		t.Fatalf("expected OptimizingThreads 8, got %d", cfg.OptimizingThreads)
	}
	if cfg.OptimizingWaitingSecs != 90*time.Second {
		t.Fatalf("expected OptimizingWaitingSecs 90s, got %s", cfg.OptimizingWaitingSecs)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel debug, got %s", cfg.LogLevel)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
