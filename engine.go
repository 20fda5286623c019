// The composition root for the public API: Index wraps internal/index.Index
// (segment storage, WAL, delete map, ANN training) and internal/optimize.Workers
// (the background merge/seal goroutines), translating between the public
// Vector/Result/Filter types and the internal packages' own. Conversion
// helpers (toDense, toPublicResults, toIndexConfig) live here because this is
// the only file that sees both sides of the import-graph boundary described
// in types.go's package doc.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/joho/godotenv"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/ann"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/index"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/kernel"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/optimize"
)

// Index is an open disk-resident vector index. Construct with Create or
// Open, call Start to launch the background optimizers, and Close (after
// Stop) when done. Index has no public fields — use Option to configure it.
type Index struct {
	inner   *index.Index
	workers *optimize.Workers
	logger  *slog.Logger
	onFatal FatalHandler

	started atomic.Bool
}

// Option configures Create/Open, mirroring the teacher's own functional-
// option pattern for App construction.
type Option func(*resolvedOptions)

type resolvedOptions struct {
	logger  *slog.Logger
	onFatal FatalHandler
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithFatalHandler overrides the default log-and-exit behavior documented
// on FatalHandler.
func WithFatalHandler(h FatalHandler) Option {
	return func(o *resolvedOptions) { o.onFatal = h }
}

// Create initializes a fresh index directory at path with the given
// Options, merged against DefaultOptions() and validated (§6).
func Create(path string, opts Options, options ...Option) (*Index, error) {
	o := resolveOptions(options)

	merged := opts.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	inner, err := index.Create(path, toIndexConfig(merged))
	if err != nil {
		return nil, fmt.Errorf("engine: create: %w", err)
	}
	return wrap(inner, o), nil
}

// Open reopens an existing index directory, reading its persisted Options
// and manifest and retraining every sealed segment's ANN structure from its
// raw vector store (see DESIGN.md's "retrain on open" decision).
func Open(path string, options ...Option) (*Index, error) {
	o := resolveOptions(options)

	// Load .env file if present (non-fatal; production deployments won't
	// have one), matching the teacher's own New().
	_ = godotenv.Load()

	inner, err := index.Open(path)
	if err != nil {
		return nil, fmt.Errorf("engine: open: %w", err)
	}
	return wrap(inner, o), nil
}

func resolveOptions(options []Option) resolvedOptions {
	var o resolvedOptions
	for _, fn := range options {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func wrap(inner *index.Index, o resolvedOptions) *Index {
	idx := &Index{inner: inner, logger: o.logger, onFatal: o.onFatal}
	idx.workers = optimize.New(inner, idx.fatal)
	return idx
}

// fatal invokes the configured FatalHandler, or the documented default
// (log at Error, exit 1) when none was set.
func (idx *Index) fatal(err error) {
	if idx.onFatal != nil {
		idx.onFatal(idx.inner.Path(), err)
		return
	}
	idx.logger.Error("vecindex: fatal error", "path", idx.inner.Path(), "error", err)
	os.Exit(1)
}

// Start launches the background indexing and sealing optimizers. Safe to
// call once per Index; a second call is a no-op.
func (idx *Index) Start(ctx context.Context) {
	if idx.started.Swap(true) {
		return
	}
	idx.logger.Info("vecindex: starting optimizers", "path", idx.inner.Path())
	idx.workers.Start(ctx)
}

// Stop halts the background optimizers and waits for them to exit, then
// flushes the delete map and write segment's WAL to disk. A flush error is
// escalated via the configured FatalHandler, since a failed flush can lose
// durability guarantees for already-acknowledged writes; an error stopping
// the optimizers is returned without escalation.
func (idx *Index) Stop() error {
	if idx.started.Load() {
		if err := idx.workers.Stop(); err != nil {
			return fmt.Errorf("engine: stop optimizers: %w", err)
		}
	}
	if err := idx.inner.Flush(); err != nil {
		idx.fatal(err)
		return err
	}
	return nil
}

// Close releases the index's delete map. Segment files remain on disk for
// the next Open. Call Stop first if Start was called.
func (idx *Index) Close() error {
	return idx.inner.Close()
}

// Insert stores vector under a fresh Payload built from pointer and its
// delete map's current stored version, returning the Payload the caller
// should keep if it later wants to Delete this exact (pointer, version)
// pair. Stamping the live stored version (not a hardcoded 0) matters for
// pointers that were previously deleted and are now being reused: Delete
// bumps the stored version (§4.D), so a reinsert must match it or the row
// would come back permanently invisible to Check. Returns
// ErrDimensionMismatch if vector's shape doesn't match the index's
// configured Dims/Kind.
func (idx *Index) Insert(vector Vector, pointer Pointer) (Payload, error) {
	dense, err := idx.toDense(vector)
	if err != nil {
		return 0, err
	}
	version := idx.inner.DeleteMapVersion(uint64(pointer))
	payload := NewPayload(pointer, version)
	if err := idx.inner.Insert(dense, uint64(payload)); err != nil {
		return 0, fmt.Errorf("engine: insert: %w", err)
	}
	return payload, nil
}

// Delete tombstones pointer so it no longer surfaces from
// ViewBasic/ViewVbase, regardless of which version it was last inserted at.
func (idx *Index) Delete(pointer Pointer) error {
	return idx.inner.Delete(uint64(pointer))
}

// toDense normalizes a public Vector into the raw []float32 row the
// internal segment layer stores, expanding sparse vectors via
// kernel.SparseToDense (§4.A).
func (idx *Index) toDense(v Vector) ([]float32, error) {
	dims := int(idx.inner.Config().Dims)
	if v.Dense != nil {
		if len(v.Dense) != dims {
			return nil, ErrDimensionMismatch
		}
		return v.Dense, nil
	}
	if len(v.SparseIndexes) != len(v.SparseValues) {
		return nil, ErrInvalidVector
	}
	for i, ix := range v.SparseIndexes {
		if int(ix) >= dims {
			return nil, ErrDimensionMismatch
		}
		if i > 0 && v.SparseIndexes[i-1] >= ix {
			return nil, ErrInvalidVector
		}
	}
	return kernel.SparseToDense(v.SparseIndexes, v.SparseValues, dims), nil
}

// ViewBasic runs a bounded top-k query (§4.H Basic mode).
func (idx *Index) ViewBasic(query Vector, opts SearchOptions) ([]Result, error) {
	dense, err := idx.toDense(query)
	if err != nil {
		return nil, err
	}
	rerank := int(opts.FlatRerankSize)
	if rerank == 0 {
		rerank = opts.K * 4
	}
	results := idx.inner.Basic(dense, opts.K, rerank, filterFor(nil))
	return toPublicResults(results), nil
}

// ViewBasicFiltered is ViewBasic with an additional caller predicate over
// the candidate's Pointer, evaluated alongside the engine's own visibility
// filter (delete-map tombstones).
func (idx *Index) ViewBasicFiltered(query Vector, opts SearchOptions, filter Filter) ([]Result, error) {
	dense, err := idx.toDense(query)
	if err != nil {
		return nil, err
	}
	rerank := int(opts.FlatRerankSize)
	if rerank == 0 {
		rerank = opts.K * 4
	}
	results := idx.inner.Basic(dense, opts.K, rerank, filterFor(filter))
	return toPublicResults(results), nil
}

// ViewVbase runs a streaming range query (§4.H Vbase mode), returning an
// eager prefix plus a lazy tail callback that yields progressively farther
// results until exhausted.
func (idx *Index) ViewVbase(query Vector, opts SearchOptions, filter Filter) ([]Result, func() (Result, bool), error) {
	dense, err := idx.toDense(query)
	if err != nil {
		return nil, nil, err
	}
	prefix, tail := idx.inner.Vbase(dense, opts.VbaseRange, filterFor(filter))
	return toPublicResults(prefix), toPublicTail(tail), nil
}

// filterFor adapts a public Pointer-keyed Filter into the payload-keyed
// predicate internal/index.Basic/Vbase expect.
func filterFor(filter Filter) func(uint64) bool {
	if filter == nil {
		return nil
	}
	return func(payload uint64) bool {
		return filter(Payload(payload).Pointer())
	}
}

func toPublicResults(rs []ann.Result) []Result {
	out := make([]Result, len(rs))
	for i, r := range rs {
		out[i] = Result{Distance: r.Distance, Pointer: Payload(r.Payload).Pointer()}
	}
	return out
}

func toPublicTail(tail ann.TailIterator) func() (Result, bool) {
	return func() (Result, bool) {
		r, ok := tail()
		if !ok {
			return Result{}, false
		}
		return Result{Distance: r.Distance, Pointer: Payload(r.Payload).Pointer()}, true
	}
}

// Stat reports the current shape of the index for monitoring.
func (idx *Index) Stat() IndexStat {
	st := idx.inner.Stat()
	out := IndexStat{Indexing: idx.started.Load(), DeleteMapLen: st.DeleteMapLen}
	for _, s := range st.Sealed {
		out.SealedSegments = append(out.SealedSegments, toPublicSegmentStat(s))
	}
	for _, s := range st.Growing {
		out.GrowingSegments = append(out.GrowingSegments, toPublicSegmentStat(s))
	}
	if st.Write != nil {
		s := toPublicSegmentStat(*st.Write)
		out.WriteSegment = &s
	}
	return out
}

func toPublicSegmentStat(s index.SegmentStat) SegmentStat {
	return SegmentStat{ID: s.ID, Type: s.Type, Length: s.Length}
}

// SealedSegmentCount, GrowingSegmentCount, DeleteMapSize, and WALPendingBytes
// satisfy internal/telemetry.StatSource, letting a host wire Index directly
// into telemetry.NewMetrics without an adapter.
func (idx *Index) SealedSegmentCount() int  { return idx.inner.SealedSegmentCount() }
func (idx *Index) GrowingSegmentCount() int { return idx.inner.GrowingSegmentCount() }
func (idx *Index) DeleteMapSize() int       { return idx.inner.DeleteMapSize() }
func (idx *Index) WALPendingBytes() int64   { return idx.inner.WALPendingBytes() }

// toIndexConfig translates validated, defaulted public Options into
// internal/index.Config — the one place permitted to see both sides of the
// import-graph boundary (types.go's package doc).
func toIndexConfig(o Options) index.Config {
	cfg := index.Config{
		Dims:                       o.Vector.Dims,
		Distance:                   index.Distance(o.Vector.Distance),
		Kind:                       index.VectorKind(o.Vector.Kind),
		MaxGrowingSegmentSize:      o.Segment.MaxGrowingSegmentSize,
		MaxSealedSegmentSize:       o.Segment.MaxSealedSegmentSize,
		OptimizingWaitingSecs:      o.Optimizing.WaitingSecs,
		OptimizingDeletedThreshold: o.Optimizing.DeletedThreshold,
		OptimizingThreads:          o.Optimizing.OptimizingThreads,
		IndexingKind:               index.IndexingKind(o.Indexing.Kind),
		QuantizationKind:           index.QuantizationKind(o.Indexing.Quantization.Kind),
		QuantizationBits:           o.Indexing.Quantization.Bits,
		QuantizationRatio:          o.Indexing.Quantization.Ratio,
		NList:                      o.Indexing.NList,
		NSample:                    o.Indexing.NSample,
		Iterations:                 o.Indexing.Iterations,
		LeastIterations:            o.Indexing.LeastIterations,
		IsPuck:                     o.Indexing.IsPuck,
		CoarseSearchCount:          o.Indexing.CoarseSearchCount,
		OverSampleSize:             o.Indexing.OverSampleSize,
		M:                          o.Indexing.M,
		EfConstruction:             o.Indexing.EfConstruction,
		R:                          o.Indexing.R,
		Alpha:                      o.Indexing.Alpha,
		L:                          o.Indexing.L,
	}
	return cfg
}
