package engine

// FatalHandler is invoked when the index hits an irrecoverable condition per
// §7 — a WAL or mmap I/O error, or manifest corruption. The default (nil)
// handler logs at Error and calls os.Exit(1), mirroring the teacher's own
// App.Run behavior on unrecoverable startup failure. Hosts that want a
// softer landing (e.g. to flip a readiness probe instead of dying) can
// override it via WithFatalHandler.
type FatalHandler func(path string, err error)

// instance models spec.md §9's closed Instance enum: the compile-time-known
// combination of (Distance, VectorKind) an index is instantiated for. It is
// not part of the public API surface (the set is finite and selected from
// Options at Create/Open time) but documents the seam internal/ann and
// internal/quantize generalize over, following the teacher's own
// interfaces.go convention of naming every extension seam in one file even
// when most of it is implemented, not overridden, by callers.
type instance struct {
	distance Distance
	kind     VectorKind
}
