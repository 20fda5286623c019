package engine

import "errors"

// Recoverable conditions (§7): returned to the caller as typed values, never
// change on-disk state. Irrecoverable conditions (I/O, mmap, manifest
// corruption) are not in this list — they abort the owning goroutine via the
// index's OnFatal hook instead of crossing the API boundary as a value.
var (
	// ErrInvalidVector is returned when a vector's shape does not match the
	// index's configured Kind (e.g. sparse indices not strictly increasing).
	ErrInvalidVector = errors.New("engine: invalid vector")

	// ErrDimensionMismatch is returned when a vector's dimensionality does not
	// equal options.vector.dims, on both insert and query paths.
	ErrDimensionMismatch = errors.New("engine: dimension mismatch")

	// ErrInvalidOptions is returned by Create when the supplied Options fail
	// validation; the returned *OptionsError's Reason field explains which
	// field.
	ErrInvalidOptions = errors.New("engine: invalid index options")

	// ErrNotExist names a referenced handle, segment, or alter key that does
	// not exist. No method of Index returns it.
	ErrNotExist = errors.New("engine: not exist")

	// ErrOutdatedView names an insert against a view whose write segment has
	// since been sealed. Index.Insert does not return it: when the write
	// segment is full, internal/index seals it, installs a fresh write
	// segment and retries the insert itself.
	ErrOutdatedView = errors.New("engine: outdated view")

	// errSegmentFull is the root package's name for a full write segment. No
	// code raises it: growing.Segment.Insert reports a full segment as
	// growing.ErrSegmentFull, which internal/index handles by refreshing and
	// retrying.
	errSegmentFull = errors.New("engine: segment full")
)

// OptionsError carries a human-readable reason alongside ErrInvalidOptions.
type OptionsError struct {
	Reason string
}

func (e *OptionsError) Error() string { return "engine: invalid index options: " + e.Reason }
func (e *OptionsError) Unwrap() error { return ErrInvalidOptions }
