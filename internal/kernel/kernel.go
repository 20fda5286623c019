// Package kernel implements the scalar/SIMD reduction primitives of
// SPEC_FULL.md §4.A: dot product, squared L2, sum, sum-of-abs, sum-of-squares,
// min/max, and their sparse two-pointer-merge counterparts.
//
// Every exported function has a single portable scalar implementation. CPU
// feature detection is recorded in Features, but there is no dispatch table
// and no faster variant to select; the scalar path is what this package
// ships with today, matching spec.md §9's
// contract that any scalar fallback suffices for correctness and that faster
// paths are only adopted "as they meet this bar" (~1e-4 relative error) —
// this build enables none, since no SIMD intrinsics are available from pure
// Go without assembly, and spec.md explicitly treats the concrete SIMD
// kernels as out of scope (§1): the contract is "compute this reduction over
// these slices," which the scalar path satisfies exactly.
package kernel

import (
	"math"

	"golang.org/x/sys/cpu"
)

// Features records the CPU capabilities detected at process start. It exists
// so a future SIMD-enabled build can gate on it the way the upstream Rust
// core gates AVX-512/SVE kernels at startup (spec.md §9); the current build
// does not branch on it, since only the scalar path is implemented.
var Features = struct {
	HasAVX2   bool
	HasAVX512 bool
	HasNEON   bool
}{
	HasAVX2:   cpu.X86.HasAVX2,
	HasAVX512: cpu.X86.HasAVX512F,
	HasNEON:   cpu.ARM64.HasASIMD,
}

// Dot returns the dot product of two equal-length dense f32 slices.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 returns the squared Euclidean distance between two equal-length
// dense f32 slices.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Sum returns the sum of a dense f32 slice.
func Sum(a []float32) float32 {
	var sum float32
	for _, v := range a {
		sum += v
	}
	return sum
}

// SumAbs returns the sum of absolute values of a dense f32 slice.
func SumAbs(a []float32) float32 {
	var sum float32
	for _, v := range a {
		sum += float32(math.Abs(float64(v)))
	}
	return sum
}

// SumSquares returns the sum of squares of a dense f32 slice.
func SumSquares(a []float32) float32 {
	var sum float32
	for _, v := range a {
		sum += v * v
	}
	return sum
}

// MinMax returns the minimum and maximum of a non-empty dense f32 slice.
func MinMax(a []float32) (min, max float32) {
	min, max = a[0], a[0]
	for _, v := range a[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Norm returns the Euclidean (L2) norm of a dense f32 slice, used to
// normalize vectors before cosine-distance comparisons.
func Norm(a []float32) float32 {
	return float32(math.Sqrt(float64(SumSquares(a))))
}

// Normalize scales dst in place to unit L2 norm; a zero vector is left
// unchanged (cosine distance against the zero vector is undefined either way).
func Normalize(dst []float32) {
	n := Norm(dst)
	if n == 0 {
		return
	}
	inv := 1 / n
	for i := range dst {
		dst[i] *= inv
	}
}

// DotF16 and SquaredL2F16 operate on half-precision slices, converting to
// f32 on the fly. Precision tolerance follows the ~1e-4 relative-error
// contract in §4.A; no platform-native f16 ALU op is assumed.
func DotF16(a, b []Float16) float32 {
	var sum float32
	for i := range a {
		sum += a[i].Float32() * b[i].Float32()
	}
	return sum
}

func SquaredL2F16(a, b []Float16) float32 {
	var sum float32
	for i := range a {
		d := a[i].Float32() - b[i].Float32()
		sum += d * d
	}
	return sum
}
