// Package volume provides the 3D scalar volume data model shared by the
// registration pipeline. Volumes use a fixed (Z, Y, X) index order with
// per-axis voxel spacing in millimeters; the conversion between voxel
// indices and physical (x, y, z) coordinates lives here and nowhere else,
// so the index/physical axis permutation is applied in exactly one place.
package volume

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ElementType describes the storage type the volume data originated from.
// Data is always held as float64 internally; the element type records the
// representable range so processed volumes can be clipped and cast back.
type ElementType int

const (
	Uint8 ElementType = iota
	Uint16
	Float32
	Float64
)

// String returns a human-readable name for the element type.
func (e ElementType) String() string {
	switch e {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	default:
		return "float64"
	}
}

// Integer reports whether the element type is an integer type with a
// bounded range.
func (e ElementType) Integer() bool {
	return e == Uint8 || e == Uint16
}

// Clip clamps a value to the representable range of the element type.
// Floating-point types are passed through unchanged; integer types are
// clamped and rounded.
func (e ElementType) Clip(v float64) float64 {
	switch e {
	case Uint8:
		return math.Round(math.Min(math.Max(v, 0), 255))
	case Uint16:
		return math.Round(math.Min(math.Max(v, 0), 65535))
	default:
		return v
	}
}

// Errors reported during volume construction.
var (
	ErrBadSpacing    = fmt.Errorf("volume: spacing values must be positive")
	ErrShapeMismatch = fmt.Errorf("volume: data length does not match shape")
)

// Volume is an immutable 3D scalar array with physical metadata.
//
// Shape, Spacing and Origin are all indexed by array axis in (Z, Y, X)
// order; only physical Vec3 values use (x, y, z) order. Every pipeline
// stage produces a new Volume rather than mutating one in place.
type Volume struct {
	// Data is the volume in Z-major order: index = (z*NY + y)*NX + x.
	Data []float64

	// Shape holds the axis lengths as (Z, Y, X).
	Shape [3]int

	// Spacing holds the voxel size in mm along (Z, Y, X). Always positive.
	Spacing [3]float64

	// Origin is the physical position in mm of voxel (0,0,0) along (Z, Y, X).
	Origin [3]float64

	// Elem records the element type of the source data.
	Elem ElementType
}

// New constructs a volume over existing data, validating the spacing and
// the data length against the shape.
func New(data []float64, shape [3]int, spacing [3]float64, elem ElementType) (*Volume, error) {
	for _, s := range spacing {
		if s <= 0 {
			return nil, fmt.Errorf("%w: got %v", ErrBadSpacing, spacing)
		}
	}
	n := shape[0] * shape[1] * shape[2]
	if shape[0] <= 0 || shape[1] <= 0 || shape[2] <= 0 || len(data) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d values, have %d",
			ErrShapeMismatch, shape, n, len(data))
	}
	return &Volume{Data: data, Shape: shape, Spacing: spacing, Elem: elem}, nil
}

// NewEmpty allocates a zero-filled volume. It panics on invalid shape or
// spacing since it is only called with already-validated grid descriptions.
func NewEmpty(shape [3]int, spacing [3]float64, elem ElementType) *Volume {
	v, err := New(make([]float64, shape[0]*shape[1]*shape[2]), shape, spacing, elem)
	if err != nil {
		panic(err)
	}
	return v
}

// Index returns the flat data index for voxel (z, y, x).
func (v *Volume) Index(z, y, x int) int {
	return (z*v.Shape[1]+y)*v.Shape[2] + x
}

// At returns the value at voxel (z, y, x). Bounds are not checked.
func (v *Volume) At(z, y, x int) float64 {
	return v.Data[v.Index(z, y, x)]
}

// Set writes a value at voxel (z, y, x). It is intended for builders that
// are filling a freshly allocated volume; shared volumes are never mutated.
func (v *Volume) Set(z, y, x int, val float64) {
	v.Data[v.Index(z, y, x)] = val
}

// InBounds reports whether the voxel coordinate lies inside the volume.
func (v *Volume) InBounds(p Point) bool {
	return p.Z >= 0 && p.Z < v.Shape[0] &&
		p.Y >= 0 && p.Y < v.Shape[1] &&
		p.X >= 0 && p.X < v.Shape[2]
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	out := *v
	out.Data = data
	return &out
}

// PhysicalAt converts a continuous voxel index (z, y, x) to the physical
// (x, y, z) point it occupies, honoring the volume origin and spacing.
func (v *Volume) PhysicalAt(z, y, x float64) Vec3 {
	return Vec3{
		v.Origin[2] + x*v.Spacing[2],
		v.Origin[1] + y*v.Spacing[1],
		v.Origin[0] + z*v.Spacing[0],
	}
}

// ContinuousIndexOf converts a physical (x, y, z) point into continuous
// voxel coordinates (z, y, x) on this volume's grid.
func (v *Volume) ContinuousIndexOf(p Vec3) (z, y, x float64) {
	x = (p[0] - v.Origin[2]) / v.Spacing[2]
	y = (p[1] - v.Origin[1]) / v.Spacing[1]
	z = (p[2] - v.Origin[0]) / v.Spacing[0]
	return z, y, x
}

// MinMax returns the minimum and maximum values stored in the volume.
func (v *Volume) MinMax() (min, max float64) {
	return floats.Min(v.Data), floats.Max(v.Data)
}

// ClipCast returns a copy of the volume with every value clipped to the
// representable range of the requested element type.
func (v *Volume) ClipCast(elem ElementType) *Volume {
	out := v.Clone()
	out.Elem = elem
	if !elem.Integer() {
		return out
	}
	for i, val := range out.Data {
		out.Data[i] = elem.Clip(val)
	}
	return out
}

// NormalizeMax returns a float64 copy of the volume rescaled so its maximum
// value is 1. An all-zero volume is returned unchanged.
func (v *Volume) NormalizeMax() *Volume {
	out := v.Clone()
	out.Elem = Float64
	_, max := v.MinMax()
	if max == 0 {
		return out
	}
	for i := range out.Data {
		out.Data[i] /= max
	}
	return out
}

// NormalizePercentile returns a float64 copy rescaled to [0, 1] between the
// given lower and upper intensity percentiles (in [0, 1], lo < hi); values
// outside the window are clamped. This is the standard preconditioning step
// before intensity-based refinement.
func (v *Volume) NormalizePercentile(lo, hi float64) *Volume {
	sorted := make([]float64, len(v.Data))
	copy(sorted, v.Data)
	sort.Float64s(sorted)
	pLo := stat.Quantile(lo, stat.Empirical, sorted, nil)
	pHi := stat.Quantile(hi, stat.Empirical, sorted, nil)

	out := v.Clone()
	out.Elem = Float64
	if pHi <= pLo {
		return out
	}
	for i, val := range out.Data {
		val = (val - pLo) / (pHi - pLo)
		out.Data[i] = math.Min(math.Max(val, 0), 1)
	}
	return out
}

// SpacingFromMicrons converts a (Z, Y, X) spacing given in micrometers to
// the millimeter spacing used throughout the pipeline.
func SpacingFromMicrons(um [3]float64) [3]float64 {
	return [3]float64{um[0] / 1000, um[1] / 1000, um[2] / 1000}
}
