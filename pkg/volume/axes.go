package volume

import (
	"fmt"
	"math"
)

// Point is a voxel-index coordinate in (Z, Y, X) order within one named
// space (subject or reference).
type Point struct {
	Z, Y, X int
}

// Vec3 is a physical point or direction in millimeters, in (x, y, z) order.
type Vec3 [3]float64

// Physical converts a voxel index to a physical (x, y, z) point by
// multiplying each index by its axis spacing. Together with
// IndexFromPhysical this is the single place where the (Z, Y, X) index
// order is permuted into the (x, y, z) physical order.
func (p Point) Physical(spacing [3]float64) Vec3 {
	return Vec3{
		float64(p.X) * spacing[2],
		float64(p.Y) * spacing[1],
		float64(p.Z) * spacing[0],
	}
}

// IndexFromPhysical converts a physical (x, y, z) point back into a voxel
// index using round-to-nearest. Nearest rounding is the rule throughout the
// pipeline; it matters near region boundaries, where flooring would bias
// lookups toward the low-index neighbor.
func IndexFromPhysical(v Vec3, spacing [3]float64) Point {
	return Point{
		Z: int(math.Round(v[2] / spacing[0])),
		Y: int(math.Round(v[1] / spacing[1])),
		X: int(math.Round(v[0] / spacing[2])),
	}
}

// Axis identifies a physical axis. The values double as indices into Vec3.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// arrayIndex maps a physical axis to its (Z, Y, X) array axis.
func (a Axis) arrayIndex() int {
	return 2 - int(a)
}

// View names one of the three orthogonal viewing planes used when marking
// points on 2D slices.
type View int

const (
	ViewAxial View = iota
	ViewCoronal
	ViewSagittal
)

func (v View) String() string {
	switch v {
	case ViewAxial:
		return "axial"
	case ViewCoronal:
		return "coronal"
	default:
		return "sagittal"
	}
}

// AxisConvention declares, for one view, which physical axis the slice
// index walks along and which axes appear as the displayed horizontal and
// vertical directions. Passing the convention explicitly keeps the per-view
// bookkeeping out of callers' hands: a (row, col, slice) click converts to
// a 3D point the same way for every view.
type AxisConvention struct {
	Slice      Axis
	Horizontal Axis
	Vertical   Axis
}

// ConventionFor returns the axis convention of a named view. Axial slices
// walk Y, coronal slices walk Z, sagittal slices walk X; in each case the
// displayed columns and rows are the remaining two axes.
func ConventionFor(v View) AxisConvention {
	switch v {
	case ViewAxial:
		return AxisConvention{Slice: AxisY, Horizontal: AxisX, Vertical: AxisZ}
	case ViewCoronal:
		return AxisConvention{Slice: AxisZ, Horizontal: AxisX, Vertical: AxisY}
	default:
		return AxisConvention{Slice: AxisX, Horizontal: AxisY, Vertical: AxisZ}
	}
}

// PointFrom lifts a 2D (row, col) position on a given slice into a 3D
// voxel-unit position in (x, y, z) order.
func (c AxisConvention) PointFrom(row, col, slice int) Vec3 {
	var v Vec3
	v[c.Slice] = float64(slice)
	v[c.Horizontal] = float64(col)
	v[c.Vertical] = float64(row)
	return v
}

// MaxSlice returns the last valid slice index of a volume for this view.
func (c AxisConvention) MaxSlice(vol *Volume) int {
	return vol.Shape[c.Slice.arrayIndex()] - 1
}

// Transpose returns a new volume with array axes a and b swapped
// (0=Z, 1=Y, 2=X). The data, shape, spacing and origin are permuted
// together as one operation so the physical interpretation of every voxel
// is preserved.
func (v *Volume) Transpose(a, b int) (*Volume, error) {
	if a < 0 || a > 2 || b < 0 || b > 2 {
		return nil, fmt.Errorf("volume: transpose axes out of range: %d, %d", a, b)
	}
	if a == b {
		return v.Clone(), nil
	}

	perm := [3]int{0, 1, 2}
	perm[a], perm[b] = perm[b], perm[a]

	var shape [3]int
	var spacing, origin [3]float64
	for i := 0; i < 3; i++ {
		shape[i] = v.Shape[perm[i]]
		spacing[i] = v.Spacing[perm[i]]
		origin[i] = v.Origin[perm[i]]
	}

	out := NewEmpty(shape, spacing, v.Elem)
	out.Origin = origin
	var idx [3]int
	for idx[0] = 0; idx[0] < shape[0]; idx[0]++ {
		for idx[1] = 0; idx[1] < shape[1]; idx[1]++ {
			for idx[2] = 0; idx[2] < shape[2]; idx[2]++ {
				out.Set(idx[0], idx[1], idx[2], v.At(idx[perm[0]], idx[perm[1]], idx[perm[2]]))
			}
		}
	}
	return out, nil
}

// Flip returns a new volume mirrored along one array axis (0=Z, 1=Y, 2=X).
func (v *Volume) Flip(axis int) (*Volume, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("volume: flip axis out of range: %d", axis)
	}
	out := v.Clone()
	n := v.Shape[axis]
	for z := 0; z < v.Shape[0]; z++ {
		for y := 0; y < v.Shape[1]; y++ {
			for x := 0; x < v.Shape[2]; x++ {
				src := [3]int{z, y, x}
				src[axis] = n - 1 - src[axis]
				out.Set(z, y, x, v.At(src[0], src[1], src[2]))
			}
		}
	}
	return out, nil
}
