// Package resample computes a volume sampled on a new grid, optionally
// through a spatial transform. It is the shared machinery behind
// orientation correction, registration output, and spacing changes.
//
// Resampling is a pure function of its inputs: the same source, grid,
// transform and interpolation mode always produce the same output volume.
// Work is parallelized internally over Z planes but the call itself blocks
// until the full volume is produced.
package resample

import (
	"math"
	"runtime"
	"sync"

	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// Interpolation selects how source intensities are sampled.
type Interpolation int

const (
	// Linear interpolates trilinearly between the eight neighboring
	// voxels. Use for intensity volumes.
	Linear Interpolation = iota
	// Nearest picks the closest voxel. Use for label volumes, where
	// blending ids would fabricate regions.
	Nearest
)

// fillValue is written for target voxels whose source location falls
// outside the source volume.
const fillValue = 0.0

// Grid describes a target sampling lattice.
type Grid struct {
	Shape   [3]int     // (Z, Y, X) voxel counts
	Spacing [3]float64 // mm per voxel along (Z, Y, X)
	Origin  [3]float64 // physical mm position of voxel (0,0,0) along (Z, Y, X)
}

// GridOf returns the grid a volume is sampled on.
func GridOf(v *volume.Volume) Grid {
	return Grid{Shape: v.Shape, Spacing: v.Spacing, Origin: v.Origin}
}

// GridForSpacing derives the grid that covers the same physical extent as
// the source volume at a new spacing: each axis length is the source
// length scaled by the spacing ratio, rounded to nearest.
func GridForSpacing(src *volume.Volume, spacing [3]float64) Grid {
	var shape [3]int
	for i := 0; i < 3; i++ {
		shape[i] = int(math.Round(float64(src.Shape[i]) * src.Spacing[i] / spacing[i]))
		if shape[i] < 1 {
			shape[i] = 1
		}
	}
	return Grid{Shape: shape, Spacing: spacing, Origin: src.Origin}
}

// Resample produces the volume sampled on the target grid. For each target
// voxel the physical location is pushed through the inverse of t to find
// the corresponding source location, which is sampled with the requested
// interpolation; locations outside the source volume yield the fill value.
// A nil transform means identity. workers bounds the internal parallelism;
// values below 1 use all CPUs.
func Resample(src *volume.Volume, target Grid, t *transform.Transform, interp Interpolation, workers int) *volume.Volume {
	out := volume.NewEmpty(target.Shape, target.Spacing, src.Elem)
	out.Origin = target.Origin

	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > target.Shape[0] {
		workers = target.Shape[0]
	}

	var wg sync.WaitGroup
	planesPer := (target.Shape[0] + workers - 1) / workers
	for w := 0; w < workers; w++ {
		z0 := w * planesPer
		z1 := z0 + planesPer
		if z1 > target.Shape[0] {
			z1 = target.Shape[0]
		}
		if z0 >= z1 {
			break
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			resamplePlanes(src, target, t, interp, out, z0, z1)
		}(z0, z1)
	}
	wg.Wait()
	return out
}

func resamplePlanes(src *volume.Volume, target Grid, t *transform.Transform, interp Interpolation, out *volume.Volume, z0, z1 int) {
	for z := z0; z < z1; z++ {
		for y := 0; y < target.Shape[1]; y++ {
			for x := 0; x < target.Shape[2]; x++ {
				phys := volume.Vec3{
					target.Origin[2] + float64(x)*target.Spacing[2],
					target.Origin[1] + float64(y)*target.Spacing[1],
					target.Origin[0] + float64(z)*target.Spacing[0],
				}
				if t != nil {
					phys = t.ApplyInverse(phys)
				}
				sz, sy, sx := src.ContinuousIndexOf(phys)
				out.Set(z, y, x, Sample(src, sz, sy, sx, interp))
			}
		}
	}
}

// Sample reads the source volume at a continuous (z, y, x) index with the
// given interpolation, returning the fill value outside the volume.
func Sample(src *volume.Volume, z, y, x float64, interp Interpolation) float64 {
	if interp == Nearest {
		p := volume.Point{
			Z: int(math.Round(z)),
			Y: int(math.Round(y)),
			X: int(math.Round(x)),
		}
		if !src.InBounds(p) {
			return fillValue
		}
		return src.At(p.Z, p.Y, p.X)
	}

	nz, ny, nx := src.Shape[0], src.Shape[1], src.Shape[2]
	if z < 0 || y < 0 || x < 0 ||
		z > float64(nz-1) || y > float64(ny-1) || x > float64(nx-1) {
		return fillValue
	}

	z0, y0, x0 := int(z), int(y), int(x)
	z1, y1, x1 := z0+1, y0+1, x0+1
	if z1 >= nz {
		z1 = nz - 1
	}
	if y1 >= ny {
		y1 = ny - 1
	}
	if x1 >= nx {
		x1 = nx - 1
	}
	fz, fy, fx := z-float64(z0), y-float64(y0), x-float64(x0)

	c000 := src.At(z0, y0, x0)
	c001 := src.At(z0, y0, x1)
	c010 := src.At(z0, y1, x0)
	c011 := src.At(z0, y1, x1)
	c100 := src.At(z1, y0, x0)
	c101 := src.At(z1, y0, x1)
	c110 := src.At(z1, y1, x0)
	c111 := src.At(z1, y1, x1)

	c00 := c000*(1-fx) + c001*fx
	c01 := c010*(1-fx) + c011*fx
	c10 := c100*(1-fx) + c101*fx
	c11 := c110*(1-fx) + c111*fx
	c0 := c00*(1-fy) + c01*fy
	c1 := c10*(1-fy) + c11*fy
	return c0*(1-fz) + c1*fz
}
