package refine

import (
	"math"

	"uct2ccf/pkg/volume"
)

// pyramidLevel holds both volumes smoothed and downsampled by one shrink
// factor. Spacing grows with the factor so physical coordinates are
// preserved across levels.
type pyramidLevel struct {
	moving *volume.Volume
	fixed  *volume.Volume
	factor int
}

// buildLevel smooths both volumes with the given sigma (mm) and strides
// them down by factor along every axis.
func buildLevel(moving, fixed *volume.Volume, factor int, sigmaMM float64) pyramidLevel {
	return pyramidLevel{
		moving: shrink(smooth(moving, sigmaMM), factor),
		fixed:  shrink(smooth(fixed, sigmaMM), factor),
		factor: factor,
	}
}

// smooth applies a separable Gaussian along each axis. Sigma is given in
// millimeters and converted per axis to voxel units; a sigma below half a
// voxel on every axis leaves the volume untouched.
func smooth(v *volume.Volume, sigmaMM float64) *volume.Volume {
	if sigmaMM <= 0 {
		return v
	}
	out := v
	for axis := 0; axis < 3; axis++ {
		sigmaVox := sigmaMM / v.Spacing[axis]
		if sigmaVox < 0.5 {
			continue
		}
		out = smoothAxis(out, axis, sigmaVox)
	}
	return out
}

// smoothAxis convolves one array axis with a normalized Gaussian kernel,
// clamping at the boundaries.
func smoothAxis(v *volume.Volume, axis int, sigma float64) *volume.Volume {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	out := volume.NewEmpty(v.Shape, v.Spacing, v.Elem)
	out.Origin = v.Origin
	n := v.Shape[axis]
	for z := 0; z < v.Shape[0]; z++ {
		for y := 0; y < v.Shape[1]; y++ {
			for x := 0; x < v.Shape[2]; x++ {
				idx := [3]int{z, y, x}
				acc := 0.0
				for k := -radius; k <= radius; k++ {
					j := idx[axis] + k
					if j < 0 {
						j = 0
					} else if j >= n {
						j = n - 1
					}
					s := idx
					s[axis] = j
					acc += kernel[k+radius] * v.At(s[0], s[1], s[2])
				}
				out.Set(z, y, x, acc)
			}
		}
	}
	return out
}

// shrink keeps every factor-th voxel along each axis and scales the
// spacing accordingly.
func shrink(v *volume.Volume, factor int) *volume.Volume {
	if factor <= 1 {
		return v
	}
	shape := [3]int{}
	spacing := [3]float64{}
	for k := 0; k < 3; k++ {
		shape[k] = (v.Shape[k] + factor - 1) / factor
		spacing[k] = v.Spacing[k] * float64(factor)
	}
	out := volume.NewEmpty(shape, spacing, v.Elem)
	out.Origin = v.Origin
	for z := 0; z < shape[0]; z++ {
		for y := 0; y < shape[1]; y++ {
			for x := 0; x < shape[2]; x++ {
				out.Set(z, y, x, v.At(z*factor, y*factor, x*factor))
			}
		}
	}
	return out
}
