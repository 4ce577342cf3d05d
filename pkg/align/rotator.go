// Package align applies a fitted midline-plane rotation to a
// full-resolution volume, producing the orientation-corrected volume used
// by the rest of the registration pipeline.
package align

import (
	"math"

	"uct2ccf/pkg/planefit"
	"uct2ccf/pkg/resample"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// DefaultAngleThreshold is the rotation magnitude in radians below which
// alignment is skipped and the source volume is returned unchanged.
const DefaultAngleThreshold = 0.001

// Options controls rotation application.
type Options struct {
	// Reverse flips the rotation direction on top of the built-in
	// handedness correction. With Reverse set the two negations cancel
	// and the plane-fit angle is applied as derived.
	Reverse bool

	// AngleThreshold overrides DefaultAngleThreshold when positive.
	AngleThreshold float64

	// Workers bounds the resampling parallelism; below 1 uses all CPUs.
	Workers int
}

// BuildTransform constructs the rigid transform realizing a plane fit's
// rotation about its centroid.
//
// The plane-fit angle is derived in the volume's index-coordinate
// convention while the transform rotates in physical axes of opposite
// handedness, so the angle is negated once unconditionally; the Reverse
// flag negates it a second time. Net effect across the two flags is 0, 1
// or 2 negations.
func BuildTransform(fit *planefit.PlaneFit, spacing [3]float64, reverse bool) (*transform.Transform, error) {
	angle := -fit.Angle
	if reverse {
		angle = -angle
	}
	center := volume.Vec3{
		fit.Centroid[0] * spacing[2],
		fit.Centroid[1] * spacing[1],
		fit.Centroid[2] * spacing[0],
	}
	return transform.NewRotationAbout(fit.Axis, angle, center)
}

// Rotate resamples the volume under the plane fit's corrective rotation.
// Near-zero angles short-circuit to the source volume itself, which is
// safe to share since volumes are immutable. The result is clipped and
// cast back to the source element type so integer volumes stay in their
// representable range after interpolation.
func Rotate(src *volume.Volume, fit *planefit.PlaneFit, opts Options) (*volume.Volume, error) {
	threshold := opts.AngleThreshold
	if threshold <= 0 {
		threshold = DefaultAngleThreshold
	}
	if math.Abs(fit.Angle) < threshold {
		return src, nil
	}

	t, err := BuildTransform(fit, src.Spacing, opts.Reverse)
	if err != nil {
		return nil, err
	}
	rotated := resample.Resample(src, resample.GridOf(src), t, resample.Linear, opts.Workers)
	return rotated.ClipCast(src.Elem), nil
}
