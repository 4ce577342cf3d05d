// Package planefit fits a least-squares plane to midline points marked on
// 2D slices and derives the corrective rotation that brings the fitted
// plane normal onto a canonical axis. It is the first stage of orientation
// correction: the anatomical midline plane should end up perpendicular to
// the left-right axis.
package planefit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// MarkedPoint is one click on a 2D slice: a (row, col) pixel position plus
// the slice index and the view the slice was taken through. The view's
// AxisConvention determines how the triple lifts into 3D.
type MarkedPoint struct {
	View  volume.View
	Slice int
	Row   int
	Col   int
}

// PlaneFit describes the fitted midline plane and the minimal rotation
// aligning its normal with the canonical axis. Derived and read-only.
type PlaneFit struct {
	// Centroid of the marked points, in voxel-unit (x, y, z) coordinates.
	Centroid volume.Vec3

	// Normal is the unit plane normal, oriented toward the canonical axis.
	Normal volume.Vec3

	// Axis and Angle define the rotation mapping Normal onto the
	// canonical axis. Angle is in radians; a zero angle means the plane
	// is already aligned.
	Axis  volume.Vec3
	Angle float64

	// LargeRotation flags angles beyond the sanity threshold. The fit is
	// still returned; the flag is a diagnostic for likely mis-marked
	// input, not an error.
	LargeRotation bool
}

// AngleDegrees returns the rotation angle in degrees.
func (p PlaneFit) AngleDegrees() float64 {
	return p.Angle * 180 / math.Pi
}

// DefaultCanonicalAxis is +X: after alignment the midline plane should be
// parallel to the YZ plane.
var DefaultCanonicalAxis = volume.Vec3{1, 0, 0}

// LargeAngleThreshold is the sanity limit in radians (45 degrees) beyond
// which a fitted rotation is flagged as suspicious.
const LargeAngleThreshold = math.Pi / 4

const parallelEps = 1e-6

// ErrTooFewSlices is returned when the marked points do not span enough
// distinct slices to determine a plane.
var ErrTooFewSlices = fmt.Errorf("planefit: need points on at least 2 distinct view/slice combinations")

// Fit converts the marked points to 3D through each view's axis convention
// and fits the least-squares plane, deriving the rotation onto the
// canonical axis.
//
// The plane normal is the singular vector of the centered point matrix
// associated with the smallest singular value. Its sign is chosen so the
// dot product with the canonical axis is non-negative; flipping the normal
// does not change the plane but fixes the rotation direction.
func Fit(points []MarkedPoint, canonical volume.Vec3) (*PlaneFit, error) {
	slices := make(map[[2]int]struct{})
	for _, p := range points {
		slices[[2]int{int(p.View), p.Slice}] = struct{}{}
	}
	if len(slices) < 2 {
		return nil, fmt.Errorf("%w: have %d", ErrTooFewSlices, len(slices))
	}

	pts := make([]volume.Vec3, len(points))
	var centroid volume.Vec3
	for i, p := range points {
		conv := volume.ConventionFor(p.View)
		pts[i] = conv.PointFrom(p.Row, p.Col, p.Slice)
		for k := 0; k < 3; k++ {
			centroid[k] += pts[i][k]
		}
	}
	for k := 0; k < 3; k++ {
		centroid[k] /= float64(len(pts))
	}

	// Smallest singular vector of the centered Nx3 point matrix.
	centered := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		centered.Set(i, 0, p[0]-centroid[0])
		centered.Set(i, 1, p[1]-centroid[1])
		centered.Set(i, 2, p[2]-centroid[2])
	}
	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThinV); !ok {
		return nil, fmt.Errorf("planefit: SVD failed to factorize point matrix")
	}
	var v mat.Dense
	svd.VTo(&v)
	normal := volume.Vec3{v.At(0, 2), v.At(1, 2), v.At(2, 2)}

	// Orient the normal toward the canonical direction.
	if dot(normal, canonical) < 0 {
		normal = neg(normal)
	}

	fit := &PlaneFit{Centroid: centroid, Normal: normal}

	axis := cross(normal, canonical)
	axisNorm := norm(axis)
	if axisNorm <= parallelEps {
		// Already (anti)parallel with the canonical axis.
		fit.Axis = volume.Vec3{0, 0, 1}
		fit.Angle = 0
		return fit, nil
	}

	for k := 0; k < 3; k++ {
		axis[k] /= axisNorm
	}
	cosAngle := math.Max(-1, math.Min(1, dot(normal, canonical)))
	angle := math.Acos(cosAngle)

	// Verify the rotation moves the normal toward the canonical axis; the
	// arccos branch can pick the wrong direction.
	rotated := rotate(normal, axis, angle)
	if dot(rotated, canonical) < dot(normal, canonical)-1e-8 {
		axis = neg(axis)
		angle = -angle
	}

	fit.Axis = axis
	fit.Angle = angle
	fit.LargeRotation = math.Abs(angle) > LargeAngleThreshold
	return fit, nil
}

// FitDefault fits against the default canonical axis (+X).
func FitDefault(points []MarkedPoint) (*PlaneFit, error) {
	return Fit(points, DefaultCanonicalAxis)
}

func rotate(p, axis volume.Vec3, angle float64) volume.Vec3 {
	r := transform.RotationMatrix(axis, angle)
	return volume.Vec3{
		r[0][0]*p[0] + r[0][1]*p[1] + r[0][2]*p[2],
		r[1][0]*p[0] + r[1][1]*p[1] + r[1][2]*p[2],
		r[2][0]*p[0] + r[2][1]*p[1] + r[2][2]*p[2],
	}
}

func dot(a, b volume.Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b volume.Vec3) volume.Vec3 {
	return volume.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a volume.Vec3) float64 {
	return math.Sqrt(dot(a, a))
}

func neg(a volume.Vec3) volume.Vec3 {
	return volume.Vec3{-a[0], -a[1], -a[2]}
}
