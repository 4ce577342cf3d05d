// Package registration solves for the subject-to-reference transform from
// paired landmarks and orchestrates the registration pipeline: closed-form
// solve, optional intensity refinement, and resampling of the subject
// volume onto the reference grid.
package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"uct2ccf/pkg/landmark"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// Errors raised by the solver.
var (
	// ErrInsufficientLandmarks: fewer pairs than the requested transform
	// kind requires (3 for rigid/similarity, 4 for affine).
	ErrInsufficientLandmarks = fmt.Errorf("registration: insufficient landmark pairs")

	// ErrDegenerateConfiguration: the landmark configuration does not
	// determine the transform (coplanar or collinear points for an
	// affine solve).
	ErrDegenerateConfiguration = fmt.Errorf("registration: degenerate landmark configuration")
)

// MinLandmarks returns the minimum pair count for a transform kind.
func MinLandmarks(kind transform.Kind) int {
	if kind == transform.Affine {
		return 4
	}
	return 3
}

// Solve computes the closed-form transform of the requested kind mapping
// the moving landmarks onto the fixed landmarks, along with per-pair
// residual distances in mm.
//
// Voxel coordinates are converted to physical points using each side's
// spacing before solving; rigid and similarity kinds use an orthogonal
// Procrustes solve with reflection correction, affine solves the
// 12-parameter least-squares system via the normal equations.
func Solve(set *landmark.Set, movingSpacing, fixedSpacing [3]float64, kind transform.Kind) (*transform.Transform, landmark.Metrics, error) {
	n := set.Len()
	if min := MinLandmarks(kind); n < min {
		return nil, landmark.Metrics{}, fmt.Errorf("%w: need %d for %s, have %d",
			ErrInsufficientLandmarks, min, kind, n)
	}

	moving := make([]volume.Vec3, n)
	fixed := make([]volume.Vec3, n)
	for i, p := range set.Pairs {
		moving[i] = p.Moving.Physical(movingSpacing)
		fixed[i] = p.Fixed.Physical(fixedSpacing)
	}

	var t *transform.Transform
	var err error
	switch kind {
	case transform.Affine:
		t, err = solveAffine(moving, fixed)
	default:
		t, err = solveProcrustes(moving, fixed, kind == transform.Similarity)
	}
	if err != nil {
		return nil, landmark.Metrics{}, err
	}

	residuals := make([]float64, n)
	for i := range moving {
		residuals[i] = landmark.Distance(t.Apply(moving[i]), fixed[i])
	}
	return t, landmark.NewMetrics(residuals), nil
}

// solveProcrustes computes the optimal rotation (and uniform scale, for
// similarity) between the centered point sets through the SVD of their
// cross-covariance.
func solveProcrustes(moving, fixed []volume.Vec3, withScale bool) (*transform.Transform, error) {
	mc := centroid(moving)
	fc := centroid(fixed)

	// Cross-covariance H = sum (m_i - mc)(f_i - fc)^T.
	h := mat.NewDense(3, 3, nil)
	var spreadM, spreadF float64
	for i := range moving {
		var dm, df [3]float64
		for k := 0; k < 3; k++ {
			dm[k] = moving[i][k] - mc[k]
			df[k] = fixed[i][k] - fc[k]
			spreadM += dm[k] * dm[k]
			spreadF += df[k] * df[k]
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+dm[r]*df[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: SVD of cross-covariance failed", ErrDegenerateConfiguration)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		// Reflection: flip the singular vector of the smallest singular
		// value and re-form the rotation.
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	scale := 1.0
	if withScale {
		if spreadM == 0 {
			return nil, fmt.Errorf("%w: moving landmarks are coincident", ErrDegenerateConfiguration)
		}
		scale = rms(spreadF, len(fixed)) / rms(spreadM, len(moving))
	}

	var linear [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			linear[i][j] = scale * r.At(i, j)
		}
	}
	trans := volume.Vec3{
		fc[0] - (linear[0][0]*mc[0] + linear[0][1]*mc[1] + linear[0][2]*mc[2]),
		fc[1] - (linear[1][0]*mc[0] + linear[1][1]*mc[1] + linear[1][2]*mc[2]),
		fc[2] - (linear[2][0]*mc[0] + linear[2][1]*mc[1] + linear[2][2]*mc[2]),
	}

	kind := transform.Rigid
	if withScale {
		kind = transform.Similarity
	}
	return transform.New(kind, linear, trans)
}

// solveAffine solves the 12-parameter system through the normal equations
// over homogeneous moving coordinates.
func solveAffine(moving, fixed []volume.Vec3) (*transform.Transform, error) {
	n := len(moving)
	x := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, moving[i][0])
		x.Set(i, 1, moving[i][1])
		x.Set(i, 2, moving[i][2])
		x.Set(i, 3, 1)
		y.Set(i, 0, fixed[i][0])
		y.Set(i, 1, fixed[i][1])
		y.Set(i, 2, fixed[i][2])
	}

	var xtx, xty mat.Dense
	xtx.Mul(x.T(), x)
	xty.Mul(x.T(), y)

	var b mat.Dense
	if err := b.Solve(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateConfiguration, err)
	}

	var linear [3][3]float64
	var trans volume.Vec3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			linear[i][j] = b.At(j, i)
		}
		trans[i] = b.At(3, i)
	}
	t, err := transform.New(transform.Affine, linear, trans)
	if err != nil {
		return nil, fmt.Errorf("%w: solved linear part is singular", ErrDegenerateConfiguration)
	}
	return t, nil
}

func centroid(pts []volume.Vec3) volume.Vec3 {
	var c volume.Vec3
	for _, p := range pts {
		for k := 0; k < 3; k++ {
			c[k] += p[k]
		}
	}
	for k := 0; k < 3; k++ {
		c[k] /= float64(len(pts))
	}
	return c
}

// rms converts an accumulated squared spread into a root-mean-square
// distance from the centroid.
func rms(sumSq float64, n int) float64 {
	return math.Sqrt(sumSq / float64(n))
}
