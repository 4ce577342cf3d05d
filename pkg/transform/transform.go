// Package transform implements the rigid, similarity and affine spatial
// transforms used to map physical points from subject space into reference
// space. All transforms act on physical (x, y, z) millimeter coordinates;
// voxel-index conversion is the caller's concern (see pkg/volume).
package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"uct2ccf/pkg/volume"
)

// Kind enumerates the transform families, from most to least constrained.
type Kind int

const (
	// Rigid is rotation plus translation.
	Rigid Kind = iota
	// Similarity is rotation plus uniform scale plus translation.
	Similarity
	// Affine is a general non-singular 3x3 linear map plus translation.
	Affine
)

// String returns the lower-case name of the transform kind.
func (k Kind) String() string {
	switch k {
	case Rigid:
		return "rigid"
	case Similarity:
		return "similarity"
	default:
		return "affine"
	}
}

// KindFromString parses a transform kind name.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "rigid":
		return Rigid, nil
	case "similarity":
		return Similarity, nil
	case "affine":
		return Affine, nil
	}
	return 0, fmt.Errorf("transform: unknown kind %q", s)
}

// ErrSingularTransform is returned when a transform is constructed with a
// singular linear part.
var ErrSingularTransform = fmt.Errorf("transform: linear part is singular")

// Transform maps a physical point in subject space to a physical point in
// reference space: q = A*p + t. Immutable after construction; the inverse
// linear part is computed once up front so inverse mapping never fails
// later.
type Transform struct {
	kind    Kind
	linear  [3][3]float64
	inverse [3][3]float64
	trans   volume.Vec3
}

// New constructs a transform of the given kind and verifies that the
// linear part is invertible.
func New(kind Kind, linear [3][3]float64, trans volume.Vec3) (*Transform, error) {
	a := mat.NewDense(3, 3, []float64{
		linear[0][0], linear[0][1], linear[0][2],
		linear[1][0], linear[1][1], linear[1][2],
		linear[2][0], linear[2][1], linear[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularTransform, err)
	}
	t := &Transform{kind: kind, linear: linear, trans: trans}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.inverse[i][j] = inv.At(i, j)
		}
	}
	return t, nil
}

// Identity returns the identity transform of the given kind.
func Identity(kind Kind) *Transform {
	t, _ := New(kind, [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, volume.Vec3{})
	return t
}

// Kind returns the transform family.
func (t *Transform) Kind() Kind { return t.kind }

// Linear returns the 3x3 linear part.
func (t *Transform) Linear() [3][3]float64 { return t.linear }

// Translation returns the translation component.
func (t *Transform) Translation() volume.Vec3 { return t.trans }

// Apply forward-maps a physical subject-space point into reference space.
func (t *Transform) Apply(p volume.Vec3) volume.Vec3 {
	return volume.Vec3{
		t.linear[0][0]*p[0] + t.linear[0][1]*p[1] + t.linear[0][2]*p[2] + t.trans[0],
		t.linear[1][0]*p[0] + t.linear[1][1]*p[1] + t.linear[1][2]*p[2] + t.trans[1],
		t.linear[2][0]*p[0] + t.linear[2][1]*p[1] + t.linear[2][2]*p[2] + t.trans[2],
	}
}

// ApplyInverse maps a reference-space point back into subject space.
func (t *Transform) ApplyInverse(q volume.Vec3) volume.Vec3 {
	p := volume.Vec3{q[0] - t.trans[0], q[1] - t.trans[1], q[2] - t.trans[2]}
	return volume.Vec3{
		t.inverse[0][0]*p[0] + t.inverse[0][1]*p[1] + t.inverse[0][2]*p[2],
		t.inverse[1][0]*p[0] + t.inverse[1][1]*p[1] + t.inverse[1][2]*p[2],
		t.inverse[2][0]*p[0] + t.inverse[2][1]*p[1] + t.inverse[2][2]*p[2],
	}
}

// Compose returns the transform equivalent to applying t first and then u:
// (u∘t)(p) = u(t(p)). The result takes u's kind if the kinds differ, since
// composing across families can only generalize.
func Compose(u, t *Transform) (*Transform, error) {
	var linear [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				linear[i][j] += u.linear[i][k] * t.linear[k][j]
			}
		}
	}
	trans := u.Apply(t.trans)
	kind := u.kind
	if t.kind > kind {
		kind = t.kind
	}
	return New(kind, linear, trans)
}

// RotationMatrix builds the 3x3 rotation matrix for a rotation of angle
// radians about the given axis (Rodrigues' formula). The axis need not be
// normalized; a zero axis yields the identity.
func RotationMatrix(axis volume.Vec3, angle float64) [3][3]float64 {
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if n == 0 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	ux, uy, uz := axis[0]/n, axis[1]/n, axis[2]/n
	c, s := math.Cos(angle), math.Sin(angle)
	omc := 1 - c
	return [3][3]float64{
		{c + ux*ux*omc, ux*uy*omc - uz*s, ux*uz*omc + uy*s},
		{uy*ux*omc + uz*s, c + uy*uy*omc, uy*uz*omc - ux*s},
		{uz*ux*omc - uy*s, uz*uy*omc + ux*s, c + uz*uz*omc},
	}
}

// NewRotationAbout builds a rigid transform that rotates by angle radians
// about an axis through the given center point: q = R*(p - c) + c.
func NewRotationAbout(axis volume.Vec3, angle float64, center volume.Vec3) (*Transform, error) {
	r := RotationMatrix(axis, angle)
	rc := volume.Vec3{
		r[0][0]*center[0] + r[0][1]*center[1] + r[0][2]*center[2],
		r[1][0]*center[0] + r[1][1]*center[1] + r[1][2]*center[2],
		r[2][0]*center[0] + r[2][1]*center[1] + r[2][2]*center[2],
	}
	trans := volume.Vec3{center[0] - rc[0], center[1] - rc[1], center[2] - rc[2]}
	return New(Rigid, r, trans)
}
