// Package mapping converts marked subject voxel coordinates into
// reference-atlas voxel coordinates, applying the registration transform
// when the marks were made on the unregistered subject volume.
package mapping

import (
	"fmt"

	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// Mode describes which space the marked points live in.
type Mode int

const (
	// DirectlyRegistered: points were marked on the already-registered
	// volume and are reference voxel coordinates as-is.
	DirectlyRegistered Mode = iota

	// NeedsTransform: points were marked on the unregistered subject
	// volume and must pass through the registration transform.
	NeedsTransform
)

// Mapper maps subject voxel points into the reference grid.
type Mapper struct {
	mode           Mode
	t              *transform.Transform
	subjectSpacing [3]float64
	refSpacing     [3]float64
}

// New builds a mapper. The transform may be nil only in
// DirectlyRegistered mode.
func New(mode Mode, t *transform.Transform, subjectSpacing, refSpacing [3]float64) (*Mapper, error) {
	if mode == NeedsTransform && t == nil {
		return nil, fmt.Errorf("mapping: transform is required when points need transforming")
	}
	return &Mapper{mode: mode, t: t, subjectSpacing: subjectSpacing, refSpacing: refSpacing}, nil
}

// MapPoint converts one marked voxel coordinate to a reference voxel
// coordinate. In DirectlyRegistered mode the input is returned unchanged;
// otherwise the point is lifted to subject physical space, pushed through
// the transform, and snapped onto the reference grid by rounding.
//
// The result may lie outside the reference volume; callers check bounds
// at lookup time.
func (m *Mapper) MapPoint(p volume.Point) volume.Point {
	if m.mode == DirectlyRegistered {
		return p
	}
	phys := m.t.Apply(p.Physical(m.subjectSpacing))
	return volume.IndexFromPhysical(phys, m.refSpacing)
}

// MapPoints converts a batch of marked points.
func (m *Mapper) MapPoints(pts []volume.Point) []volume.Point {
	out := make([]volume.Point, len(pts))
	for i, p := range pts {
		out[i] = m.MapPoint(p)
	}
	return out
}
