package registration

import (
	"math"
	"testing"

	"uct2ccf/pkg/landmark"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// TestPipelineIdentity verifies the end-to-end flow on identical landmark
// sets: the solved transform is the identity and the registered volume
// reproduces the moving volume
func TestPipelineIdentity(t *testing.T) {
	moving := volume.NewEmpty([3]int{6, 6, 6}, [3]float64{1, 1, 1}, volume.Uint16)
	for z := 0; z < 6; z++ {
		for y := 0; y < 6; y++ {
			for x := 0; x < 6; x++ {
				moving.Set(z, y, x, float64(z*36+y*6+x))
			}
		}
	}
	fixed := volume.NewEmpty([3]int{6, 6, 6}, [3]float64{1, 1, 1}, volume.Uint16)

	set := &landmark.Set{}
	for _, p := range []volume.Point{
		{Z: 0, Y: 0, X: 0}, {Z: 5, Y: 0, X: 0}, {Z: 0, Y: 5, X: 0},
		{Z: 0, Y: 0, X: 5}, {Z: 5, Y: 5, X: 5},
	} {
		set.Add(p, p, "")
	}

	params := &Params{
		Kind:          transform.Rigid,
		MovingSpacing: moving.Spacing,
		FixedSpacing:  fixed.Spacing,
		NumCores:      2,
	}
	res, err := NewPipeline(moving, fixed, set, params).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Metrics.Max > 1e-9 {
		t.Errorf("Identity landmarks should fit exactly, max residual %v", res.Metrics.Max)
	}
	if res.Refinement != nil {
		t.Error("Refinement result present although refinement was off")
	}
	if res.Registered.Elem != volume.Uint16 {
		t.Errorf("Registered volume should keep the moving element type, got %s", res.Registered.Elem)
	}
	for i := range moving.Data {
		if res.Registered.Data[i] != moving.Data[i] {
			t.Fatalf("Identity registration changed voxel %d: %v vs %v",
				i, res.Registered.Data[i], moving.Data[i])
		}
	}
}

// TestPipelineTranslation verifies that a pure landmark shift moves the
// volume content onto the fixed grid
func TestPipelineTranslation(t *testing.T) {
	moving := volume.NewEmpty([3]int{8, 8, 8}, [3]float64{1, 1, 1}, volume.Float64)
	moving.Set(2, 2, 2, 100)
	fixed := volume.NewEmpty([3]int{8, 8, 8}, [3]float64{1, 1, 1}, volume.Float64)

	// Every fixed landmark is the moving landmark shifted by +3 along X.
	set := &landmark.Set{}
	for _, p := range []volume.Point{
		{Z: 0, Y: 0, X: 0}, {Z: 4, Y: 0, X: 0}, {Z: 0, Y: 4, X: 0},
		{Z: 0, Y: 0, X: 2}, {Z: 4, Y: 4, X: 2},
	} {
		set.Add(p, volume.Point{Z: p.Z, Y: p.Y, X: p.X + 3}, "")
	}

	params := &Params{
		Kind:          transform.Rigid,
		MovingSpacing: moving.Spacing,
		FixedSpacing:  fixed.Spacing,
		NumCores:      1,
	}
	res, err := NewPipeline(moving, fixed, set, params).Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tr := res.Transform.Translation()
	if math.Abs(tr[0]-3) > 1e-9 || math.Abs(tr[1]) > 1e-9 || math.Abs(tr[2]) > 1e-9 {
		t.Errorf("Expected translation (3,0,0), got %v", tr)
	}
	if got := res.Registered.At(2, 2, 5); math.Abs(got-100) > 1e-9 {
		t.Errorf("Bright voxel should land at X=5, got %v there", got)
	}
	if got := res.Registered.At(2, 2, 2); got != 0 {
		t.Errorf("Vacated position should be fill value, got %v", got)
	}
}

// TestPipelineSolveError verifies solver failures surface from Run
func TestPipelineSolveError(t *testing.T) {
	moving := volume.NewEmpty([3]int{2, 2, 2}, [3]float64{1, 1, 1}, volume.Float64)
	fixed := volume.NewEmpty([3]int{2, 2, 2}, [3]float64{1, 1, 1}, volume.Float64)
	set := &landmark.Set{}
	set.Add(volume.Point{}, volume.Point{}, "")

	params := &Params{
		Kind:          transform.Rigid,
		MovingSpacing: moving.Spacing,
		FixedSpacing:  fixed.Spacing,
	}
	if _, err := NewPipeline(moving, fixed, set, params).Run(); err == nil {
		t.Error("Expected error for a single landmark pair")
	}
}
