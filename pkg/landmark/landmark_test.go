package landmark

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"uct2ccf/pkg/volume"
)

// TestSaveLoadRoundTrip verifies that order, coordinates and names survive
// persistence
func TestSaveLoadRoundTrip(t *testing.T) {
	s := &Set{}
	s.Add(volume.Point{Z: 1, Y: 2, X: 3}, volume.Point{Z: 10, Y: 20, X: 30}, "bregma")
	s.Add(volume.Point{Z: 4, Y: 5, X: 6}, volume.Point{Z: 40, Y: 50, X: 60}, "lambda")
	s.Add(volume.Point{Z: 7, Y: 8, X: 9}, volume.Point{Z: 70, Y: 80, X: 90}, "")

	path := filepath.Join(t.TempDir(), "landmarks.json")
	if err := s.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Len() != s.Len() {
		t.Fatalf("Expected %d pairs, got %d", s.Len(), loaded.Len())
	}
	for i := range s.Pairs {
		if loaded.Pairs[i] != s.Pairs[i] {
			t.Errorf("Pair %d changed: expected %+v, got %+v", i, s.Pairs[i], loaded.Pairs[i])
		}
	}
}

// TestMarshalConvention verifies the explicit coordinate convention tag in
// the persisted file
func TestMarshalConvention(t *testing.T) {
	s := &Set{}
	s.Add(volume.Point{Z: 1, Y: 2, X: 3}, volume.Point{Z: 4, Y: 5, X: 6}, "p0")
	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"coordinate_convention": "Z, Y, X"`) {
		t.Error("Persisted landmarks must carry the coordinate convention tag")
	}
	if !strings.Contains(string(data), `"num_pairs": 1`) {
		t.Error("Persisted landmarks must carry the pair count")
	}
}

// TestUnmarshalUnpaired verifies rejection of mismatched moving/fixed lists
func TestUnmarshalUnpaired(t *testing.T) {
	blob := []byte(`{
		"moving_landmarks": [[1,2,3],[4,5,6]],
		"fixed_landmarks": [[1,2,3]],
		"landmark_names": ["a","b"],
		"num_pairs": 2,
		"coordinate_convention": "Z, Y, X"
	}`)
	if _, err := Unmarshal(blob); err == nil {
		t.Error("Expected error for unpaired landmark lists")
	}
}

// TestNewMetrics verifies the summary statistics and their edge cases
func TestNewMetrics(t *testing.T) {
	m := NewMetrics([]float64{1, 2, 3, 4})
	if m.Mean != 2.5 {
		t.Errorf("Expected mean 2.5, got %v", m.Mean)
	}
	if m.Min != 1 || m.Max != 4 {
		t.Errorf("Expected min 1 max 4, got %v %v", m.Min, m.Max)
	}
	if m.Count != 4 {
		t.Errorf("Expected count 4, got %d", m.Count)
	}
	// Sample standard deviation of 1..4.
	want := math.Sqrt(5.0 / 3.0)
	if math.Abs(m.Std-want) > 1e-12 {
		t.Errorf("Expected std %v, got %v", want, m.Std)
	}

	single := NewMetrics([]float64{2})
	if single.Std != 0 {
		t.Errorf("Std of a single residual should be 0, got %v", single.Std)
	}

	empty := NewMetrics(nil)
	if empty.Count != 0 || empty.Mean != 0 {
		t.Error("Empty metrics should be all zero")
	}
}

// TestDistance verifies the physical distance helper
func TestDistance(t *testing.T) {
	d := Distance(volume.Vec3{0, 0, 0}, volume.Vec3{3, 4, 0})
	if d != 5 {
		t.Errorf("Expected 5, got %v", d)
	}
	if Distance(volume.Vec3{1, 1, 1}, volume.Vec3{1, 1, 1}) != 0 {
		t.Error("Distance of identical points should be 0")
	}
}
