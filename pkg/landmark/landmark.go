// Package landmark holds corresponding point pairs between the subject
// (moving) volume and the reference (fixed) atlas volume, their residual
// metrics, and the persisted interchange format. Pairs are identified in
// voxel coordinates; physical conversion happens at solve time using each
// volume's spacing.
package landmark

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"uct2ccf/pkg/volume"
)

// conventionTag records the index order used by every persisted coordinate.
const conventionTag = "Z, Y, X"

// Pair is one subject/reference correspondence, optionally named.
type Pair struct {
	Moving volume.Point
	Fixed  volume.Point
	Name   string
}

// Set is an ordered list of landmark pairs. Order is meaningful: pair i of
// a loaded set corresponds to pair i of the saved one.
type Set struct {
	Pairs []Pair
}

// Add appends a pair.
func (s *Set) Add(moving, fixed volume.Point, name string) {
	s.Pairs = append(s.Pairs, Pair{Moving: moving, Fixed: fixed, Name: name})
}

// Len returns the number of pairs.
func (s *Set) Len() int { return len(s.Pairs) }

// Metrics summarizes per-landmark registration residuals in millimeters.
// It doubles as the exported metrics record.
type Metrics struct {
	Residuals  []float64 `json:"errors_per_landmark_mm"`
	Mean       float64   `json:"mean_error_mm"`
	Std        float64   `json:"std_error_mm"`
	Min        float64   `json:"min_error_mm"`
	Max        float64   `json:"max_error_mm"`
	Count      int       `json:"num_landmarks"`
	Convention string    `json:"coordinate_convention"`
}

// NewMetrics computes summary statistics over per-landmark residuals.
func NewMetrics(residuals []float64) Metrics {
	m := Metrics{
		Residuals:  residuals,
		Count:      len(residuals),
		Convention: conventionTag,
	}
	if len(residuals) == 0 {
		return m
	}
	m.Mean = stat.Mean(residuals, nil)
	m.Min = floats.Min(residuals)
	m.Max = floats.Max(residuals)
	if len(residuals) > 1 {
		m.Std = stat.StdDev(residuals, nil)
	}
	return m
}

// Save writes the metrics record as JSON.
func (m Metrics) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("landmark: writing metrics %s: %w", path, err)
	}
	return nil
}

// fileFormat is the persisted landmark layout: ordered coordinate triples
// in (Z, Y, X) order with optional names and an explicit convention tag.
type fileFormat struct {
	Moving     [][3]int `json:"moving_landmarks"`
	Fixed      [][3]int `json:"fixed_landmarks"`
	Names      []string `json:"landmark_names"`
	NumPairs   int      `json:"num_pairs"`
	Convention string   `json:"coordinate_convention"`
}

// Marshal encodes the set for persistence.
func (s *Set) Marshal() ([]byte, error) {
	f := fileFormat{
		Moving:     make([][3]int, len(s.Pairs)),
		Fixed:      make([][3]int, len(s.Pairs)),
		Names:      make([]string, len(s.Pairs)),
		NumPairs:   len(s.Pairs),
		Convention: conventionTag,
	}
	for i, p := range s.Pairs {
		f.Moving[i] = [3]int{p.Moving.Z, p.Moving.Y, p.Moving.X}
		f.Fixed[i] = [3]int{p.Fixed.Z, p.Fixed.Y, p.Fixed.X}
		f.Names[i] = p.Name
	}
	return json.MarshalIndent(f, "", "  ")
}

// Unmarshal decodes a persisted set, re-validating the 1:1 pairing
// invariant: mismatched moving/fixed counts mean the file was produced by
// an interrupted marking session and cannot be used.
func Unmarshal(data []byte) (*Set, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("landmark: decoding: %w", err)
	}
	if len(f.Moving) != len(f.Fixed) {
		return nil, fmt.Errorf("landmark: unpaired landmarks: %d moving, %d fixed",
			len(f.Moving), len(f.Fixed))
	}
	s := &Set{Pairs: make([]Pair, len(f.Moving))}
	for i := range f.Moving {
		s.Pairs[i] = Pair{
			Moving: volume.Point{Z: f.Moving[i][0], Y: f.Moving[i][1], X: f.Moving[i][2]},
			Fixed:  volume.Point{Z: f.Fixed[i][0], Y: f.Fixed[i][1], X: f.Fixed[i][2]},
		}
		if i < len(f.Names) {
			s.Pairs[i].Name = f.Names[i]
		}
	}
	return s, nil
}

// Save writes the set to a file.
func (s *Set) Save(path string) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("landmark: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a set from a file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("landmark: reading %s: %w", path, err)
	}
	return Unmarshal(data)
}

// Distance returns the Euclidean distance in mm between two physical
// points.
func Distance(a, b volume.Vec3) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
