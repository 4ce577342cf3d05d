package transform

import (
	"encoding/json"
	"fmt"
	"os"

	"uct2ccf/pkg/volume"
)

// serialized is the on-disk form of a transform: a kind tag plus the
// twelve numeric parameters, row-major linear part first. The format
// round-trips losslessly: a loaded transform maps points identically to
// the original within floating tolerance.
type serialized struct {
	Kind        string     `json:"kind"`
	Linear      [9]float64 `json:"linear"`
	Translation [3]float64 `json:"translation"`
}

// Marshal encodes a transform as a JSON blob.
func Marshal(t *Transform) ([]byte, error) {
	s := serialized{Kind: t.kind.String()}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.Linear[i*3+j] = t.linear[i][j]
		}
	}
	s.Translation = t.trans
	return json.MarshalIndent(s, "", "  ")
}

// Unmarshal decodes a transform from its JSON blob, re-running the
// singularity check so a corrupted file cannot produce an unusable
// transform later.
func Unmarshal(data []byte) (*Transform, error) {
	var s serialized
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("transform: decoding: %w", err)
	}
	kind, err := KindFromString(s.Kind)
	if err != nil {
		return nil, err
	}
	var linear [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			linear[i][j] = s.Linear[i*3+j]
		}
	}
	return New(kind, linear, volume.Vec3(s.Translation))
}

// Save writes a transform to a file.
func Save(t *Transform, path string) error {
	data, err := Marshal(t)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("transform: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a transform from a file.
func Load(path string) (*Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transform: reading %s: %w", path, err)
	}
	return Unmarshal(data)
}
