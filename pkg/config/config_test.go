package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the documented defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Registration.TransformKind != "similarity" {
		t.Errorf("Expected similarity default, got %s", cfg.Registration.TransformKind)
	}
	if cfg.Registration.NumCores < 1 {
		t.Errorf("Expected at least one core, got %d", cfg.Registration.NumCores)
	}
	if len(cfg.Refinement.ShrinkFactors) != 3 || cfg.Refinement.ShrinkFactors[0] != 4 {
		t.Errorf("Expected shrink factors [4 2 1], got %v", cfg.Refinement.ShrinkFactors)
	}
	if cfg.Refinement.SamplingPercent != 0.01 || cfg.Refinement.HistogramBins != 50 {
		t.Error("Unexpected refinement sampling defaults")
	}
	if cfg.Midline.AngleThreshold != 0.001 {
		t.Errorf("Expected angle threshold 0.001, got %v", cfg.Midline.AngleThreshold)
	}
}

// TestLoadConfigMissing verifies fallback to defaults for a missing file
func TestLoadConfigMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Missing config should not error: %v", err)
	}
	if cfg.Registration.TransformKind != "similarity" {
		t.Error("Missing config should return defaults")
	}
}

// TestLoadConfigPartial verifies YAML overrides merge over defaults
func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
registration:
  transformKind: affine
  movingSpacingUM: [50, 25, 25]
midline:
  reverse: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Registration.TransformKind != "affine" {
		t.Errorf("Expected affine override, got %s", cfg.Registration.TransformKind)
	}
	if cfg.Registration.MovingSpacingUM != [3]float64{50, 25, 25} {
		t.Errorf("Expected spacing override, got %v", cfg.Registration.MovingSpacingUM)
	}
	if !cfg.Midline.Reverse {
		t.Error("Expected reverse override")
	}
	// Untouched sections keep their defaults.
	if cfg.Refinement.HistogramBins != 50 {
		t.Errorf("Expected default histogram bins, got %d", cfg.Refinement.HistogramBins)
	}
}

// TestLoadConfigInvalid verifies malformed YAML is rejected
func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("registration: [not a map"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

// TestSaveLoadRoundTrip verifies persistence
func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Registration.TransformKind = "rigid"
	cfg.Refinement.Enabled = true
	cfg.Refinement.Seed = 42

	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Registration.TransformKind != "rigid" {
		t.Errorf("Expected rigid, got %s", loaded.Registration.TransformKind)
	}
	if !loaded.Refinement.Enabled || loaded.Refinement.Seed != 42 {
		t.Error("Refinement settings did not round trip")
	}
}
