package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"uct2ccf/pkg/config"
	"uct2ccf/pkg/landmark"
	"uct2ccf/pkg/registration"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

func main() {
	// Parse command line arguments
	landmarksPath := flag.String("landmarks", "", "Landmark pairs JSON file")
	configPath := flag.String("config", "uct2ccf.yaml", "Configuration YAML file")
	kindOverride := flag.String("type", "", "Transform type: rigid, similarity or affine (overrides config)")
	transformOut := flag.String("transform-out", "transform.json", "Output path for the solved transform")
	metricsOut := flag.String("metrics-out", "landmark_errors.json", "Output path for per-landmark error metrics")
	flag.Parse()

	// Validate inputs
	if *landmarksPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	kindName := cfg.Registration.TransformKind
	if *kindOverride != "" {
		kindName = *kindOverride
	}
	kind, err := transform.KindFromString(kindName)
	if err != nil {
		log.Fatalf("Invalid transform type: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MICRO-CT TO COMMON COORDINATE FRAMEWORK REGISTRATION")
	fmt.Println("================================")

	set, err := landmark.Load(*landmarksPath)
	if err != nil {
		log.Fatalf("Failed to load landmarks: %v", err)
	}
	fmt.Printf("Loaded %d landmark pairs from %s\n", set.Len(), *landmarksPath)

	movingSpacing := volume.SpacingFromMicrons(cfg.Registration.MovingSpacingUM)
	fixedSpacing := volume.SpacingFromMicrons(cfg.Registration.FixedSpacingUM)

	fmt.Printf("Solving %s transform...\n", kind)
	startTime := time.Now()
	t, metrics, err := registration.Solve(set, movingSpacing, fixedSpacing, kind)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}

	fmt.Printf("\nSolve completed in %.3f seconds\n\n", time.Since(startTime).Seconds())
	fmt.Printf("Landmark registration errors (mm):\n")
	fmt.Printf("==================================\n")
	fmt.Printf("Pairs: %d\n", metrics.Count)
	fmt.Printf("Mean error: %.4f\n", metrics.Mean)
	fmt.Printf("Std deviation: %.4f\n", metrics.Std)
	fmt.Printf("Min error: %.4f\n", metrics.Min)
	fmt.Printf("Max error: %.4f\n", metrics.Max)

	if err := transform.Save(t, *transformOut); err != nil {
		log.Fatalf("Failed to save transform: %v", err)
	}
	fmt.Printf("\nTransform saved to: %s\n", *transformOut)

	if err := metrics.Save(*metricsOut); err != nil {
		log.Fatalf("Failed to save metrics: %v", err)
	}
	fmt.Printf("Per-landmark metrics saved to: %s\n", *metricsOut)
}
