package registration

import (
	"fmt"

	"uct2ccf/pkg/landmark"
	"uct2ccf/pkg/refine"
	"uct2ccf/pkg/resample"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// Params holds the end-to-end registration configuration.
type Params struct {
	// Kind selects the transform family solved from the landmarks.
	Kind transform.Kind

	// MovingSpacing and FixedSpacing are the voxel sizes in mm of the
	// subject and reference volumes, in (Z, Y, X) order.
	MovingSpacing [3]float64
	FixedSpacing  [3]float64

	// Refine enables intensity-based refinement of the landmark solve.
	Refine bool

	// RefineConfig configures the refinement stage; zero values select
	// the refiner defaults.
	RefineConfig refine.Config

	// NumCores specifies how many CPU cores the resampling stage uses.
	// Zero or negative selects all available cores.
	NumCores int

	// Verbose enables per-stage progress output.
	Verbose bool
}

// Result is the output of a pipeline run.
type Result struct {
	// Registered is the moving volume resampled onto the fixed grid.
	Registered *volume.Volume

	// Transform maps moving physical points to fixed physical points.
	// When refinement ran, this is the refined transform.
	Transform *transform.Transform

	// Metrics holds the per-landmark residuals of the closed-form solve.
	Metrics landmark.Metrics

	// Refinement is the refinement outcome, nil when refinement was off.
	Refinement *refine.Result
}

// Pipeline runs the registration stages in order: closed-form landmark
// solve, optional intensity refinement, and resampling of the moving
// volume onto the fixed grid.
type Pipeline struct {
	params *Params
	moving *volume.Volume
	fixed  *volume.Volume
	set    *landmark.Set
}

// NewPipeline creates a pipeline over the two volumes and their paired
// landmarks.
func NewPipeline(moving, fixed *volume.Volume, set *landmark.Set, params *Params) *Pipeline {
	return &Pipeline{
		params: params,
		moving: moving,
		fixed:  fixed,
		set:    set,
	}
}

// Run executes the pipeline and returns the registered volume with the
// final transform and solve metrics.
func (p *Pipeline) Run() (*Result, error) {
	if p.params.Verbose {
		fmt.Printf("Solving %s transform from %d landmark pairs...\n", p.params.Kind, p.set.Len())
	}
	t, metrics, err := Solve(p.set, p.params.MovingSpacing, p.params.FixedSpacing, p.params.Kind)
	if err != nil {
		return nil, fmt.Errorf("landmark solve failed: %w", err)
	}
	if p.params.Verbose {
		fmt.Printf("Mean landmark error: %.4f mm (max %.4f mm)\n", metrics.Mean, metrics.Max)
	}

	res := &Result{Transform: t, Metrics: metrics}

	if p.params.Refine {
		if p.params.Verbose {
			fmt.Println("Refining transform with mutual information...")
		}
		refiner, err := refine.NewRefiner(p.params.RefineConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid refinement config: %w", err)
		}
		rr, err := refiner.Refine(p.moving.NormalizePercentile(0.01, 0.99),
			p.fixed.NormalizePercentile(0.01, 0.99), t)
		if err != nil {
			return nil, fmt.Errorf("refinement failed: %w", err)
		}
		res.Transform = rr.Transform
		res.Refinement = rr
		if p.params.Verbose {
			fmt.Printf("Refinement stopped after %d iterations (%s), metric %.6f\n",
				rr.Iterations, rr.Stop, rr.Metric)
		}
	}

	if p.params.Verbose {
		fmt.Println("Resampling onto the reference grid...")
	}
	res.Registered = resample.Resample(p.moving, resample.GridOf(p.fixed),
		res.Transform, resample.Linear, p.params.NumCores).ClipCast(p.moving.Elem)
	return res, nil
}
