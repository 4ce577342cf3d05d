// Package refine improves a landmark-derived transform by maximizing the
// mutual information between the fixed volume and the transformed moving
// volume over a multi-resolution pyramid, using randomly sampled voxels
// and gradient ascent on a small perturbation of the initial transform.
package refine

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// StopCondition records why the optimizer at the final pyramid level
// stopped iterating.
type StopCondition int

const (
	// Converged: the metric spread over the trailing window fell below
	// the tolerance.
	Converged StopCondition = iota

	// IterationLimit: the per-level iteration budget ran out.
	IterationLimit

	// NoImprovement: the step size decayed to its floor without the
	// metric improving.
	NoImprovement
)

func (s StopCondition) String() string {
	switch s {
	case Converged:
		return "converged"
	case IterationLimit:
		return "iteration limit"
	default:
		return "no improvement"
	}
}

// ProgressFunc receives per-iteration progress: the pyramid level (0-based,
// coarsest first), the iteration within the level, and the current metric.
type ProgressFunc func(level, iteration int, metric float64)

// Config holds the refinement parameters. Zero values select the
// defaults listed on each field.
type Config struct {
	// MaxIterations caps the optimizer iterations per pyramid level.
	// Default 100.
	MaxIterations int `yaml:"max_iterations"`

	// Tolerance is the metric spread over the trailing window below
	// which the level is considered converged. Default 1e-6.
	Tolerance float64 `yaml:"tolerance"`

	// ShrinkFactors lists the per-level downsampling factors, coarsest
	// first. Default [4, 2, 1].
	ShrinkFactors []int `yaml:"shrink_factors"`

	// SmoothingSigmas lists the per-level Gaussian sigmas in mm,
	// matching ShrinkFactors. Default [2, 1, 0].
	SmoothingSigmas []float64 `yaml:"smoothing_sigmas"`

	// SamplingPercent is the fraction of fixed voxels sampled for the
	// metric. Default 0.01.
	SamplingPercent float64 `yaml:"sampling_percent"`

	// HistogramBins is the joint histogram size per axis. Default 50.
	HistogramBins int `yaml:"histogram_bins"`

	// Seed makes the random voxel sampling reproducible. Default 1.
	Seed uint64 `yaml:"seed"`

	// LearningRate is the initial gradient-ascent step. Default 0.1.
	LearningRate float64 `yaml:"learning_rate"`

	// Progress, when set, is invoked once per optimizer iteration.
	Progress ProgressFunc `yaml:"-"`
}

// convergenceWindow is the trailing metric window used for the
// convergence test.
const convergenceWindow = 10

// withDefaults fills unset config fields.
func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-6
	}
	if len(c.ShrinkFactors) == 0 {
		c.ShrinkFactors = []int{4, 2, 1}
	}
	if len(c.SmoothingSigmas) == 0 {
		c.SmoothingSigmas = []float64{2, 1, 0}
	}
	if c.SamplingPercent <= 0 {
		c.SamplingPercent = 0.01
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = 50
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	return c
}

// Result is the outcome of a refinement run.
type Result struct {
	// Transform is the refined transform. It always has the same kind
	// as the initial transform.
	Transform *transform.Transform

	// Metric is the final mutual information value at full resolution.
	Metric float64

	// Stop is the stop condition of the final pyramid level.
	Stop StopCondition

	// Iterations is the total iteration count across all levels.
	Iterations int
}

// Refiner runs intensity-based refinement of an initial transform.
type Refiner struct {
	cfg Config
}

// NewRefiner builds a refiner, applying defaults and validating the
// pyramid schedule.
func NewRefiner(cfg Config) (*Refiner, error) {
	cfg = cfg.withDefaults()
	if len(cfg.ShrinkFactors) != len(cfg.SmoothingSigmas) {
		return nil, fmt.Errorf("refine: %d shrink factors but %d smoothing sigmas",
			len(cfg.ShrinkFactors), len(cfg.SmoothingSigmas))
	}
	for _, f := range cfg.ShrinkFactors {
		if f < 1 {
			return nil, fmt.Errorf("refine: shrink factor %d must be >= 1", f)
		}
	}
	return &Refiner{cfg: cfg}, nil
}

// Refine optimizes the initial moving-to-fixed transform against the
// volumes and returns the refined transform together with the final
// metric and stop condition. The initial transform is not modified and
// the result stays within its transform family.
func (r *Refiner) Refine(moving, fixed *volume.Volume, initial *transform.Transform) (*Result, error) {
	if initial == nil {
		return nil, fmt.Errorf("refine: initial transform is required")
	}

	center := fixed.PhysicalAt(
		float64(fixed.Shape[0]-1)/2,
		float64(fixed.Shape[1]-1)/2,
		float64(fixed.Shape[2]-1)/2,
	)
	params := make([]float64, paramCount(initial.Kind()))
	scales := paramScales(initial.Kind(), fixed, center)

	res := &Result{Stop: IterationLimit}
	for level, factor := range r.cfg.ShrinkFactors {
		pl := buildLevel(moving, fixed, factor, r.cfg.SmoothingSigmas[level])
		rng := rand.New(rand.NewSource(r.cfg.Seed + uint64(level)))

		metric, stop, iters, err := r.optimizeLevel(level, pl, rng, initial, center, params, scales)
		if err != nil {
			return nil, err
		}
		res.Metric = metric
		res.Stop = stop
		res.Iterations += iters
	}

	t, err := applyParams(initial, params, center)
	if err != nil {
		return nil, err
	}
	res.Transform = t
	return res, nil
}

// optimizeLevel runs gradient ascent on the perturbation parameters at
// one pyramid level. A fresh voxel subsample is drawn every iteration,
// and each parameter is perturbed and stepped through its physical-shift
// scale so a unit optimizer step displaces the farthest volume point by a
// comparable distance whether the parameter is an angle, a log scale or a
// millimeter offset. The params slice is updated in place so the next
// level continues from the current estimate.
func (r *Refiner) optimizeLevel(level int, pl pyramidLevel, rng *rand.Rand, initial *transform.Transform, center volume.Vec3, params, scales []float64) (float64, StopCondition, int, error) {
	const (
		gradStep = 1e-3 // mm of physical shift per finite-difference step
		minStep  = 1e-8
	)

	evaluate := func(p []float64, samples []samplePoint) (float64, error) {
		t, err := applyParams(initial, p, center)
		if err != nil {
			return 0, err
		}
		return mutualInformation(pl.moving, samples, t, r.cfg.HistogramBins), nil
	}

	step := r.cfg.LearningRate
	metric := 0.0
	window := make([]float64, 0, convergenceWindow)

	for iter := 0; iter < r.cfg.MaxIterations; iter++ {
		samples := drawSamples(pl.fixed, r.cfg.SamplingPercent, rng)
		current, err := evaluate(params, samples)
		if err != nil {
			return 0, IterationLimit, iter, err
		}
		metric = current

		// Gradient with respect to the physical-shift reparameterization
		// phi_i = theta_i * scales[i].
		grad := make([]float64, len(params))
		norm := 0.0
		for i := range params {
			h := gradStep / scales[i]
			trial := append([]float64(nil), params...)
			trial[i] += h
			plus, err := evaluate(trial, samples)
			if err != nil {
				return 0, IterationLimit, iter, err
			}
			trial[i] -= 2 * h
			minus, err := evaluate(trial, samples)
			if err != nil {
				return 0, IterationLimit, iter, err
			}
			grad[i] = (plus - minus) / (2 * gradStep)
			norm += grad[i] * grad[i]
		}
		norm = math.Sqrt(norm)

		if norm > 0 {
			candidate := append([]float64(nil), params...)
			for i := range candidate {
				candidate[i] += step * grad[i] / (norm * scales[i])
			}
			next, err := evaluate(candidate, samples)
			if err != nil {
				return 0, IterationLimit, iter, err
			}
			if next > current {
				metric = next
				copy(params, candidate)
			} else {
				step /= 2
			}
		} else {
			step /= 2
		}

		if r.cfg.Progress != nil {
			r.cfg.Progress(level, iter, metric)
		}

		window = append(window, metric)
		if len(window) > convergenceWindow {
			window = window[1:]
		}
		if len(window) == convergenceWindow && spread(window) < r.cfg.Tolerance {
			return metric, Converged, iter + 1, nil
		}
		if step < minStep {
			return metric, NoImprovement, iter + 1, nil
		}
	}
	return metric, IterationLimit, r.cfg.MaxIterations, nil
}

// spread returns the metric range over a window.
func spread(window []float64) float64 {
	min, max := window[0], window[0]
	for _, v := range window[1:] {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	return max - min
}

// paramScales returns, per parameter, the approximate physical
// displacement in mm of the farthest fixed-volume point caused by a unit
// change of that parameter. Rotation, log-scale and linear-entry
// parameters move points in proportion to the volume radius about the
// rotation center; translations are already in mm.
func paramScales(kind transform.Kind, fixed *volume.Volume, center volume.Vec3) []float64 {
	radius := 0.0
	for _, zi := range []int{0, fixed.Shape[0] - 1} {
		for _, yi := range []int{0, fixed.Shape[1] - 1} {
			for _, xi := range []int{0, fixed.Shape[2] - 1} {
				c := fixed.PhysicalAt(float64(zi), float64(yi), float64(xi))
				d := 0.0
				for k := 0; k < 3; k++ {
					d += (c[k] - center[k]) * (c[k] - center[k])
				}
				radius = math.Max(radius, math.Sqrt(d))
			}
		}
	}
	if radius == 0 {
		radius = 1
	}

	scales := make([]float64, paramCount(kind))
	for i := range scales {
		scales[i] = radius
	}
	switch kind {
	case transform.Affine:
		scales[9], scales[10], scales[11] = 1, 1, 1
	default:
		scales[3], scales[4], scales[5] = 1, 1, 1
	}
	return scales
}

// paramCount returns the perturbation dimension per transform family:
// 6 for rigid (rotation + translation), 7 for similarity (plus log
// scale), 12 for affine (full linear part + translation).
func paramCount(kind transform.Kind) int {
	switch kind {
	case transform.Similarity:
		return 7
	case transform.Affine:
		return 12
	default:
		return 6
	}
}

// applyParams composes the perturbation described by params with the
// initial transform. The perturbation acts in fixed physical space about
// the given center, so rotation parameters do not drag the volume away
// from the field of view.
func applyParams(initial *transform.Transform, params []float64, center volume.Vec3) (*transform.Transform, error) {
	kind := initial.Kind()
	var linear [3][3]float64
	var shift volume.Vec3

	switch kind {
	case transform.Affine:
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				linear[i][j] = params[3*i+j]
				if i == j {
					linear[i][j]++
				}
			}
			shift[i] = params[9+i]
		}
	default:
		rot := eulerRotation(params[0], params[1], params[2])
		scale := 1.0
		if kind == transform.Similarity {
			scale = math.Exp(params[6])
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				linear[i][j] = scale * rot[i][j]
			}
			shift[i] = params[3+i]
		}
	}

	// Recentre: q = L(p - c) + c + shift.
	var trans volume.Vec3
	for i := 0; i < 3; i++ {
		trans[i] = center[i] + shift[i]
		for j := 0; j < 3; j++ {
			trans[i] -= linear[i][j] * center[j]
		}
	}
	delta, err := transform.New(kind, linear, trans)
	if err != nil {
		return nil, fmt.Errorf("refine: perturbation is singular: %v", err)
	}
	return transform.Compose(delta, initial)
}

// eulerRotation builds Rz(c)*Ry(b)*Rx(a) for small perturbation angles.
func eulerRotation(a, b, c float64) [3][3]float64 {
	rx := transform.RotationMatrix(volume.Vec3{1, 0, 0}, a)
	ry := transform.RotationMatrix(volume.Vec3{0, 1, 0}, b)
	rz := transform.RotationMatrix(volume.Vec3{0, 0, 1}, c)
	return matMul(rz, matMul(ry, rx))
}

func matMul(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}
