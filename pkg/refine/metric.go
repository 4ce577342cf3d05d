package refine

import (
	"math"

	"golang.org/x/exp/rand"

	"uct2ccf/pkg/resample"
	"uct2ccf/pkg/transform"
	"uct2ccf/pkg/volume"
)

// samplePoint is one fixed-volume voxel drawn for metric evaluation,
// cached as a physical point with its intensity.
type samplePoint struct {
	phys  volume.Vec3
	value float64
}

// drawSamples picks a random subset of fixed-volume voxels. The fraction
// is clamped so at least one voxel is always drawn; the generator is
// seeded by the caller so runs are reproducible.
func drawSamples(fixed *volume.Volume, fraction float64, rng *rand.Rand) []samplePoint {
	total := fixed.Shape[0] * fixed.Shape[1] * fixed.Shape[2]
	count := int(fraction * float64(total))
	if count < 1 {
		count = 1
	}
	if count > total {
		count = total
	}

	samples := make([]samplePoint, count)
	for i := range samples {
		z := rng.Intn(fixed.Shape[0])
		y := rng.Intn(fixed.Shape[1])
		x := rng.Intn(fixed.Shape[2])
		samples[i] = samplePoint{
			phys:  fixed.PhysicalAt(float64(z), float64(y), float64(x)),
			value: fixed.At(z, y, x),
		}
	}
	return samples
}

// mutualInformation evaluates the mutual information between the sampled
// fixed intensities and the moving volume interpolated at the transformed
// sample positions. Samples mapping outside the moving volume are
// discarded; if fewer than two samples survive the metric is zero.
func mutualInformation(moving *volume.Volume, samples []samplePoint, t *transform.Transform, bins int) float64 {
	type pair struct{ fixed, moving float64 }
	pairs := make([]pair, 0, len(samples))

	fMin, fMax := math.Inf(1), math.Inf(-1)
	mMin, mMax := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		z, y, x := moving.ContinuousIndexOf(t.ApplyInverse(s.phys))
		if z < 0 || z > float64(moving.Shape[0]-1) ||
			y < 0 || y > float64(moving.Shape[1]-1) ||
			x < 0 || x > float64(moving.Shape[2]-1) {
			continue
		}
		mv := resample.Sample(moving, z, y, x, resample.Linear)
		pairs = append(pairs, pair{s.value, mv})
		fMin = math.Min(fMin, s.value)
		fMax = math.Max(fMax, s.value)
		mMin = math.Min(mMin, mv)
		mMax = math.Max(mMax, mv)
	}
	if len(pairs) < 2 || fMax <= fMin || mMax <= mMin {
		return 0
	}

	joint := make([]float64, bins*bins)
	for _, p := range pairs {
		fi := binOf(p.fixed, fMin, fMax, bins)
		mi := binOf(p.moving, mMin, mMax, bins)
		joint[fi*bins+mi]++
	}
	n := float64(len(pairs))
	margF := make([]float64, bins)
	margM := make([]float64, bins)
	for fi := 0; fi < bins; fi++ {
		for mi := 0; mi < bins; mi++ {
			p := joint[fi*bins+mi] / n
			joint[fi*bins+mi] = p
			margF[fi] += p
			margM[mi] += p
		}
	}

	mi := 0.0
	for fi := 0; fi < bins; fi++ {
		for mj := 0; mj < bins; mj++ {
			p := joint[fi*bins+mj]
			if p > 0 {
				mi += p * math.Log(p/(margF[fi]*margM[mj]))
			}
		}
	}
	return mi
}

func binOf(v, min, max float64, bins int) int {
	i := int(float64(bins) * (v - min) / (max - min))
	if i >= bins {
		i = bins - 1
	}
	return i
}
