package fusion

import (
	"fmt"
	"math"

	"atlasfusion/pkg/volume"
)

// StapleOptions controls the STAPLE expectation-maximization loop.
type StapleOptions struct {
	// MaxIterations caps the EM loop.
	MaxIterations int

	// Tolerance stops the loop once the largest per-voxel change of the
	// consensus probability falls below it.
	Tolerance float64
}

// DefaultStapleOptions returns the standard iteration limits.
func DefaultStapleOptions() StapleOptions {
	return StapleOptions{MaxIterations: 50, Tolerance: 1e-6}
}

// StapleEstimate runs the STAPLE algorithm (Simultaneous Truth and
// Performance Level Estimation) over a set of binary label images on a
// common grid. It jointly estimates each rater's sensitivity and specificity
// together with the per-voxel probability of the hidden ground-truth label,
// and returns that probability image.
//
// Inputs must be binary (0/1); callers fuse probabilistic labels by
// binarizing them first.
func StapleEstimate(labels []*volume.Image, opts StapleOptions) (*volume.Image, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("staple requires at least one label image")
	}
	ref := labels[0]
	for i, l := range labels[1:] {
		if l.NumVoxels() != ref.NumVoxels() {
			return nil, fmt.Errorf("label %d grid mismatch: %v vs %v", i+1, l.Size, ref.Size)
		}
	}
	if opts.MaxIterations <= 0 {
		opts = DefaultStapleOptions()
	}

	n := ref.NumVoxels()
	m := len(labels)

	// Initialize the consensus with the mean rating; the global prior is the
	// mean of the consensus.
	w := make([]float64, n)
	for _, l := range labels {
		for i, v := range l.Data {
			if v != 0 {
				w[i]++
			}
		}
	}
	var prior float64
	for i := range w {
		w[i] /= float64(m)
		prior += w[i]
	}
	prior /= float64(n)
	if prior <= 0 || prior >= 1 {
		// Unanimous all-foreground or all-background input: the consensus is
		// already exact and the EM update is degenerate.
		out := volume.NewLike(ref)
		copy(out.Data, w)
		return out, nil
	}

	// Performance parameters are clamped away from 0 and 1 so the Bayes
	// products stay finite.
	const eps = 1e-7
	clamp := func(v float64) float64 {
		return math.Min(math.Max(v, eps), 1-eps)
	}

	sensitivity := make([]float64, m)
	specificity := make([]float64, m)
	wNext := make([]float64, n)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		// M-step: rater performance given the current consensus.
		var sumW, sumNotW float64
		for _, v := range w {
			sumW += v
			sumNotW += 1 - v
		}
		for j, l := range labels {
			var hit, reject float64
			for i, v := range l.Data {
				if v != 0 {
					hit += w[i]
				} else {
					reject += 1 - w[i]
				}
			}
			sensitivity[j] = clamp(hit / sumW)
			specificity[j] = clamp(reject / sumNotW)
		}

		// E-step: per-voxel truth probability from the rater decisions.
		maxDelta := 0.0
		for i := 0; i < n; i++ {
			a := prior
			b := 1 - prior
			for j, l := range labels {
				if l.Data[i] != 0 {
					a *= sensitivity[j]
					b *= 1 - specificity[j]
				} else {
					a *= 1 - sensitivity[j]
					b *= specificity[j]
				}
			}
			var next float64
			if a+b > 0 {
				next = a / (a + b)
			} else {
				next = prior
			}
			if d := math.Abs(next - w[i]); d > maxDelta {
				maxDelta = d
			}
			wNext[i] = next
		}
		w, wNext = wNext, w

		if maxDelta < opts.Tolerance {
			break
		}
	}

	out := volume.NewLike(ref)
	copy(out.Data, w)
	return out, nil
}
