package volume

import (
	"math"
	"testing"
)

// TestDiscreteGaussianConstant verifies that smoothing a constant image is
// the identity (normalized kernel, replicated borders)
func TestDiscreteGaussianConstant(t *testing.T) {
	img := New([3]int{6, 6, 6})
	for i := range img.Data {
		img.Data[i] = 3.5
	}

	smoothed := img.DiscreteGaussian(4.0)
	for i, v := range smoothed.Data {
		if math.Abs(v-3.5) > 1e-9 {
			t.Fatalf("Expected constant 3.5 after smoothing, got %f at %d", v, i)
		}
	}
}

// TestDiscreteGaussianSpreads verifies that an impulse is spread out and
// its mass is not amplified
func TestDiscreteGaussianSpreads(t *testing.T) {
	img := New([3]int{9, 9, 9})
	img.SetAt(4, 4, 4, 1)

	smoothed := img.DiscreteGaussian(1.0)

	if smoothed.At(4, 4, 4) >= 1 {
		t.Errorf("Expected peak below 1 after smoothing, got %f", smoothed.At(4, 4, 4))
	}
	if smoothed.At(4, 4, 3) <= 0 {
		t.Errorf("Expected mass to spread to neighbors, got %f", smoothed.At(4, 4, 3))
	}
	if math.Abs(smoothed.Sum()-1) > 1e-6 {
		t.Errorf("Expected total mass ~1 away from borders, got %f", smoothed.Sum())
	}
}

// TestDiscreteGaussianZeroVariance verifies the identity shortcut
func TestDiscreteGaussianZeroVariance(t *testing.T) {
	img, _ := FromArray([]float64{1, 2, 3, 4}, [3]int{2, 2, 1})
	out := img.DiscreteGaussian(0)
	for i := range img.Data {
		if out.Data[i] != img.Data[i] {
			t.Errorf("Expected identity for zero variance at %d", i)
		}
	}
}

// TestDiscreteGaussianSpacing verifies the sigma is interpreted in physical
// units: with a large spacing the voxel-space sigma shrinks and smoothing
// weakens
func TestDiscreteGaussianSpacing(t *testing.T) {
	fine := New([3]int{9, 1, 1})
	fine.SetAt(4, 0, 0, 1)

	coarse := fine.Clone()
	coarse.Spacing = [3]float64{4, 4, 4}

	peakFine := fine.DiscreteGaussian(1.0).At(4, 0, 0)
	peakCoarse := coarse.DiscreteGaussian(1.0).At(4, 0, 0)

	if peakCoarse <= peakFine {
		t.Errorf("Expected weaker smoothing at coarse spacing: fine peak %f, coarse peak %f",
			peakFine, peakCoarse)
	}
}

// TestBoxMean verifies the rectangular mean filter in the interior
func TestBoxMean(t *testing.T) {
	img := New([3]int{3, 3, 1})
	img.SetAt(1, 1, 0, 9)

	mean := img.BoxMean([3]int{3, 3, 1})

	// Center window covers the full 3x3 plane: mean = 9/9
	if math.Abs(mean.At(1, 1, 0)-1) > 1e-12 {
		t.Errorf("Expected center mean 1, got %f", mean.At(1, 1, 0))
	}
	// Corner window covers the in-bounds 2x2 part: mean = 9/4
	if math.Abs(mean.At(0, 0, 0)-2.25) > 1e-12 {
		t.Errorf("Expected corner mean 2.25, got %f", mean.At(0, 0, 0))
	}
}

// TestBoxMeanConstant verifies a uniform image is unchanged
func TestBoxMeanConstant(t *testing.T) {
	img := New([3]int{5, 4, 3})
	for i := range img.Data {
		img.Data[i] = 2
	}
	mean := img.BoxMean([3]int{3, 3, 3})
	for i, v := range mean.Data {
		if math.Abs(v-2) > 1e-12 {
			t.Fatalf("Expected constant 2, got %f at %d", v, i)
		}
	}
}
