package registration

import (
	"math"
	"testing"

	"atlasfusion/pkg/volume"
)

// TestSmoothAndResampleGrid verifies the output grid is isotropic at the
// requested spacing and covers the same physical extent
func TestSmoothAndResampleGrid(t *testing.T) {
	img := volume.New([3]int{8, 8, 4})
	img.Spacing = [3]float64{1, 1, 2}

	out, err := SmoothAndResample(img, 2)
	if err != nil {
		t.Fatalf("SmoothAndResample failed: %v", err)
	}

	for a := 0; a < 3; a++ {
		if out.Spacing[a] != 2 {
			t.Errorf("Expected isotropic spacing 2 on axis %d, got %f", a, out.Spacing[a])
		}
	}
	// Physical extent per axis: 8mm, 8mm, 8mm -> 4x4x4 voxels at 2mm
	if out.Size != [3]int{4, 4, 4} {
		t.Errorf("Expected size 4x4x4, got %v", out.Size)
	}
}

// TestSmoothAndResampleConstant verifies a constant field survives both the
// anti-aliasing blur and the resampling
func TestSmoothAndResampleConstant(t *testing.T) {
	img := volume.New([3]int{8, 8, 8})
	for i := range img.Data {
		img.Data[i] = 5
	}

	out, err := SmoothAndResample(img, 2)
	if err != nil {
		t.Fatalf("SmoothAndResample failed: %v", err)
	}
	for i, v := range out.Data {
		if math.Abs(v-5) > 1e-9 {
			t.Fatalf("Expected constant 5 after resampling, got %f at %d", v, i)
		}
	}
}

// TestSmoothAndResampleMatchingSpacing verifies no blur is applied when the
// spacing does not change
func TestSmoothAndResampleMatchingSpacing(t *testing.T) {
	img := volume.New([3]int{6, 6, 6})
	img.SetAt(3, 3, 3, 1)

	out, err := SmoothAndResample(img, 1)
	if err != nil {
		t.Fatalf("SmoothAndResample failed: %v", err)
	}
	if out.Size != img.Size {
		t.Fatalf("Expected unchanged size, got %v", out.Size)
	}
	if math.Abs(out.At(3, 3, 3)-1) > 1e-9 {
		t.Errorf("Expected impulse preserved without blur, got %f", out.At(3, 3, 3))
	}
}

// TestSmoothAndResampleInvalidSpacing verifies the argument check
func TestSmoothAndResampleInvalidSpacing(t *testing.T) {
	img := volume.New([3]int{4, 4, 4})
	if _, err := SmoothAndResample(img, 0); err == nil {
		t.Errorf("Expected error for non-positive voxel size")
	}
	if _, err := SmoothAndResample(img, -1); err == nil {
		t.Errorf("Expected error for negative voxel size")
	}
}
