package volume

import (
	"math"
	"testing"
)

// TestResampleIdentity verifies resampling onto the same grid reproduces
// the image
func TestResampleIdentity(t *testing.T) {
	img := New([3]int{4, 3, 2})
	for i := range img.Data {
		img.Data[i] = float64(i) * 0.5
	}

	ref := NewLike(img)
	out, err := img.Resample(ref)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for i := range img.Data {
		if math.Abs(out.Data[i]-img.Data[i]) > 1e-9 {
			t.Fatalf("Expected identity resample at %d: want %f, got %f",
				i, img.Data[i], out.Data[i])
		}
	}
}

// TestResampleHalfVoxelShift verifies trilinear interpolation midway
// between samples
func TestResampleHalfVoxelShift(t *testing.T) {
	img := New([3]int{4, 1, 1})
	img.Data = []float64{0, 2, 4, 6}

	ref := NewLike(img)
	ref.Origin = [3]float64{0.5, 0, 0}

	out, err := img.Resample(ref)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	// Sample points land between source voxels: averages of neighbors
	want := []float64{1, 3, 5}
	for i := 0; i < 3; i++ {
		if math.Abs(out.Data[i]-want[i]) > 1e-9 {
			t.Errorf("Expected interpolated %f at %d, got %f", want[i], i, out.Data[i])
		}
	}
	// The last sample falls outside the source extent
	if out.Data[3] != 0 {
		t.Errorf("Expected 0 outside the source image, got %f", out.Data[3])
	}
}

// TestResampleDownsample verifies spacing-aware resampling onto a coarser
// grid preserves a constant field
func TestResampleDownsample(t *testing.T) {
	img := New([3]int{8, 8, 8})
	for i := range img.Data {
		img.Data[i] = 7
	}

	ref := New([3]int{4, 4, 4})
	ref.Spacing = [3]float64{2, 2, 2}

	out, err := img.Resample(ref)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for i, v := range out.Data {
		if math.Abs(v-7) > 1e-9 {
			t.Fatalf("Expected constant 7 after downsampling, got %f at %d", v, i)
		}
	}
	if !out.SameGrid(ref) {
		t.Errorf("Expected output to carry the reference geometry")
	}
}

// TestPhysicalPoint verifies the index-to-physical mapping with spacing
// and origin
func TestPhysicalPoint(t *testing.T) {
	img := New([3]int{4, 4, 4})
	img.Spacing = [3]float64{2, 3, 4}
	img.Origin = [3]float64{10, 20, 30}

	p := img.PhysicalPoint(1, 1, 1)
	want := [3]float64{12, 23, 34}
	for a := 0; a < 3; a++ {
		if math.Abs(p[a]-want[a]) > 1e-12 {
			t.Errorf("Expected physical coordinate %f on axis %d, got %f", want[a], a, p[a])
		}
	}
}
