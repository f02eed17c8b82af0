package volume

import (
	"testing"
)

// TestBinaryFillHoles verifies an enclosed cavity is filled while the
// exterior background is preserved
func TestBinaryFillHoles(t *testing.T) {
	img := New([3]int{7, 7, 7})
	// Hollow 5x5x5 shell from (1,1,1) to (5,5,5) with an empty interior
	for z := 1; z <= 5; z++ {
		for y := 1; y <= 5; y++ {
			for x := 1; x <= 5; x++ {
				onShell := x == 1 || x == 5 || y == 1 || y == 5 || z == 1 || z == 5
				if onShell {
					img.SetAt(x, y, z, 1)
				}
			}
		}
	}

	filled := img.BinaryFillHoles()

	if filled.At(3, 3, 3) != 1 {
		t.Errorf("Expected enclosed cavity to be filled, center is %f", filled.At(3, 3, 3))
	}
	if filled.At(0, 0, 0) != 0 {
		t.Errorf("Expected exterior background to stay 0, got %f", filled.At(0, 0, 0))
	}
	if filled.At(1, 1, 1) != 1 {
		t.Errorf("Expected shell voxels to stay 1, got %f", filled.At(1, 1, 1))
	}
}

// TestBinaryFillHolesNoHoles verifies a solid object is unchanged
func TestBinaryFillHolesNoHoles(t *testing.T) {
	img := New([3]int{5, 5, 5})
	img.SetAt(2, 2, 2, 1)
	img.SetAt(3, 2, 2, 1)

	filled := img.BinaryFillHoles()
	count := 0
	for _, v := range filled.Data {
		if v != 0 {
			count++
		}
	}
	if count != 2 {
		t.Errorf("Expected 2 foreground voxels after filling, got %d", count)
	}
}

// TestConnectedComponents verifies face-connected labeling of two regions
func TestConnectedComponents(t *testing.T) {
	img := New([3]int{8, 4, 1})
	// Region A: 3 voxels in a row
	img.SetAt(0, 0, 0, 1)
	img.SetAt(1, 0, 0, 1)
	img.SetAt(2, 0, 0, 1)
	// Region B: 2 voxels, separated from A
	img.SetAt(5, 2, 0, 1)
	img.SetAt(6, 2, 0, 1)

	labelled, count := img.ConnectedComponents()
	if count != 2 {
		t.Fatalf("Expected 2 components, got %d", count)
	}

	sizes := ComponentSizes(labelled, count)
	got := map[int]bool{}
	for _, s := range sizes {
		got[s] = true
	}
	if !got[3] || !got[2] {
		t.Errorf("Expected component sizes {3, 2}, got %v", sizes)
	}

	// Voxels of one region share a label
	if labelled.At(0, 0, 0) != labelled.At(2, 0, 0) {
		t.Errorf("Expected region A to share one label")
	}
	if labelled.At(0, 0, 0) == labelled.At(5, 2, 0) {
		t.Errorf("Expected disjoint regions to get distinct labels")
	}
}

// TestConnectedComponentsDiagonal verifies diagonal voxels are NOT
// connected under 6-connectivity
func TestConnectedComponentsDiagonal(t *testing.T) {
	img := New([3]int{3, 3, 1})
	img.SetAt(0, 0, 0, 1)
	img.SetAt(1, 1, 0, 1)

	_, count := img.ConnectedComponents()
	if count != 2 {
		t.Errorf("Expected diagonal voxels to form 2 components, got %d", count)
	}
}

// TestConnectedComponentsUShape verifies label merging across a region that
// is first visited as two separate branches
func TestConnectedComponentsUShape(t *testing.T) {
	img := New([3]int{5, 3, 1})
	// Two vertical branches joined at the bottom row (a U shape)
	img.SetAt(0, 0, 0, 1)
	img.SetAt(0, 1, 0, 1)
	img.SetAt(4, 0, 0, 1)
	img.SetAt(4, 1, 0, 1)
	for x := 0; x < 5; x++ {
		img.SetAt(x, 2, 0, 1)
	}

	labelled, count := img.ConnectedComponents()
	if count != 1 {
		t.Fatalf("Expected the U shape to form 1 component, got %d", count)
	}
	if labelled.At(0, 0, 0) != labelled.At(4, 0, 0) {
		t.Errorf("Expected both branch tips to share one label")
	}
}

// TestConnectedComponentsEmpty verifies an empty image yields no components
func TestConnectedComponentsEmpty(t *testing.T) {
	img := New([3]int{4, 4, 4})
	_, count := img.ConnectedComponents()
	if count != 0 {
		t.Errorf("Expected 0 components in an empty image, got %d", count)
	}
}
