// Package registration provides the small resampling utility the fusion
// pipeline relies on. The full deformable registration that aligns atlas
// cases with a target image lives outside this module; here we only need to
// bring an already-aligned image onto an isotropic grid.
package registration

import (
	"fmt"

	"atlasfusion/pkg/volume"
)

// SmoothAndResample blurs an image and resamples it onto an isotropic grid
// with the requested voxel size, covering the same physical extent as the
// input. The Gaussian pre-smoothing suppresses aliasing when downsampling:
// the per-axis variance is (new/2)^2 - (old/2)^2, clamped at zero so
// upsampling (or a matching spacing) applies no blur on that axis.
func SmoothAndResample(img *volume.Image, isotropicVoxelSizeMM float64) (*volume.Image, error) {
	if isotropicVoxelSizeMM <= 0 {
		return nil, fmt.Errorf("isotropic voxel size must be positive, got %g", isotropicVoxelSizeMM)
	}

	// Anti-aliasing variance, taken as the largest per-axis requirement so a
	// single isotropic blur covers every axis being reduced.
	var variance float64
	for a := 0; a < 3; a++ {
		v := (isotropicVoxelSizeMM/2)*(isotropicVoxelSizeMM/2) - (img.Spacing[a]/2)*(img.Spacing[a]/2)
		if v > variance {
			variance = v
		}
	}
	smoothed := img.DiscreteGaussian(variance)

	// Reference grid: same origin and direction, isotropic spacing, size
	// chosen to preserve the physical extent along each axis.
	ref := &volume.Image{
		Spacing:   [3]float64{isotropicVoxelSizeMM, isotropicVoxelSizeMM, isotropicVoxelSizeMM},
		Origin:    img.Origin,
		Direction: img.Direction,
	}
	for a := 0; a < 3; a++ {
		n := int(float64(img.Size[a]) * img.Spacing[a] / isotropicVoxelSizeMM)
		if n < 1 {
			n = 1
		}
		ref.Size[a] = n
	}
	ref.Data = make([]float64, ref.Size[0]*ref.Size[1]*ref.Size[2])

	return smoothed.Resample(ref)
}
