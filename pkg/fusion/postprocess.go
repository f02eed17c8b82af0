package fusion

import (
	"fmt"

	"atlasfusion/pkg/volume"
)

// ProcessProbabilityImage converts a consensus probability image into a
// clean binary mask: normalize by the image maximum, binarize at threshold,
// fill enclosed holes, and keep only the largest connected component.
//
// When the binary image contains no components at all, it is returned
// unchanged (an empty mask is not an error). The result is an unsigned
// 8-bit binary image with values in {0, 1}.
func ProcessProbabilityImage(probabilityImage *volume.Image, threshold float64) (*volume.Image, error) {
	if probabilityImage == nil {
		return nil, fmt.Errorf("nil probability image")
	}

	// Normalize so the threshold is relative to the probability peak.
	if max := probabilityImage.Max(); max > 0 {
		probabilityImage = probabilityImage.Scale(1 / max)
	}

	binaryImage := probabilityImage.BinaryThreshold(threshold)
	binaryImage = binaryImage.BinaryFillHoles()

	labelled, count := binaryImage.ConnectedComponents()
	if count == 0 {
		return binaryImage.Cast(volume.UInt8), nil
	}

	// Keep the component with the largest voxel count.
	sizes := volume.ComponentSizes(labelled, count)
	largest := 1
	for l := 2; l <= count; l++ {
		if sizes[l-1] > sizes[largest-1] {
			largest = l
		}
	}
	mask := labelled.Apply(func(v float64) float64 {
		if int(v) == largest {
			return 1
		}
		return 0
	})
	return mask.Cast(volume.UInt8), nil
}

// ProcessProbabilityArray is ProcessProbabilityImage for callers holding a
// raw (z, y, x)-ordered array rather than an image.
func ProcessProbabilityArray(data []float64, size [3]int, threshold float64) (*volume.Image, error) {
	img, err := volume.FromArray(data, size)
	if err != nil {
		return nil, err
	}
	return ProcessProbabilityImage(img, threshold)
}
