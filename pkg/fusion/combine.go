package fusion

import (
	"fmt"
	"sort"

	"atlasfusion/internal/models"
	"atlasfusion/pkg/volume"
)

// thresholdClamp zeroes voxels below threshold (keeping [threshold, 1]
// intact) when threshold is positive. This is a compression aid for the
// mostly-zero probability images, not a segmentation decision; a
// non-positive threshold skips the clamp entirely.
func thresholdClamp(img *volume.Image, threshold float64) *volume.Image {
	if threshold <= 0 {
		return img
	}
	return img.ThresholdBand(threshold, 1, 0)
}

// CombineLabelsSTAPLE fuses per-case label maps into one consensus
// probability image per structure using the STAPLE algorithm.
//
// labelListDict maps case identifier to {structure name -> label image}.
// Every contributing label is binarized at 0.5 first, since STAPLE operates
// on binary rater decisions. The consensus is rescaled to [0, 1] and, when
// threshold is positive, clamped below threshold. Structures missing from
// some cases are combined from whichever cases have them.
func CombineLabelsSTAPLE(labelListDict map[string]map[string]*volume.Image, threshold float64) (map[string]*volume.Image, error) {
	return CombineLabelsSTAPLEOpts(labelListDict, threshold, DefaultStapleOptions())
}

// CombineLabelsSTAPLEOpts is CombineLabelsSTAPLE with explicit EM controls.
func CombineLabelsSTAPLEOpts(labelListDict map[string]map[string]*volume.Image, threshold float64, opts StapleOptions) (map[string]*volume.Image, error) {
	seen := make(map[string]struct{})
	for _, labels := range labelListDict {
		for name := range labels {
			seen[name] = struct{}{}
		}
	}
	structures := make([]string, 0, len(seen))
	for name := range seen {
		structures = append(structures, name)
	}
	sort.Strings(structures)

	combined := make(map[string]*volume.Image, len(structures))
	for _, structure := range structures {
		var binaryLabels []*volume.Image
		for _, labels := range labelListDict {
			if label, ok := labels[structure]; ok {
				binaryLabels = append(binaryLabels, label.BinaryThreshold(0.5))
			}
		}

		consensus, err := StapleEstimate(binaryLabels, opts)
		if err != nil {
			return nil, fmt.Errorf("staple for structure %q: %w", structure, err)
		}

		consensus = consensus.RescaleIntensity(0, 1)
		combined[structure] = thresholdClamp(consensus, threshold)
	}
	return combined, nil
}

// CombineLabels fuses per-case label maps into one consensus probability
// image per structure using weighted voting.
//
// For each requested structure, the cases whose label set (under the given
// registration-method label) contains the structure contribute their weight
// map and label. The combined label is the weight-normalized average
// sum(w_i * label_i) / sum(w_i), smoothed with a Gaussian of variance
// smoothSigma^2, rescaled to [0, 1], and clamped below threshold when
// threshold is positive.
//
// Voxels where the weight sum is zero have the sum replaced by 1 before
// division: uncovered voxels contribute no weighted labels and so combine to
// exactly 0 rather than NaN. A structure with no contributing case is a
// caller error.
func CombineLabels(atlasSet models.AtlasSet, structureNames []string, label string, threshold, smoothSigma float64) (map[string]*volume.Image, error) {
	combined := make(map[string]*volume.Image, len(structureNames))

	for _, structure := range structureNames {
		validCases := atlasSet.ValidCases(label, structure)
		if len(validCases) == 0 {
			return nil, fmt.Errorf("no case contains structure %q under label %q", structure, label)
		}

		var weightSum *volume.Image
		var labelSum *volume.Image
		for _, caseID := range validCases {
			weightMap := atlasSet.WeightMap(caseID, label)
			if weightMap == nil {
				return nil, fmt.Errorf("case %q has no weight map under label %q", caseID, label)
			}
			weighted, err := weightMap.Multiply(atlasSet[caseID][label][structure].Cast(volume.Float32))
			if err != nil {
				return nil, fmt.Errorf("weighting label of case %q: %w", caseID, err)
			}
			if weightSum == nil {
				weightSum = weightMap.Clone()
				labelSum = weighted
				continue
			}
			if weightSum, err = weightSum.Add(weightMap); err != nil {
				return nil, fmt.Errorf("summing weight maps for case %q: %w", caseID, err)
			}
			if labelSum, err = labelSum.Add(weighted); err != nil {
				return nil, fmt.Errorf("summing weighted labels for case %q: %w", caseID, err)
			}
		}

		// Zero-coverage voxels would divide 0/0; substituting a weight sum
		// of 1 makes them combine to exactly 0 instead.
		weightSum = weightSum.Apply(func(v float64) float64 {
			if v == 0 {
				return 1
			}
			return v
		})

		combinedLabel, err := labelSum.Divide(weightSum)
		if err != nil {
			return nil, fmt.Errorf("normalizing combined label for %q: %w", structure, err)
		}

		combinedLabel = combinedLabel.DiscreteGaussian(smoothSigma * smoothSigma)
		combinedLabel = combinedLabel.RescaleIntensity(0, 1)
		combined[structure] = thresholdClamp(combinedLabel, threshold)
	}
	return combined, nil
}
