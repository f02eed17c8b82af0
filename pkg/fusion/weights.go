// Package fusion implements multi-atlas label fusion: per-atlas confidence
// weight maps computed from image similarity, weighted-voting and STAPLE
// label combination, and post-processing of the resulting probability maps
// into binary masks.
package fusion

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"atlasfusion/pkg/registration"
	"atlasfusion/pkg/similarity"
	"atlasfusion/pkg/volume"
)

// NormKind discriminates the weight-map normalization variants.
type NormKind int

const (
	// NormKindNone applies no normalization.
	NormKindNone NormKind = iota

	// NormKindGlobalMax divides by the global maximum of the weight map.
	NormKindGlobalMax

	// NormKindMaskedMax divides by the maximum of the weight map restricted
	// to the nonzero voxels of a mask.
	NormKindMaskedMax
)

// Norm selects how a weight map is normalized after computation.
type Norm struct {
	Kind NormKind
	Mask *volume.Image
}

// NormNone disables normalization.
func NormNone() Norm { return Norm{Kind: NormKindNone} }

// NormGlobalMax normalizes by the global maximum, so the returned weight
// map's maximum value is exactly 1.
func NormGlobalMax() Norm { return Norm{Kind: NormKindGlobalMax} }

// NormMaskedMax normalizes by the maximum over the nonzero voxels of mask.
func NormMaskedMax(mask *volume.Image) Norm {
	return Norm{Kind: NormKindMaskedMax, Mask: mask}
}

// apply divides the weight map by the maximum selected by the option.
func (n Norm) apply(weightMap *volume.Image) (*volume.Image, error) {
	switch n.Kind {
	case NormKindNone:
		return weightMap, nil
	case NormKindGlobalMax:
		max := weightMap.Max()
		return weightMap.Apply(func(v float64) float64 { return v / max }), nil
	case NormKindMaskedMax:
		max, err := weightMap.MaxMasked(n.Mask)
		if err != nil {
			return nil, fmt.Errorf("masked normalization: %v", err)
		}
		return weightMap.Apply(func(v float64) float64 { return v / max }), nil
	}
	return nil, fmt.Errorf("unknown normalization kind %d", n.Kind)
}

// VoteScheme computes a per-voxel (or globally constant) confidence weight
// map for one atlas image against the target image. Each scheme carries its
// own typed parameters.
type VoteScheme interface {
	// Name returns the canonical lower-case scheme name.
	Name() string

	// WeightMap produces a weight image on the target grid. Both inputs have
	// already been cast to a floating-point encoding.
	WeightMap(target, moving *volume.Image) (*volume.Image, error)
}

// Unweighted assigns a constant weight of 1 everywhere, reducing weighted
// voting to simple vote counting.
type Unweighted struct{}

// Name implements VoteScheme.
func (Unweighted) Name() string { return "unweighted" }

// WeightMap implements VoteScheme.
func (Unweighted) WeightMap(target, _ *volume.Image) (*volume.Image, error) {
	out := target.Apply(func(float64) float64 { return 1 })
	return out, nil
}

// Global assigns a single scalar weight, Factor divided by the whole-image
// sum of squared differences, broadcast to every voxel.
type Global struct {
	Factor float64
}

// Name implements VoteScheme.
func (Global) Name() string { return "global" }

// WeightMap implements VoteScheme.
func (g Global) WeightMap(target, moving *volume.Image) (*volume.Image, error) {
	sqDiff, err := target.SquaredDifference(moving)
	if err != nil {
		return nil, err
	}
	w := g.Factor / sqDiff.Sum()
	return target.Apply(func(float64) float64 { return w }), nil
}

// Local weights each voxel by the inverse of the locally smoothed squared
// difference: 1 / (gaussian(sqdiff, sigma^2) + epsilon).
type Local struct {
	Sigma   float64
	Epsilon float64
	Norm    Norm
}

// Name implements VoteScheme.
func (Local) Name() string { return "local" }

// WeightMap implements VoteScheme.
func (l Local) WeightMap(target, moving *volume.Image) (*volume.Image, error) {
	sqDiff, err := target.SquaredDifference(moving)
	if err != nil {
		return nil, err
	}
	raw := sqDiff.DiscreteGaussian(l.Sigma * l.Sigma)
	weightMap := raw.Apply(func(v float64) float64 { return 1 / (v + l.Epsilon) })
	return l.Norm.apply(weightMap)
}

// Block weights each voxel by a power of the inverse block-mean squared
// difference: Factor * boxmean(sqdiff, BlockSize)^(-|Gain|/2). The gain is
// halved because the squared difference already raises the residual to the
// second power.
type Block struct {
	Factor    float64
	Gain      float64
	BlockSize [3]int
	Norm      Norm
}

// Name implements VoteScheme.
func (Block) Name() string { return "block" }

// WeightMap implements VoteScheme.
func (b Block) WeightMap(target, moving *volume.Image) (*volume.Image, error) {
	sqDiff, err := target.SquaredDifference(moving)
	if err != nil {
		return nil, err
	}
	raw := sqDiff.BoxMean(b.BlockSize)
	exponent := math.Abs(b.Gain) / 2
	weightMap := raw.Apply(func(v float64) float64 {
		return b.Factor * math.Pow(v, -exponent)
	})
	return b.Norm.apply(weightMap)
}

// PatchCorrelation weights each voxel by the Pearson correlation of cubic
// patches around it, computed on a downsampled grid for robustness to small
// misregistration and for speed, then resampled back onto the target grid.
//
// CorrelationFunc maps a correlation value in [-1, 1] onto a non-negative
// weight. When nil, DefaultCorrelationFunc (add one) is used.
type PatchCorrelation struct {
	PatchWindowMM        float64
	ResampledVoxelSizeMM float64
	CorrelationFunc      func(float64) float64

	// Metric scores each patch pair; nil selects Pearson correlation.
	// Mutual information (similarity.MutualInformationMetric) plugs in here
	// for multi-modality image pairs.
	Metric similarity.Metric
}

// Name implements VoteScheme.
func (PatchCorrelation) Name() string { return "patch_correlation" }

// DefaultCorrelationFunc shifts a correlation from [-1, 1] to [0, 2]. Adding
// one suits same-modality images; taking the absolute value would suit
// multi-modality pairs.
func DefaultCorrelationFunc(x float64) float64 { return x + 1 }

// WeightMap implements VoteScheme.
func (p PatchCorrelation) WeightMap(target, moving *volume.Image) (*volume.Image, error) {
	// Resample both images onto a coarse isotropic grid. This both reduces
	// the overall cost and makes the patch window cubic in physical space.
	resTarget, err := registration.SmoothAndResample(target, p.ResampledVoxelSizeMM)
	if err != nil {
		return nil, fmt.Errorf("resampling target: %v", err)
	}
	resMoving, err := registration.SmoothAndResample(moving, p.ResampledVoxelSizeMM)
	if err != nil {
		return nil, fmt.Errorf("resampling moving image: %v", err)
	}

	// The mask tracks valid voxels so padding introduced below is excluded
	// from the patch statistics.
	mask := resTarget.Apply(func(float64) float64 { return 1 })

	// Patch extents in voxel units, truncated like the physical window
	// division, per axis.
	var window [3]int
	for a := 0; a < 3; a++ {
		window[a] = int(p.PatchWindowMM / resTarget.Spacing[a])
		if window[a] < 1 {
			window[a] = 1
		}
	}

	// Symmetric zero padding, one voxel heavier on the lower side for even
	// window sizes, so every voxel has a full patch.
	var lower, upper [3]int
	for a := 0; a < 3; a++ {
		lower[a] = (window[a] - 1) / 2
		upper[a] = window[a] / 2
	}
	padTarget := resTarget.Pad(lower, upper)
	padMoving := resMoving.Pad(lower, upper)
	padMask := mask.Pad(lower, upper)

	metric := p.Metric
	if metric == nil {
		metric = similarity.PearsonCorrelation
	}

	corr := volume.NewLike(resTarget)
	nx, ny, nz := resTarget.Size[0], resTarget.Size[1], resTarget.Size[2]

	// Patches are independent, so the per-slice work parallelizes without
	// changing results: each goroutine writes only its own z range.
	var wg sync.WaitGroup
	for z := 0; z < nz; z++ {
		wg.Add(1)
		go func(z int) {
			defer wg.Done()
			patchLen := window[0] * window[1] * window[2]
			valsTarget := make([]float64, 0, patchLen)
			valsMoving := make([]float64, 0, patchLen)
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					valsTarget = valsTarget[:0]
					valsMoving = valsMoving[:0]
					for dz := 0; dz < window[2]; dz++ {
						for dy := 0; dy < window[1]; dy++ {
							for dx := 0; dx < window[0]; dx++ {
								i := padTarget.Index(x+dx, y+dy, z+dz)
								if padMask.Data[i] != 0 {
									valsTarget = append(valsTarget, padTarget.Data[i])
									valsMoving = append(valsMoving, padMoving.Data[i])
								}
							}
						}
					}
					// Degenerate patches yield 0, never an error.
					r := metric(valsTarget, valsMoving)
					if math.IsNaN(r) {
						r = 0
					}
					corr.Data[corr.Index(x, y, z)] = r
				}
			}
		}(z)
	}
	wg.Wait()

	// Back onto the original target grid.
	corrFull, err := corr.Resample(target)
	if err != nil {
		return nil, fmt.Errorf("resampling correlation image: %v", err)
	}

	f := p.CorrelationFunc
	if f == nil {
		f = DefaultCorrelationFunc
	}
	return corrFull.Apply(f), nil
}

// ComputeWeightMap computes the weight map of a moving (atlas) image against
// the target image under the given voting scheme. Inputs are cast to a
// floating-point encoding if needed. All schemes except patch correlation
// return their weight map cast to 32-bit float; the patch-correlation result
// is returned directly after its correlation function has been applied.
func ComputeWeightMap(target, moving *volume.Image, scheme VoteScheme) (*volume.Image, error) {
	if scheme == nil {
		return nil, fmt.Errorf("nil vote scheme")
	}
	if !target.IsFloat() {
		target = target.Cast(volume.Float32)
	}
	if !moving.IsFloat() {
		moving = moving.Cast(volume.Float32)
	}

	weightMap, err := scheme.WeightMap(target, moving)
	if err != nil {
		return nil, fmt.Errorf("%s weight map: %w", scheme.Name(), err)
	}
	if _, ok := scheme.(PatchCorrelation); ok {
		return weightMap, nil
	}
	return weightMap.Cast(volume.Float32), nil
}

// Params is the immutable configuration bag for constructing vote schemes by
// name. The zero value is not useful; start from DefaultParams.
type Params struct {
	// Sigma is the Gaussian smoothing scale (mm) of the local scheme.
	Sigma float64

	// Epsilon regularizes the local scheme's denominator.
	Epsilon float64

	// Factor scales the global and block schemes.
	Factor float64

	// Gain is the exponent sharpness of the block scheme.
	Gain float64

	// BlockSize is the block scheme's window size in voxels, applied to all
	// three axes.
	BlockSize int

	// Norm selects the normalization of the local and block schemes.
	Norm Norm

	// PatchWindowMM is the physical patch size of the patch-correlation
	// scheme.
	PatchWindowMM float64

	// ResampledVoxelSizeMM is the isotropic downsampling target of the
	// patch-correlation scheme.
	ResampledVoxelSizeMM float64

	// CorrelationFunc maps a correlation in [-1, 1] to a non-negative
	// weight; nil selects DefaultCorrelationFunc.
	CorrelationFunc func(float64) float64
}

// DefaultParams returns the documented default vote parameters.
func DefaultParams() Params {
	return Params{
		Sigma:                2.0,
		Epsilon:              1e-5,
		Factor:               1e12,
		Gain:                 6,
		BlockSize:            5,
		Norm:                 NormNone(),
		PatchWindowMM:        25,
		ResampledVoxelSizeMM: 3,
		CorrelationFunc:      DefaultCorrelationFunc,
	}
}

// ParseVoteScheme constructs the vote scheme named by vote (case-insensitive)
// from the parameter bag. An unrecognized name is an invalid-argument error;
// no weight map can be produced from it.
func ParseVoteScheme(vote string, p Params) (VoteScheme, error) {
	switch strings.ToLower(vote) {
	case "unweighted":
		return Unweighted{}, nil
	case "global":
		return Global{Factor: p.Factor}, nil
	case "local":
		return Local{Sigma: p.Sigma, Epsilon: p.Epsilon, Norm: p.Norm}, nil
	case "block":
		return Block{
			Factor:    p.Factor,
			Gain:      p.Gain,
			BlockSize: [3]int{p.BlockSize, p.BlockSize, p.BlockSize},
			Norm:      p.Norm,
		}, nil
	case "patch_correlation":
		return PatchCorrelation{
			PatchWindowMM:        p.PatchWindowMM,
			ResampledVoxelSizeMM: p.ResampledVoxelSizeMM,
			CorrelationFunc:      p.CorrelationFunc,
		}, nil
	}
	return nil, fmt.Errorf("weighting scheme %q not valid", vote)
}
