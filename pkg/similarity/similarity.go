// Package similarity provides the image similarity metrics used to weight
// atlas votes during label fusion: histogram-based mutual information and
// Pearson correlation. Both are computed over flattened voxel intensity
// arrays so they can be applied to whole images or to local patches.
package similarity

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
)

// Metric scores the agreement between two equal-length intensity arrays.
// Higher values indicate better agreement. Weighting schemes accept any
// Metric, so mutual information and Pearson correlation are interchangeable.
type Metric func(a, b []float64) float64

// Bins specifies the joint histogram binning: either a uniform bin count
// over the data range of each array, or explicit bin edges per array.
type Bins struct {
	count  int
	edgesA []float64
	edgesB []float64
}

// BinCount selects n uniform bins spanning the range of each input array.
func BinCount(n int) Bins {
	return Bins{count: n}
}

// BinEdges selects explicit, strictly increasing bin edges for each array.
func BinEdges(edgesA, edgesB []float64) Bins {
	return Bins{edgesA: edgesA, edgesB: edgesB}
}

// edges materializes the bin edges for one array under this specification.
func (b Bins) edges(data []float64, second bool) ([]float64, error) {
	if b.count == 0 {
		e := b.edgesA
		if second {
			e = b.edgesB
		}
		if len(e) < 2 {
			return nil, fmt.Errorf("bin edges must contain at least 2 values")
		}
		return e, nil
	}
	if b.count < 1 {
		return nil, fmt.Errorf("bin count must be positive, got %d", b.count)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		// Degenerate range: numpy-style half-unit widening around the value.
		lo, hi = lo-0.5, hi+0.5
	}
	edges := make([]float64, b.count+1)
	for i := range edges {
		edges[i] = lo + (hi-lo)*float64(i)/float64(b.count)
	}
	return edges, nil
}

// binIndex locates v in the half-open bins defined by edges, with the last
// bin closed on the right. Returns -1 when v falls outside all bins.
func binIndex(v float64, edges []float64) int {
	n := len(edges) - 1
	if v < edges[0] || v > edges[n] {
		return -1
	}
	if v == edges[n] {
		return n - 1
	}
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if v < edges[mid+1] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Histogram2D computes the density-normalized joint histogram of two
// equal-length arrays: each cell holds count / (N * widthA * widthB), so the
// histogram integrates to 1 over the binned area.
func Histogram2D(a, b []float64, bins Bins) ([][]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("array length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return nil, fmt.Errorf("empty input arrays")
	}
	edgesA, err := bins.edges(a, false)
	if err != nil {
		return nil, err
	}
	edgesB, err := bins.edges(b, true)
	if err != nil {
		return nil, err
	}
	na, nb := len(edgesA)-1, len(edgesB)-1
	hist := make([][]float64, na)
	for i := range hist {
		hist[i] = make([]float64, nb)
	}
	for k := range a {
		i := binIndex(a[k], edgesA)
		j := binIndex(b[k], edgesB)
		if i >= 0 && j >= 0 {
			hist[i][j]++
		}
	}
	n := float64(len(a))
	for i := 0; i < na; i++ {
		wa := edgesA[i+1] - edgesA[i]
		for j := 0; j < nb; j++ {
			wb := edgesB[j+1] - edgesB[j]
			hist[i][j] /= n * wa * wb
		}
	}
	return hist, nil
}

// MutualInformation computes the histogram-based mutual information between
// two flattened intensity arrays. Non-finite log-ratio entries arising from
// zero-probability bins contribute exactly 0.
func MutualInformation(a, b []float64, bins Bins) (float64, error) {
	pab, err := Histogram2D(a, b, bins)
	if err != nil {
		return 0, err
	}
	na := len(pab)
	nb := len(pab[0])

	// Marginals: pa sums over the second axis, pb over the first.
	pa := make([]float64, na)
	pb := make([]float64, nb)
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			pa[i] += pab[i][j]
			pb[j] += pab[i][j]
		}
	}

	var mi float64
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			logP := math.Log(pab[i][j] / (pa[i] * pb[j]))
			if !math.IsInf(logP, 0) && !math.IsNaN(logP) {
				mi += pab[i][j] * logP
			}
		}
	}
	return mi, nil
}

// MutualInformationMetric adapts MutualInformation to the Metric signature
// with a fixed binning, mapping any histogram error onto a score of 0.
func MutualInformationMetric(bins Bins) Metric {
	return func(a, b []float64) float64 {
		mi, err := MutualInformation(a, b, bins)
		if err != nil {
			return 0
		}
		return mi
	}
}

// PearsonCorrelation computes the Pearson correlation coefficient between two
// equal-length arrays. Degenerate inputs (fewer than two points, mismatched
// lengths, zero variance) yield 0 rather than an error, as required by the
// patch-correlation weighting scheme.
func PearsonCorrelation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	r, err := stats.Pearson(a, b)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
