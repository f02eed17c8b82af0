package volume

import "math"

// DiscreteGaussian returns the image convolved with a Gaussian of the given
// variance, expressed in squared physical units (mm^2). The filter is applied
// separably along each axis with the per-axis sigma converted to voxel units
// through the image spacing. Borders are handled by edge replication.
//
// A variance of zero (or an effectively sub-voxel sigma) returns an
// unfiltered copy.
func (im *Image) DiscreteGaussian(variance float64) *Image {
	if variance <= 0 {
		return im.Clone()
	}
	sigmaMM := math.Sqrt(variance)
	out := im.Clone()
	for axis := 0; axis < 3; axis++ {
		sigmaVox := sigmaMM / im.Spacing[axis]
		if sigmaVox < 1e-3 || im.Size[axis] < 2 {
			continue
		}
		kernel := gaussianKernel(sigmaVox)
		out = out.convolveAxis(axis, kernel)
	}
	return out
}

// gaussianKernel builds a normalized 1D Gaussian kernel with radius 3*sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveAxis applies a symmetric 1D kernel along one axis with replicated
// borders, producing a new image.
func (im *Image) convolveAxis(axis int, kernel []float64) *Image {
	out := NewLike(im)
	radius := len(kernel) / 2
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]

	// Stride along the convolution axis and extent of that axis.
	var stride, extent int
	switch axis {
	case 0:
		stride, extent = 1, nx
	case 1:
		stride, extent = nx, ny
	default:
		stride, extent = nx*ny, nz
	}

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				pos := [3]int{x, y, z}
				var acc float64
				base := im.Index(x, y, z) - pos[axis]*stride
				for k := -radius; k <= radius; k++ {
					p := pos[axis] + k
					if p < 0 {
						p = 0
					} else if p >= extent {
						p = extent - 1
					}
					acc += kernel[k+radius] * im.Data[base+p*stride]
				}
				out.Data[out.Index(x, y, z)] = acc
			}
		}
	}
	return out
}

// BoxMean returns the image filtered with a rectangular mean filter of the
// given block size per axis (in voxels). Even block sizes extend one voxel
// further on the lower side. Near the borders the mean is taken over the
// in-bounds part of the window.
func (im *Image) BoxMean(blockSize [3]int) *Image {
	out := NewLike(im)
	var lo, hi [3]int
	for a := 0; a < 3; a++ {
		b := blockSize[a]
		if b < 1 {
			b = 1
		}
		lo[a] = b / 2
		hi[a] = (b - 1) / 2
	}
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	for z := 0; z < nz; z++ {
		z0, z1 := max(z-lo[2], 0), min(z+hi[2], nz-1)
		for y := 0; y < ny; y++ {
			y0, y1 := max(y-lo[1], 0), min(y+hi[1], ny-1)
			for x := 0; x < nx; x++ {
				x0, x1 := max(x-lo[0], 0), min(x+hi[0], nx-1)
				var acc float64
				count := 0
				for zz := z0; zz <= z1; zz++ {
					for yy := y0; yy <= y1; yy++ {
						row := im.Index(x0, yy, zz)
						for xx := x0; xx <= x1; xx++ {
							acc += im.Data[row]
							row++
							count++
						}
					}
				}
				out.Data[out.Index(x, y, z)] = acc / float64(count)
			}
		}
	}
	return out
}
