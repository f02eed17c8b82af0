package volume

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// indexToPhysical returns the combined direction*spacing matrix mapping a
// continuous voxel index to a physical offset from the origin.
func (im *Image) indexToPhysical() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Set(r, c, im.Direction[r*3+c]*im.Spacing[c])
		}
	}
	return m
}

// PhysicalPoint returns the physical coordinates of the voxel at continuous
// index (x, y, z).
func (im *Image) PhysicalPoint(x, y, z float64) [3]float64 {
	var p [3]float64
	idx := [3]float64{x, y, z}
	for r := 0; r < 3; r++ {
		p[r] = im.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += im.Direction[r*3+c] * im.Spacing[c] * idx[c]
		}
	}
	return p
}

// Resample maps the image onto the grid of the reference image using
// trilinear interpolation in physical space. Voxels of the reference grid
// that fall outside the source image get the value 0. The result carries the
// reference geometry and the source encoding.
func (im *Image) Resample(ref *Image) (*Image, error) {
	// Invert the source index->physical transform once.
	var inv mat.Dense
	if err := inv.Inverse(im.indexToPhysical()); err != nil {
		return nil, fmt.Errorf("singular direction/spacing matrix: %v", err)
	}

	out := NewLike(ref)
	out.Encoding = im.Encoding
	nx, ny, nz := ref.Size[0], ref.Size[1], ref.Size[2]
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				p := ref.PhysicalPoint(float64(x), float64(y), float64(z))
				// Continuous index into the source image.
				var ci [3]float64
				for r := 0; r < 3; r++ {
					for c := 0; c < 3; c++ {
						ci[r] += inv.At(r, c) * (p[c] - im.Origin[c])
					}
				}
				out.Data[out.Index(x, y, z)] = im.sampleTrilinear(ci[0], ci[1], ci[2])
			}
		}
	}
	return out, nil
}

// sampleTrilinear interpolates the image at a continuous voxel index,
// returning 0 outside the volume.
func (im *Image) sampleTrilinear(x, y, z float64) float64 {
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	if x < 0 || y < 0 || z < 0 || x > float64(nx-1) || y > float64(ny-1) || z > float64(nz-1) {
		return 0
	}
	x0, y0, z0 := int(x), int(y), int(z)
	x1, y1, z1 := min(x0+1, nx-1), min(y0+1, ny-1), min(z0+1, nz-1)
	fx, fy, fz := x-float64(x0), y-float64(y0), z-float64(z0)

	c000 := im.At(x0, y0, z0)
	c100 := im.At(x1, y0, z0)
	c010 := im.At(x0, y1, z0)
	c110 := im.At(x1, y1, z0)
	c001 := im.At(x0, y0, z1)
	c101 := im.At(x1, y0, z1)
	c011 := im.At(x0, y1, z1)
	c111 := im.At(x1, y1, z1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}
