// Package volume provides the scalar image type shared by all label fusion
// components, together with the elementwise arithmetic, filtering, resampling
// and morphology operations they rely on.
//
// An Image is a 3D scalar field stored as a flat float64 array in row-major
// (z, y, x) order, with geometric metadata describing where the voxel grid
// sits in physical space. Images are treated as immutable: every operation
// returns a new image and leaves its inputs untouched.
package volume

import (
	"fmt"
	"math"
)

// Encoding records the nominal pixel type of an image. All arithmetic is
// performed in float64 regardless of encoding; the encoding only controls the
// quantization applied by Cast and the type an image would be serialized as.
type Encoding int

const (
	// Float64 is the native encoding of the Data array.
	Float64 Encoding = iota

	// Float32 quantizes values through a 32-bit float on Cast.
	Float32

	// UInt8 clamps values to [0, 255] and truncates on Cast.
	UInt8
)

// String returns a human-readable name for the encoding.
func (e Encoding) String() string {
	switch e {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case UInt8:
		return "uint8"
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// Image is a 3D scalar field with geometric metadata.
//
// Data is indexed as Data[z*Size[0]*Size[1] + y*Size[0] + x], i.e. x varies
// fastest. Size, Spacing and Origin are ordered (x, y, z). Direction is a
// row-major 3x3 matrix of direction cosines mapping index axes to physical
// axes; it defaults to the identity.
type Image struct {
	Data      []float64
	Size      [3]int
	Spacing   [3]float64
	Origin    [3]float64
	Direction [9]float64
	Encoding  Encoding
}

// New creates a zero-filled image of the given size with unit spacing,
// zero origin and identity direction.
func New(size [3]int) *Image {
	return &Image{
		Data:      make([]float64, size[0]*size[1]*size[2]),
		Size:      size,
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// NewLike creates a zero-filled image sharing the geometry (size, spacing,
// origin, direction) and encoding of the reference image.
func NewLike(ref *Image) *Image {
	out := New(ref.Size)
	out.CopyInformation(ref)
	out.Encoding = ref.Encoding
	return out
}

// FromArray wraps a flat (z, y, x)-ordered array as an image with default
// geometry. The array is copied. An error is returned when the array length
// does not match the requested size.
func FromArray(data []float64, size [3]int) (*Image, error) {
	n := size[0] * size[1] * size[2]
	if len(data) != n {
		return nil, fmt.Errorf("array length %d does not match size %dx%dx%d", len(data), size[0], size[1], size[2])
	}
	out := New(size)
	copy(out.Data, data)
	return out, nil
}

// Clone returns a deep copy of the image.
func (im *Image) Clone() *Image {
	out := NewLike(im)
	copy(out.Data, im.Data)
	return out
}

// CopyInformation copies the geometric metadata (spacing, origin, direction)
// from src. Sizes must already agree; voxel data is not touched.
func (im *Image) CopyInformation(src *Image) {
	im.Spacing = src.Spacing
	im.Origin = src.Origin
	im.Direction = src.Direction
}

// NumVoxels returns the total number of voxels in the image.
func (im *Image) NumVoxels() int {
	return im.Size[0] * im.Size[1] * im.Size[2]
}

// Index returns the flat index of voxel (x, y, z).
func (im *Image) Index(x, y, z int) int {
	return z*im.Size[0]*im.Size[1] + y*im.Size[0] + x
}

// At returns the value at voxel (x, y, z).
func (im *Image) At(x, y, z int) float64 {
	return im.Data[im.Index(x, y, z)]
}

// SetAt sets the value at voxel (x, y, z).
func (im *Image) SetAt(x, y, z int, v float64) {
	im.Data[im.Index(x, y, z)] = v
}

// SameGrid reports whether the two images share size, spacing, origin and
// direction (within floating tolerance on the geometric components).
func (im *Image) SameGrid(other *Image) bool {
	const tol = 1e-9
	if im.Size != other.Size {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(im.Spacing[i]-other.Spacing[i]) > tol ||
			math.Abs(im.Origin[i]-other.Origin[i]) > tol {
			return false
		}
	}
	for i := 0; i < 9; i++ {
		if math.Abs(im.Direction[i]-other.Direction[i]) > tol {
			return false
		}
	}
	return true
}

// Apply returns a new image with f applied to every voxel.
func (im *Image) Apply(f func(float64) float64) *Image {
	out := NewLike(im)
	for i, v := range im.Data {
		out.Data[i] = f(v)
	}
	return out
}

// zipWith applies a binary function voxelwise across two images on the same
// grid, producing a new image with the receiver's geometry.
func (im *Image) zipWith(other *Image, f func(a, b float64) float64) (*Image, error) {
	if im.NumVoxels() != other.NumVoxels() {
		return nil, fmt.Errorf("image size mismatch: %v vs %v", im.Size, other.Size)
	}
	out := NewLike(im)
	for i := range im.Data {
		out.Data[i] = f(im.Data[i], other.Data[i])
	}
	return out, nil
}

// Add returns the voxelwise sum of two images.
func (im *Image) Add(other *Image) (*Image, error) {
	return im.zipWith(other, func(a, b float64) float64 { return a + b })
}

// Subtract returns the voxelwise difference of two images.
func (im *Image) Subtract(other *Image) (*Image, error) {
	return im.zipWith(other, func(a, b float64) float64 { return a - b })
}

// Multiply returns the voxelwise product of two images.
func (im *Image) Multiply(other *Image) (*Image, error) {
	return im.zipWith(other, func(a, b float64) float64 { return a * b })
}

// Divide returns the voxelwise quotient of two images. Division by zero
// follows IEEE float semantics.
func (im *Image) Divide(other *Image) (*Image, error) {
	return im.zipWith(other, func(a, b float64) float64 { return a / b })
}

// SquaredDifference returns the voxelwise squared difference (a-b)^2.
func (im *Image) SquaredDifference(other *Image) (*Image, error) {
	return im.zipWith(other, func(a, b float64) float64 {
		d := a - b
		return d * d
	})
}

// Scale returns the image multiplied by a scalar.
func (im *Image) Scale(c float64) *Image {
	return im.Apply(func(v float64) float64 { return v * c })
}

// Shift returns the image with a scalar added to every voxel.
func (im *Image) Shift(c float64) *Image {
	return im.Apply(func(v float64) float64 { return v + c })
}

// Sum returns the sum of all voxel values, accumulated in double precision.
func (im *Image) Sum() float64 {
	var s float64
	for _, v := range im.Data {
		s += v
	}
	return s
}

// Max returns the maximum voxel value. An empty image yields -Inf.
func (im *Image) Max() float64 {
	max := math.Inf(-1)
	for _, v := range im.Data {
		if v > max {
			max = v
		}
	}
	return max
}

// MaxMasked returns the maximum voxel value over the region where the mask is
// nonzero. An error is returned when the mask grid does not match or the mask
// is empty.
func (im *Image) MaxMasked(mask *Image) (float64, error) {
	if im.NumVoxels() != mask.NumVoxels() {
		return 0, fmt.Errorf("mask size mismatch: %v vs %v", im.Size, mask.Size)
	}
	max := math.Inf(-1)
	found := false
	for i, v := range im.Data {
		if mask.Data[i] != 0 {
			found = true
			if v > max {
				max = v
			}
		}
	}
	if !found {
		return 0, fmt.Errorf("mask selects no voxels")
	}
	return max, nil
}

// Cast returns the image quantized to the given encoding. Float64 is a plain
// copy; Float32 rounds each value through a 32-bit float; UInt8 clamps to
// [0, 255] and truncates.
func (im *Image) Cast(enc Encoding) *Image {
	out := im.Clone()
	out.Encoding = enc
	switch enc {
	case Float32:
		for i, v := range out.Data {
			out.Data[i] = float64(float32(v))
		}
	case UInt8:
		for i, v := range out.Data {
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Data[i] = math.Trunc(v)
		}
	}
	return out
}

// IsFloat reports whether the image carries a floating-point encoding.
func (im *Image) IsFloat() bool {
	return im.Encoding == Float32 || im.Encoding == Float64
}

// RescaleIntensity linearly maps the voxel values onto [lo, hi]. A constant
// image maps entirely onto lo.
func (im *Image) RescaleIntensity(lo, hi float64) *Image {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range im.Data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := NewLike(im)
	if max <= min {
		for i := range out.Data {
			out.Data[i] = lo
		}
		return out
	}
	scale := (hi - lo) / (max - min)
	for i, v := range im.Data {
		out.Data[i] = lo + (v-min)*scale
	}
	return out
}

// BinaryThreshold returns a binary image with 1 where the value is greater
// than or equal to lower, and 0 elsewhere.
func (im *Image) BinaryThreshold(lower float64) *Image {
	out := im.Apply(func(v float64) float64 {
		if v >= lower {
			return 1
		}
		return 0
	})
	out.Encoding = UInt8
	return out
}

// ThresholdBand keeps values inside [lower, upper] and replaces values
// outside the band with outside.
func (im *Image) ThresholdBand(lower, upper, outside float64) *Image {
	return im.Apply(func(v float64) float64 {
		if v < lower || v > upper {
			return outside
		}
		return v
	})
}

// Pad returns the image zero-padded by lower voxels before and upper voxels
// after each axis. The padding sizes are ordered (x, y, z). The origin is
// shifted so the original voxels keep their physical position.
func (im *Image) Pad(lower, upper [3]int) *Image {
	size := [3]int{
		im.Size[0] + lower[0] + upper[0],
		im.Size[1] + lower[1] + upper[1],
		im.Size[2] + lower[2] + upper[2],
	}
	out := New(size)
	out.Spacing = im.Spacing
	out.Direction = im.Direction
	out.Encoding = im.Encoding
	// Shift the origin back along each index axis by the lower padding.
	for r := 0; r < 3; r++ {
		out.Origin[r] = im.Origin[r]
		for c := 0; c < 3; c++ {
			out.Origin[r] -= im.Direction[r*3+c] * im.Spacing[c] * float64(lower[c])
		}
	}
	for z := 0; z < im.Size[2]; z++ {
		for y := 0; y < im.Size[1]; y++ {
			srcRow := im.Index(0, y, z)
			dstRow := out.Index(lower[0], y+lower[1], z+lower[2])
			copy(out.Data[dstRow:dstRow+im.Size[0]], im.Data[srcRow:srcRow+im.Size[0]])
		}
	}
	return out
}
