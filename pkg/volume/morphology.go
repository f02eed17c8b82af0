package volume

import (
	"github.com/theodesp/unionfind"
)

// neighbors6 enumerates the face-adjacent offsets used by the morphology
// operations (6-connectivity).
var neighbors6 = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// BinaryFillHoles fills enclosed background regions of a binary image.
// Background voxels (value 0) that cannot be reached from the volume boundary
// through face-adjacent background voxels are considered holes and set to 1.
// Nonzero voxels are treated as foreground and kept as 1.
func (im *Image) BinaryFillHoles() *Image {
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	n := im.NumVoxels()

	// Flood fill the outside background starting from every boundary voxel.
	outside := make([]bool, n)
	queue := make([]int, 0, n/4)
	push := func(x, y, z int) {
		i := im.Index(x, y, z)
		if !outside[i] && im.Data[i] == 0 {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if x == 0 || y == 0 || z == 0 || x == nx-1 || y == ny-1 || z == nz-1 {
					push(x, y, z)
				}
			}
		}
	}
	stride := [3]int{1, nx, nx * ny}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x := i % nx
		y := (i / nx) % ny
		z := i / (nx * ny)
		for _, d := range neighbors6 {
			px, py, pz := x+d[0], y+d[1], z+d[2]
			if px < 0 || py < 0 || pz < 0 || px >= nx || py >= ny || pz >= nz {
				continue
			}
			j := i + d[0]*stride[0] + d[1]*stride[1] + d[2]*stride[2]
			if !outside[j] && im.Data[j] == 0 {
				outside[j] = true
				queue = append(queue, j)
			}
		}
	}

	out := NewLike(im)
	out.Encoding = UInt8
	for i := range im.Data {
		if im.Data[i] != 0 || !outside[i] {
			out.Data[i] = 1
		}
	}
	return out
}

// ConnectedComponents labels the face-connected foreground regions of a
// binary image. Nonzero voxels are foreground. The returned image holds a
// label in 1..n for every foreground voxel and 0 for background; n is the
// number of components found.
func (im *Image) ConnectedComponents() (*Image, int) {
	nx, ny, nz := im.Size[0], im.Size[1], im.Size[2]
	n := im.NumVoxels()

	// First pass: provisional labels, merging across the already-visited
	// (-x, -y, -z) neighbors with a union-find structure.
	provisional := make([]int, n)
	next := 1
	uf := unionfind.New(n + 1)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := im.Index(x, y, z)
				if im.Data[i] == 0 {
					continue
				}
				label := 0
				if x > 0 && provisional[i-1] != 0 {
					label = provisional[i-1]
				}
				if y > 0 && provisional[i-nx] != 0 {
					if label != 0 && label != provisional[i-nx] {
						uf.Union(label, provisional[i-nx])
					}
					label = provisional[i-nx]
				}
				if z > 0 && provisional[i-nx*ny] != 0 {
					if label != 0 && label != provisional[i-nx*ny] {
						uf.Union(label, provisional[i-nx*ny])
					}
					label = provisional[i-nx*ny]
				}
				if label == 0 {
					label = next
					next++
				}
				provisional[i] = label
			}
		}
	}

	// Second pass: compact the union-find roots into labels 1..count.
	rootLabel := make(map[int]int)
	out := NewLike(im)
	out.Encoding = UInt8
	count := 0
	for i, p := range provisional {
		if p == 0 {
			continue
		}
		root := uf.Root(p)
		if root < 0 {
			root = p
		}
		label, ok := rootLabel[root]
		if !ok {
			count++
			label = count
			rootLabel[root] = label
		}
		out.Data[i] = float64(label)
	}
	return out, count
}

// ComponentSizes returns the voxel count of each component in a labeled
// image, indexed by label-1. Labels outside 1..count are ignored.
func ComponentSizes(labeled *Image, count int) []int {
	sizes := make([]int, count)
	for _, v := range labeled.Data {
		l := int(v)
		if l >= 1 && l <= count {
			sizes[l-1]++
		}
	}
	return sizes
}
