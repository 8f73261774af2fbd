package images

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptyPyramid is returned when a blob is requested for zero images.
var ErrEmptyPyramid = errors.New("no images to pack into a blob")

// Plane is a mean-subtracted float image in HWC layout with BGR channels.
type Plane struct {
	Data   []float32
	Height int
	Width  int
}

// At returns the value of channel c at (x, y).
func (p Plane) At(x, y, c int) float32 {
	return p.Data[(y*p.Width+x)*3+c]
}

// Blob is a dense NCHW float32 tensor holding one image per pyramid level.
type Blob struct {
	// Data is the row-major tensor backing.
	Data []float32
	// Shape is [N, C, H, W].
	Shape [4]int
}

// Len returns the number of values in the blob.
func (b *Blob) Len() int {
	return b.Shape[0] * b.Shape[1] * b.Shape[2] * b.Shape[3]
}

// At returns the value at [n, c, y, x].
func (b *Blob) At(n, c, y, x int) float32 {
	return b.Data[((n*b.Shape[1]+c)*b.Shape[2]+y)*b.Shape[3]+x]
}

// Dims returns the shape as int64 values, the form tensor runtimes expect.
func (b *Blob) Dims() []int64 {
	return []int64{int64(b.Shape[0]), int64(b.Shape[1]), int64(b.Shape[2]), int64(b.Shape[3])}
}

// String implements fmt.Stringer.
func (b *Blob) String() string {
	return fmt.Sprintf("blob%v", b.Shape)
}

// ImageListToBlob packs planes of different sizes into one zero-padded NCHW blob.
//
// Every plane is placed at the top-left corner of a maxH x maxW canvas; the
// remaining area stays zero.
//
// Arguments:
//   - planes: The pyramid levels to pack.
//
// Returns:
//   - *Blob: The packed blob.
//   - error: ErrEmptyPyramid when planes is empty.
func ImageListToBlob(planes []Plane) (*Blob, error) {
	if len(planes) == 0 {
		return nil, ErrEmptyPyramid
	}

	maxH, maxW := 0, 0
	for _, p := range planes {
		if len(p.Data) != p.Height*p.Width*3 {
			return nil, errors.Errorf("plane %dx%d holds %d values", p.Width, p.Height, len(p.Data))
		}
		maxH = max(maxH, p.Height)
		maxW = max(maxW, p.Width)
	}

	blob := &Blob{
		Data:  make([]float32, len(planes)*3*maxH*maxW),
		Shape: [4]int{len(planes), 3, maxH, maxW},
	}

	channel := maxH * maxW
	for n, p := range planes {
		base := n * 3 * channel
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				src := (y*p.Width + x) * 3
				dst := base + y*maxW + x
				blob.Data[dst] = p.Data[src]
				blob.Data[dst+channel] = p.Data[src+1]
				blob.Data[dst+2*channel] = p.Data[src+2]
			}
		}
	}

	return blob, nil
}
