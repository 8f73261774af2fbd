package images

import (
	"math"

	"github.com/pkg/errors"
)

// ScaleFactor returns the factor that brings the shortest side of an h x w image to
// target, reduced if that would push the longest side past maxSize.
//
// Arguments:
//   - height: The image height.
//   - width: The image width.
//   - target: The wanted length of the shortest side.
//   - maxSize: The cap on the longest side.
//
// Returns:
//   - float64: The scale factor.
func ScaleFactor(height, width, target, maxSize int) float64 {
	sizeMin := float64(min(height, width))
	sizeMax := float64(max(height, width))

	scale := float64(target) / sizeMin
	if math.RoundToEven(scale*sizeMax) > float64(maxSize) {
		scale = float64(maxSize) / sizeMax
	}
	return scale
}

// scaledSize rounds the scaled dimension the way OpenCV does for fx/fy resizes.
func scaledSize(n int, scale float64) int {
	return max(1, int(math.RoundToEven(float64(n)*scale)))
}

// linearTaps returns, for every destination coordinate, the source index and the
// weight of its right neighbour under OpenCV's INTER_LINEAR half-pixel mapping.
func linearTaps(dst, src int, scale float64) ([]int, []float32) {
	idx := make([]int, dst)
	frac := make([]float32, dst)
	inv := 1 / scale
	for d := 0; d < dst; d++ {
		f := (float64(d)+0.5)*inv - 0.5
		s := int(math.Floor(f))
		f -= float64(s)
		if s < 0 {
			s, f = 0, 0
		}
		if s >= src-1 {
			s, f = src-1, 0
		}
		idx[d] = s
		frac[d] = float32(f)
	}
	return idx, frac
}

// MeanSubtract converts img into a float plane with the BGR means removed.
//
// Arguments:
//   - img: The source image.
//   - means: The BGR channel means.
//
// Returns:
//   - Plane: The mean-subtracted plane at the original size.
func MeanSubtract(img *Image, means [3]float32) Plane {
	plane := Plane{
		Data:   make([]float32, len(img.Pix)),
		Height: img.Height,
		Width:  img.Width,
	}
	for i, v := range img.Pix {
		plane.Data[i] = float32(v) - means[i%3]
	}
	return plane
}

// ResizeLinear resamples a float plane by scale on both axes with bilinear
// interpolation, keeping fractional values. A resize to the same size is a copy.
//
// Arguments:
//   - src: The source plane.
//   - scale: The scale factor for both axes.
//
// Returns:
//   - Plane: The resampled plane.
func ResizeLinear(src Plane, scale float64) Plane {
	w := scaledSize(src.Width, scale)
	h := scaledSize(src.Height, scale)

	dst := Plane{
		Data:   make([]float32, w*h*3),
		Height: h,
		Width:  w,
	}
	if w == src.Width && h == src.Height {
		copy(dst.Data, src.Data)
		return dst
	}

	xs, fx := linearTaps(w, src.Width, scale)
	ys, fy := linearTaps(h, src.Height, scale)

	i := 0
	for y := 0; y < h; y++ {
		y0 := ys[y]
		y1 := min(y0+1, src.Height-1)
		wy := fy[y]
		for x := 0; x < w; x++ {
			x0 := xs[x]
			x1 := min(x0+1, src.Width-1)
			wx := fx[x]
			for c := 0; c < 3; c++ {
				top := src.At(x0, y0, c)*(1-wx) + src.At(x1, y0, c)*wx
				bottom := src.At(x0, y1, c)*(1-wx) + src.At(x1, y1, c)*wx
				dst.Data[i] = top*(1-wy) + bottom*wy
				i++
			}
		}
	}
	return dst
}

// Rescale subtracts the BGR means from img and resizes the result by scale.
//
// Arguments:
//   - img: The source image.
//   - scale: The scale factor for both axes.
//   - means: The BGR channel means.
//
// Returns:
//   - Plane: The resized, mean-subtracted plane.
func Rescale(img *Image, scale float64, means [3]float32) Plane {
	return ResizeLinear(MeanSubtract(img, means), scale)
}

// Rescaler resizes an image by a scale factor and subtracts the BGR means.
type Rescaler func(img *Image, scale float64, means [3]float32) (Plane, error)

// RescalePlane is Rescale as a Rescaler.
func RescalePlane(img *Image, scale float64, means [3]float32) (Plane, error) {
	return Rescale(img, scale, means), nil
}

// ImageBlob converts an image into a network input holding one pyramid level per scale.
//
// Arguments:
//   - img: The source image.
//   - means: The BGR channel means.
//   - scales: The target lengths of the shortest side.
//   - maxSize: The cap on the longest side.
//
// Returns:
//   - *Blob: The NCHW blob with len(scales) levels.
//   - []float64: The scale factor used for each level.
//   - error: An error if the image is empty or no scales are given.
func ImageBlob(img *Image, means [3]float32, scales []int, maxSize int) (*Blob, []float64, error) {
	return PyramidBlob(img, means, scales, maxSize, RescalePlane)
}

// PyramidBlob is ImageBlob with a custom resampler.
func PyramidBlob(img *Image, means [3]float32, scales []int, maxSize int, rescale Rescaler) (*Blob, []float64, error) {
	if img.Empty() {
		return nil, nil, errors.New("cannot build a blob from an empty image")
	}
	if len(scales) == 0 {
		return nil, nil, ErrEmptyPyramid
	}

	planes := make([]Plane, 0, len(scales))
	factors := make([]float64, 0, len(scales))
	for _, target := range scales {
		scale := ScaleFactor(img.Height, img.Width, target, maxSize)
		plane, err := rescale(img, scale, means)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to rescale image by %g", scale)
		}
		planes = append(planes, plane)
		factors = append(factors, scale)
	}

	blob, err := ImageListToBlob(planes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to pack image pyramid")
	}

	return blob, factors, nil
}
