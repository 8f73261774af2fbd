// Package cv - OpenCV backed image reading.
package cv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-par/images"
)

// Read decodes an image file with OpenCV. The pixels come back in BGR order,
// which is the native layout of images.Image.
//
// Arguments:
//   - path: The file to decode.
//
// Returns:
//   - *images.Image: The decoded image.
//   - error: An error if OpenCV cannot decode the file.
func Read(path string) (*images.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("opencv could not decode %s", path)
	}

	return FromMat(mat)
}

// FromMat copies an 8-bit, 3-channel Mat into an images.Image.
//
// Arguments:
//   - mat: The source Mat, in BGR order.
//
// Returns:
//   - *images.Image: The copied image.
//   - error: An error if the Mat is not CV_8UC3.
func FromMat(mat gocv.Mat) (*images.Image, error) {
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unsupported mat type %v, want CV_8UC3", mat.Type())
	}

	if !mat.IsContinuous() {
		cloned := mat.Clone()
		defer cloned.Close()
		mat = cloned
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to access mat data: %w", err)
	}

	img := images.NewImage(mat.Cols(), mat.Rows())
	copy(img.Pix, data)
	return img, nil
}

// ToMat copies an images.Image into a new CV_8UC3 Mat. The caller owns the Mat.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - gocv.Mat: The new Mat.
//   - error: An error if OpenCV rejects the buffer.
func ToMat(img *images.Image) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pix)
}

// Rescale resizes img by scale with OpenCV INTER_LINEAR on a float copy and
// subtracts the BGR means. It matches images.Rescale.
//
// Arguments:
//   - img: The source image.
//   - scale: The scale factor for both axes.
//   - means: The BGR channel means.
//
// Returns:
//   - images.Plane: The resized, mean-subtracted plane.
//   - error: An error if OpenCV rejects the image.
func Rescale(img *images.Image, scale float64, means [3]float32) (images.Plane, error) {
	src, err := ToMat(img)
	if err != nil {
		return images.Plane{}, err
	}
	defer src.Close()

	f := gocv.NewMat()
	defer f.Close()
	src.ConvertTo(&f, gocv.MatTypeCV32FC3)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(f, &resized, image.Point{}, scale, scale, gocv.InterpolationLinear)
	if resized.Empty() {
		return images.Plane{}, fmt.Errorf("opencv could not resize %dx%d by %g", img.Width, img.Height, scale)
	}

	data, err := resized.DataPtrFloat32()
	if err != nil {
		return images.Plane{}, fmt.Errorf("failed to access mat data: %w", err)
	}

	plane := images.Plane{
		Data:   make([]float32, len(data)),
		Height: resized.Rows(),
		Width:  resized.Cols(),
	}
	for i, v := range data {
		plane.Data[i] = v - means[i%3]
	}
	return plane, nil
}
