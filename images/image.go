// Package images - Image decoding and conversion into network input blobs.
package images

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Image is a decoded colour image stored as interleaved BGR bytes, row major.
//
// The layout matches what OpenCV hands back from imread so that images decoded
// by either reader produce identical blobs.
type Image struct {
	// Pix holds Height*Width*3 bytes in B, G, R order.
	Pix []uint8
	// Width is the image width in pixels.
	Width int
	// Height is the image height in pixels.
	Height int
}

// NewImage allocates a black image of the given size.
//
// Arguments:
//   - width: The image width in pixels.
//   - height: The image height in pixels.
//
// Returns:
//   - *Image: The allocated image.
func NewImage(width, height int) *Image {
	return &Image{
		Pix:    make([]uint8, width*height*3),
		Width:  width,
		Height: height,
	}
}

// Empty reports whether the image holds no pixels.
func (m *Image) Empty() bool {
	return m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Pix) < m.Width*m.Height*3
}

// BGR returns the channel values of the pixel at (x, y).
func (m *Image) BGR(x, y int) (b, g, r uint8) {
	i := (y*m.Width + x) * 3
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// SetBGR sets the channel values of the pixel at (x, y).
func (m *Image) SetBGR(x, y int, b, g, r uint8) {
	i := (y*m.Width + x) * 3
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = b, g, r
}

// NRGBA converts the image into an opaque Go image.
//
// Returns:
//   - *image.NRGBA: The converted image.
func (m *Image) NRGBA() *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			b, g, r := m.BGR(x, y)
			o := dst.PixOffset(x, y)
			dst.Pix[o+0] = r
			dst.Pix[o+1] = g
			dst.Pix[o+2] = b
			dst.Pix[o+3] = 0xff
		}
	}
	return dst
}

// FromImage converts any Go image into BGR layout. Alpha is dropped.
//
// Arguments:
//   - src: The image to convert.
//
// Returns:
//   - *Image: The converted image.
func FromImage(src image.Image) *Image {
	nrgba := imaging.Clone(src)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()

	dst := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := nrgba.PixOffset(x, y)
			dst.SetBGR(x, y, nrgba.Pix[o+2], nrgba.Pix[o+1], nrgba.Pix[o+0])
		}
	}
	return dst
}

// Read decodes an image file (JPEG, PNG, BMP, GIF or TIFF) honouring EXIF orientation.
//
// Arguments:
//   - path: The file to decode.
//
// Returns:
//   - *Image: The decoded image.
//   - error: An error if the file cannot be opened or decoded.
func Read(path string) (*Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %s", path)
	}

	img := FromImage(src)
	if img.Empty() {
		return nil, errors.Errorf("image %s has no pixels", path)
	}
	return img, nil
}

// Reader loads an image from a path.
type Reader func(path string) (*Image, error)

// Fill paints the whole image with one colour.
func (m *Image) Fill(c color.Color) {
	r, g, b, _ := c.RGBA()
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			m.SetBGR(x, y, uint8(b>>8), uint8(g>>8), uint8(r>>8))
		}
	}
}
