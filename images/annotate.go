package images

import (
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	labelLineHeight = 14
	labelPadding    = 3
)

// VisMinHeight is the height small crops are enlarged to before labels are drawn.
const VisMinHeight = 256

var (
	labelBackground = color.NRGBA{0, 0, 0, 160}
	labelForeground = color.NRGBA{0, 255, 0, 255}
)

// Annotate renders the given labels, one per line, on a copy of img. Images shorter
// than VisMinHeight are enlarged first so the text stays readable.
//
// Arguments:
//   - img: The image to annotate.
//   - labels: The text lines to draw in the top-left corner.
//
// Returns:
//   - *image.NRGBA: The annotated copy.
func Annotate(img *Image, labels []string) *image.NRGBA {
	dst := enlarge(img.NRGBA(), VisMinHeight)
	if len(labels) == 0 {
		return dst
	}

	face := basicfont.Face7x13
	width := 0
	for _, l := range labels {
		width = max(width, font.MeasureString(face, l).Ceil())
	}

	box := image.Rect(0, 0, width+2*labelPadding, len(labels)*labelLineHeight+2*labelPadding)
	draw.Draw(dst, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelForeground),
		Face: face,
	}
	for i, l := range labels {
		d.Dot = fixed.P(labelPadding, labelPadding+(i+1)*labelLineHeight-3)
		d.DrawString(l)
	}

	return dst
}

// enlarge scales src up to height rows, keeping the aspect ratio.
func enlarge(src *image.NRGBA, height int) *image.NRGBA {
	if src.Bounds().Dy() >= height {
		return src
	}

	scaled := resize.Resize(0, uint(height), src, resize.Bilinear)
	if out, ok := scaled.(*image.NRGBA); ok {
		return out
	}
	out := image.NewNRGBA(scaled.Bounds())
	draw.Draw(out, out.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return out
}

// SavePNG writes img to path, creating parent directories.
//
// Arguments:
//   - path: The destination file.
//   - img: The image to encode.
//
// Returns:
//   - error: An error if the file cannot be written.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create visualisation directory")
	}
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}
