package attributes

import (
	"context"
	"fmt"
	"time"

	"github.com/nvr-ai/go-par/config"
	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/inference"
)

// Prediction is the outcome of recognising one database image.
type Prediction struct {
	// Index is the image's position in the database.
	Index int
	// Path is the image file.
	Path string
	// Attributes holds one 0/1 label per attribute.
	Attributes []uint8
	// Duration is the time spent in Recognize.
	Duration time.Duration
}

// Positive returns the indices of the attributes predicted present.
func (p Prediction) Positive() []int {
	var idx []int
	for i, a := range p.Attributes {
		if a == 1 {
			idx = append(idx, i)
		}
	}
	return idx
}

// Recognizer predicts the attributes of pedestrian images.
type Recognizer struct {
	cfg     config.Config
	net     inference.Network
	rescale images.Rescaler
}

// NewRecognizer binds a network to the pre- and post-processing settings.
//
// Arguments:
//   - cfg: The evaluation settings.
//   - net: The network to run.
//
// Returns:
//   - *Recognizer: The recogniser.
//   - error: An error if cfg is invalid.
func NewRecognizer(cfg config.Config, net inference.Network) (*Recognizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	return &Recognizer{cfg: cfg, net: net, rescale: images.RescalePlane}, nil
}

// SetRescaler replaces the pyramid resampler, for example with the OpenCV one.
func (r *Recognizer) SetRescaler(fn images.Rescaler) {
	if fn != nil {
		r.rescale = fn
	}
}

// Config returns the settings the recogniser runs with.
func (r *Recognizer) Config() config.Config {
	return r.cfg
}

// Scores runs the network on img and returns the fused scores averaged over the
// pyramid levels, before any group normalisation.
//
// Arguments:
//   - ctx: Cancels the forward pass.
//   - img: The pedestrian image in BGR order.
//
// Returns:
//   - []float32: One score per attribute.
//   - error: An error if the blob cannot be built or the network fails.
func (r *Recognizer) Scores(ctx context.Context, img *images.Image) ([]float32, error) {
	blob, _, err := images.PyramidBlob(img, r.cfg.PixelMeans, r.cfg.Test.Scales, r.cfg.Test.MaxSize, r.rescale)
	if err != nil {
		return nil, err
	}

	outs, err := r.net.Forward(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}

	total, err := outs.Get(r.cfg.Attributes.OutputName)
	if err != nil {
		return nil, err
	}

	pred, err := inference.AverageRows(total)
	if err != nil {
		return nil, err
	}
	if len(pred) != r.cfg.Attributes.Count {
		return nil, fmt.Errorf("%w: network predicts %d attributes, want %d",
			inference.ErrShape, len(pred), r.cfg.Attributes.Count)
	}

	return pred, nil
}

// Recognize predicts the binary attribute vector of a pedestrian image.
//
// Arguments:
//   - ctx: Cancels the forward pass.
//   - img: The pedestrian image in BGR order.
//
// Returns:
//   - []uint8: One 0/1 label per attribute.
//   - error: An error if scoring fails.
func (r *Recognizer) Recognize(ctx context.Context, img *images.Image) ([]uint8, error) {
	pred, err := r.Scores(ctx, img)
	if err != nil {
		return nil, err
	}

	NormalizeGroups(pred, r.cfg.Attributes.Groups, r.cfg.Attributes.ThresholdSingletons)
	return Binarize(pred, r.cfg.Attributes.Threshold), nil
}
