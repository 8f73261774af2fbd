// Package inference - Forward passes over image pyramid blobs.
package inference

import (
	"context"
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-par/images"
)

var (
	// ErrNoOutput is returned when a requested network output is missing.
	ErrNoOutput = errors.New("network output not found")
	// ErrShape is returned when an output tensor has an unusable shape.
	ErrShape = errors.New("unexpected output shape")
)

// DefaultInputName is the name of the blob input of the attribute network.
const DefaultInputName = "data"

// DefaultOutputNames are the outputs of the attribute network: three per-stage
// predictions and their fused total.
var DefaultOutputNames = []string{"pred_3", "pred_4", "pred_5", "pred_total"}

// Network runs a forward pass over an input blob.
type Network interface {
	// Forward feeds blob into the network and returns the named outputs.
	Forward(ctx context.Context, blob *images.Blob) (Outputs, error)
	// Close releases the network's resources.
	Close() error
}

// Output is a dense float32 tensor copied out of the network.
type Output struct {
	Shape []int64
	Data  []float32
}

// Rows returns the size of the leading axis and the number of values per row.
func (o Output) Rows() (n, k int, err error) {
	if len(o.Shape) == 0 || len(o.Data) == 0 {
		return 0, 0, fmt.Errorf("%w: empty output", ErrShape)
	}
	if len(o.Shape) == 1 {
		return 1, len(o.Data), nil
	}

	n = int(o.Shape[0])
	if n <= 0 || len(o.Data)%n != 0 {
		return 0, 0, fmt.Errorf("%w: %v holds %d values", ErrShape, o.Shape, len(o.Data))
	}
	return n, len(o.Data) / n, nil
}

// Outputs maps output names to tensors.
type Outputs map[string]Output

// Get returns the named output.
//
// Arguments:
//   - name: The output name.
//
// Returns:
//   - Output: The output tensor.
//   - error: ErrNoOutput when the network produced no such output.
func (o Outputs) Get(name string) (Output, error) {
	out, ok := o[name]
	if !ok {
		return Output{}, fmt.Errorf("%w: %s", ErrNoOutput, name)
	}
	return out, nil
}

// AverageRows averages an [N, K...] output over its leading axis, one row per
// pyramid level, and returns the K values.
//
// Arguments:
//   - out: The output to average.
//
// Returns:
//   - []float32: The per-attribute mean.
//   - error: An error if the output shape is unusable.
func AverageRows(out Output) ([]float32, error) {
	n, k, err := out.Rows()
	if err != nil {
		return nil, err
	}

	backing := make([]float32, len(out.Data))
	copy(backing, out.Data)
	t := tensor.New(tensor.WithShape(n, k), tensor.WithBacking(backing))

	sum, err := t.Sum(0)
	if err != nil {
		return nil, fmt.Errorf("failed to sum pyramid levels: %w", err)
	}
	mean, err := sum.DivScalar(float32(n), true)
	if err != nil {
		return nil, fmt.Errorf("failed to average pyramid levels: %w", err)
	}

	switch data := mean.Data().(type) {
	case []float32:
		res := make([]float32, len(data))
		copy(res, data)
		return res, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("%w: averaged to %T", ErrShape, data)
	}
}
