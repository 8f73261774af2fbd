package inference

import (
	"context"
	"fmt"
	"os"
	"sync"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-par/images"
)

// HeadWeights parameterise a linear attribute head over channel-pooled features.
type HeadWeights struct {
	// Weights is a channels x attributes matrix.
	Weights [][]float32 `json:"weights" yaml:"weights"`
	// Bias holds one value per attribute.
	Bias []float32 `json:"bias"    yaml:"bias"`
}

// Channels returns the number of input channels.
func (w *HeadWeights) Channels() int {
	return len(w.Weights)
}

// Attributes returns the number of attributes the head predicts.
func (w *HeadWeights) Attributes() int {
	return len(w.Bias)
}

// Validate checks that the matrix is rectangular and matches the bias.
func (w *HeadWeights) Validate() error {
	if w.Channels() == 0 || w.Attributes() == 0 {
		return fmt.Errorf("head weights are empty")
	}
	for i, row := range w.Weights {
		if len(row) != w.Attributes() {
			return fmt.Errorf("weights row %d has %d values, want %d", i, len(row), w.Attributes())
		}
	}
	return nil
}

// LoadHeadWeights reads head weights from a YAML file.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - *HeadWeights: The parsed weights.
//   - error: An error if the file cannot be read or is inconsistent.
func LoadHeadWeights(path string) (*HeadWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read head weights: %w", err)
	}

	var w HeadWeights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse head weights %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid head weights %s: %w", path, err)
	}
	return &w, nil
}

// GraphNetwork is a pure Go reference network: global average pooling over each
// pyramid level, a linear layer and a sigmoid. It runs on a gorgonia tape machine
// and needs no native runtime.
type GraphNetwork struct {
	mu         sync.Mutex
	weights    *HeadWeights
	flat       []float32
	outputName string
}

// NewGraphNetwork builds a reference network from head weights.
//
// Arguments:
//   - weights: The head parameters.
//   - outputName: The name under which the per-level scores are returned.
//
// Returns:
//   - *GraphNetwork: The network.
//   - error: An error if the weights are inconsistent.
func NewGraphNetwork(weights *HeadWeights, outputName string) (*GraphNetwork, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if outputName == "" {
		outputName = DefaultOutputNames[len(DefaultOutputNames)-1]
	}

	flat := make([]float32, 0, weights.Channels()*weights.Attributes())
	for _, row := range weights.Weights {
		flat = append(flat, row...)
	}

	return &GraphNetwork{
		weights:    weights,
		flat:       flat,
		outputName: outputName,
	}, nil
}

// Forward implements Network.
func (g *GraphNetwork) Forward(ctx context.Context, blob *images.Blob) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, c, h, w := blob.Shape[0], blob.Shape[1], blob.Shape[2], blob.Shape[3]
	k := g.weights.Attributes()
	if c != g.weights.Channels() {
		return nil, fmt.Errorf("%w: blob has %d channels, head expects %d", ErrShape, c, g.weights.Channels())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	graph := G.NewGraph()

	input := tensor.New(tensor.WithShape(n*c, h*w), tensor.WithBacking(append([]float32(nil), blob.Data...)))
	x := G.NewMatrix(graph, tensor.Float32, G.WithShape(n*c, h*w), G.WithName("data"), G.WithValue(input))

	pooled, err := G.Mean(x, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to pool blob: %w", err)
	}
	pooled, err = G.Reshape(pooled, tensor.Shape{n, c})
	if err != nil {
		return nil, fmt.Errorf("failed to reshape pooled features: %w", err)
	}

	weights := tensor.New(tensor.WithShape(c, k), tensor.WithBacking(append([]float32(nil), g.flat...)))
	wn := G.NewMatrix(graph, tensor.Float32, G.WithShape(c, k), G.WithName("weights"), G.WithValue(weights))

	bias := make([]float32, 0, n*k)
	for i := 0; i < n; i++ {
		bias = append(bias, g.weights.Bias...)
	}
	bn := G.NewMatrix(graph, tensor.Float32, G.WithShape(n, k), G.WithName("bias"),
		G.WithValue(tensor.New(tensor.WithShape(n, k), tensor.WithBacking(bias))))

	logits, err := G.Mul(pooled, wn)
	if err != nil {
		return nil, fmt.Errorf("failed to apply head: %w", err)
	}
	logits, err = G.Add(logits, bn)
	if err != nil {
		return nil, fmt.Errorf("failed to add bias: %w", err)
	}
	probs, err := G.Sigmoid(logits)
	if err != nil {
		return nil, fmt.Errorf("failed to apply sigmoid: %w", err)
	}

	var result G.Value
	G.Read(probs, &result)

	vm := G.NewTapeMachine(graph)
	defer vm.Close()

	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("failed to run reference head: %w", err)
	}

	data, ok := result.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: head produced %T", ErrShape, result.Data())
	}

	return Outputs{
		g.outputName: {
			Shape: []int64{int64(n), int64(k)},
			Data:  append([]float32(nil), data...),
		},
	}, nil
}

// Close implements Network.
func (g *GraphNetwork) Close() error {
	return nil
}
