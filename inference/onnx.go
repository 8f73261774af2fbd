package inference

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-par/images"
	"github.com/nvr-ai/go-par/inference/providers"
)

// ONNXConfig describes an exported attribute network.
type ONNXConfig struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path"   yaml:"model_path"`
	// InputName is the blob input node.
	InputName string `json:"input_name"   yaml:"input_name"`
	// OutputNames are the output nodes to fetch.
	OutputNames []string `json:"output_names" yaml:"output_names"`
	// Provider selects and tunes the execution provider.
	Provider providers.Config `json:"provider"     yaml:"provider"`
}

// DefaultONNXConfig returns the input and output names of the attribute network.
func DefaultONNXConfig(modelPath string) ONNXConfig {
	return ONNXConfig{
		ModelPath:   modelPath,
		InputName:   DefaultInputName,
		OutputNames: append([]string(nil), DefaultOutputNames...),
		Provider:    providers.DefaultConfig(),
	}
}

// ONNXNetwork runs the attribute network on ONNX Runtime.
//
// The input is reshaped for every call since the pyramid blob takes the size of
// the image it was built from, so the session does not preallocate tensors.
type ONNXNetwork struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	outputNames []string
}

// NewONNXNetwork loads the model and creates a session on the configured provider.
//
// Arguments:
//   - cfg: The model and provider configuration.
//
// Returns:
//   - *ONNXNetwork: The loaded network.
//   - error: An error if the runtime or the model cannot be loaded.
func NewONNXNetwork(cfg ONNXConfig) (*ONNXNetwork, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.InputName == "" {
		cfg.InputName = DefaultInputName
	}
	if len(cfg.OutputNames) == 0 {
		cfg.OutputNames = append([]string(nil), DefaultOutputNames...)
	}

	if err := providers.Initialize(cfg.Provider); err != nil {
		return nil, err
	}

	options, err := providers.SessionOptions(cfg.Provider)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session for %s: %w", cfg.ModelPath, err)
	}

	return &ONNXNetwork{
		session:     session,
		outputNames: cfg.OutputNames,
	}, nil
}

// Forward implements Network.
func (n *ONNXNetwork) Forward(ctx context.Context, blob *images.Blob) (Outputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.session == nil {
		return nil, fmt.Errorf("network is closed")
	}

	input, err := ort.NewTensor(ort.NewShape(blob.Dims()...), blob.Data)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	// nil outputs are allocated by the runtime with the shapes the graph produces.
	values := make([]ort.Value, len(n.outputNames))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := n.session.Run([]ort.Value{input}, values); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputs := make(Outputs, len(values))
	for i, v := range values {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("%w: output %s is %T, want float32 tensor", ErrShape, n.outputNames[i], v)
		}
		data := t.GetData()
		outputs[n.outputNames[i]] = Output{
			Shape: t.GetShape().Clone(),
			Data:  append([]float32(nil), data...),
		}
	}

	return outputs, nil
}

// Close implements Network.
func (n *ONNXNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.session == nil {
		return nil
	}
	err := n.session.Destroy()
	n.session = nil
	if err != nil {
		return fmt.Errorf("error destroying ORT session: %w", err)
	}
	return nil
}
