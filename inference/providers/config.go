// Package providers - Execution provider selection and ONNX Runtime session options.
package providers

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Backend identifies an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CUDABackend uses NVIDIA CUDA for GPU acceleration.
	CUDABackend Backend = "cuda"
	// CoreMLBackend uses Apple CoreML for macOS acceleration.
	CoreMLBackend Backend = "coreml"
	// OpenVINOBackend uses Intel OpenVINO.
	OpenVINOBackend Backend = "openvino"
)

// Backends lists every supported backend.
var Backends = []Backend{CPUBackend, CUDABackend, CoreMLBackend, OpenVINOBackend}

// Config selects the execution provider and tunes the session.
type Config struct {
	// Backend specifies the execution provider to use.
	Backend Backend `json:"backend"              yaml:"backend"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path"         yaml:"library_path"`
	// OptimizationLevel is one of disable, basic, extended or all.
	OptimizationLevel string `json:"optimization_level"   yaml:"optimization_level"`
	// Sequential disables parallel execution of independent graph nodes.
	Sequential bool `json:"sequential"           yaml:"sequential"`
	// IntraOpNumThreads sets threads for parallelizing ops. 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops. 0 lets the runtime decide.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	// CUDA holds the CUDA provider options.
	CUDA CUDAOptions `json:"cuda"                 yaml:"cuda"`
	// CoreML holds the CoreML provider options.
	CoreML CoreMLOptions `json:"coreml"               yaml:"coreml"`
	// OpenVINO holds the OpenVINO provider options.
	OpenVINO OpenVINOOptions `json:"openvino"             yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with extended graph optimisations.
//
// Returns:
//   - Config: The default configuration.
func DefaultConfig() Config {
	return Config{
		Backend:           CPUBackend,
		OptimizationLevel: "extended",
		IntraOpNumThreads: max(1, runtime.NumCPU()/2),
		InterOpNumThreads: 1,
		CUDA:              DefaultCUDAOptions(),
		OpenVINO:          DefaultOpenVINOOptions(),
	}
}

// Validate checks that the backend and optimisation level are known.
//
// Returns:
//   - error: An error describing the first invalid field.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unsupported execution provider backend: %q", c.Backend)
	}
	if _, err := c.graphOptimizationLevel(); err != nil {
		return err
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return fmt.Errorf("thread counts must not be negative")
	}
	return nil
}

// graphOptimizationLevel maps the configured level onto the runtime constant.
func (c Config) graphOptimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch c.OptimizationLevel {
	case "disable":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unknown graph optimization level: %q", c.OptimizationLevel)
	}
}

// executionMode maps the Sequential flag onto the runtime constant.
func (c Config) executionMode() ort.ExecutionMode {
	if c.Sequential {
		return ort.ExecutionModeSequential
	}
	return ort.ExecutionModeParallel
}
