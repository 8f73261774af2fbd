package providers

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the onnxruntime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var envMu sync.Mutex

// SharedLibPath returns the onnxruntime shared library to load for this platform.
//
// The configured path wins, then LibraryPathEnv, then the platform default under
// ./third_party.
//
// Arguments:
//   - configured: The path from the configuration, possibly empty.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}

	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// Initialize loads the shared library and prepares the runtime environment.
// It is safe to call more than once; only the first call does any work.
//
// Arguments:
//   - cfg: The provider configuration naming the library.
//
// Returns:
//   - error: An error if the library is missing or the environment fails to start.
func Initialize(cfg Config) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath := SharedLibPath(cfg.LibraryPath)
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("onnxruntime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	return nil
}

// Shutdown tears the runtime environment down.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// SessionOptions builds session options for cfg, including its execution provider.
// The caller must destroy the result.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if an option or the execution provider is rejected.
func SessionOptions(cfg Config) (*ort.SessionOptions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := cfg.graphOptimizationLevel()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := configure(options, cfg, level); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config, level ort.GraphOptimizationLevel) error {
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}
	if err := options.SetExecutionMode(cfg.executionMode()); err != nil {
		return fmt.Errorf("error setting execution mode: %w", err)
	}
	if err := options.SetIntraOpNumThreads(cfg.IntraOpNumThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpNumThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}

	switch cfg.Backend {
	case CUDABackend:
		cuda, err := cfg.CUDA.native()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	case CoreMLBackend:
		if err := options.AppendExecutionProviderCoreML(cfg.CoreML.flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.OpenVINO.values()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CPUBackend:
		// CPU provider is always registered.
	}

	return nil
}
