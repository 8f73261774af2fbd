package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CPUBackend, cfg.Backend)
	assert.GreaterOrEqual(t, cfg.IntraOpNumThreads, 1)
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "tpu"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.OptimizationLevel = "maximum"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.InterOpNumThreads = -1
	assert.Error(t, cfg.Validate())
}

func TestGraphOptimizationLevel(t *testing.T) {
	tests := map[string]ort.GraphOptimizationLevel{
		"disable":  ort.GraphOptimizationLevelDisableAll,
		"basic":    ort.GraphOptimizationLevelEnableBasic,
		"":         ort.GraphOptimizationLevelEnableExtended,
		"extended": ort.GraphOptimizationLevelEnableExtended,
		"all":      ort.GraphOptimizationLevelEnableAll,
	}

	for in, want := range tests {
		got, err := Config{OptimizationLevel: in}.graphOptimizationLevel()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestExecutionMode(t *testing.T) {
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeParallel), Config{}.executionMode())
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeSequential), Config{Sequential: true}.executionMode())
}

func TestCUDAValues(t *testing.T) {
	opts := DefaultCUDAOptions()
	opts.DeviceID = 1
	opts.GPUMemLimit = 2 << 30

	assert.Equal(t, map[string]string{
		"device_id":                 "1",
		"do_copy_in_default_stream": "1",
		"gpu_mem_limit":             "2147483648",
		"arena_extend_strategy":     "kSameAsRequested",
		"cudnn_conv_algo_search":    "HEURISTIC",
	}, opts.values())
}

func TestCoreMLFlags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.flags())
	assert.Equal(t, uint32(0x009), CoreMLOptions{UseCPUOnly: true, RequireStaticInputShapes: true}.flags())
}

func TestOpenVINOValues(t *testing.T) {
	assert.Equal(t, map[string]string{"device_type": "CPU", "precision": "FP32"}, DefaultOpenVINOOptions().values())

	opts := OpenVINOOptions{NumOfThreads: 4, CacheDir: "/tmp/ov"}
	assert.Equal(t, map[string]string{"num_of_threads": "4", "cache_dir": "/tmp/ov"}, opts.values())
}

func TestSharedLibPathPrecedence(t *testing.T) {
	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")

	assert.Equal(t, "/custom/lib.so", SharedLibPath("/custom/lib.so"))
	assert.Equal(t, "/opt/ort/libonnxruntime.so", SharedLibPath(""))

	t.Setenv(LibraryPathEnv, "")
	assert.NotEmpty(t, SharedLibPath(""))
}

func TestInitializeMissingLibrary(t *testing.T) {
	if ort.IsInitialized() {
		t.Skip("runtime already initialised by another test")
	}
	cfg := DefaultConfig()
	cfg.LibraryPath = t.TempDir() + "/missing.so"

	assert.Error(t, Initialize(cfg))
}
