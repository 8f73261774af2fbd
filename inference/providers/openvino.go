package providers

import "strconv"

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU).
	DeviceType string `json:"device_type"    yaml:"device_type"`
	// FP32, FP16 or ACCURACY.
	Precision string `json:"precision"      yaml:"precision"`
	// Overrides the default number of threads. 0 keeps the default.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Directory for compiled blob caching.
	CacheDir string `json:"cache_dir"      yaml:"cache_dir"`
}

// DefaultOpenVINOOptions returns CPU options at full precision.
func DefaultOpenVINOOptions() OpenVINOOptions {
	return OpenVINOOptions{
		DeviceType: "CPU",
		Precision:  "FP32",
	}
}

// values returns the options in the key/value form the runtime accepts.
func (o OpenVINOOptions) values() map[string]string {
	v := map[string]string{}
	if o.DeviceType != "" {
		v["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		v["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		v["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.CacheDir != "" {
		v["cache_dir"] = o.CacheDir
	}
	return v
}
