package providers

// CoreML flags, see coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly          uint32 = 0x001
	coreMLFlagEnableOnSubgraph    uint32 = 0x002
	coreMLFlagOnlyEnableDeviceANE uint32 = 0x004
	coreMLFlagStaticInputShapes   uint32 = 0x008
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	UseCPUOnly bool `json:"use_cpu_only"               yaml:"use_cpu_only"`
	// Enable CoreML on subgraphs of control flow operators.
	EnableOnSubgraph bool `json:"enable_on_subgraph"         yaml:"enable_on_subgraph"`
	// Only run on devices with an Apple Neural Engine.
	OnlyANE bool `json:"only_ane"                   yaml:"only_ane"`
	// Only take nodes whose inputs have static shapes. Pyramid blobs change shape
	// per image, so this is normally left off.
	RequireStaticInputShapes bool `json:"require_static_input_shapes" yaml:"require_static_input_shapes"`
}

// flags packs the options into the bit field the legacy CoreML entry point takes.
func (o CoreMLOptions) flags() uint32 {
	var f uint32
	if o.UseCPUOnly {
		f |= coreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraph {
		f |= coreMLFlagEnableOnSubgraph
	}
	if o.OnlyANE {
		f |= coreMLFlagOnlyEnableDeviceANE
	}
	if o.RequireStaticInputShapes {
		f |= coreMLFlagStaticInputShapes
	}
	return f
}
