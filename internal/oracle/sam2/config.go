// Package sam2 implements an in-process oracle backed by the SAM2 image
// predictor exported to ONNX (vision encoder plus prompt/mask decoder).
package sam2

import (
	"fmt"
	"runtime"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/egomask/internal/prompt"
)

// Point labels understood by the SAM2 decoder.
const (
	labelBackground  = 0
	labelForeground  = 1
	labelBoxTopLeft  = 2
	labelBoxBotRight = 3
)

// Normalization constants of the SAM2 vision encoder.
const (
	meanR = 0.485
	meanG = 0.456
	meanB = 0.406

	stdR = 0.229
	stdG = 0.224
	stdB = 0.225
)

const (
	// inputSize is the long side of the encoder input.
	inputSize = 1024
	// logitsDim is the side of the low-resolution mask logits.
	logitsDim = 256
)

// Config holds the SAM2 oracle configuration.
type Config struct {
	OnnxRuntimeLibPath string
	EncodeModelPath    string
	DecodeModelPath    string

	UseCuda    bool
	NumThreads int

	// Resolution is the coordinate scale the prompts were normalized with.
	Resolution int

	Log logs.Log
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: DefaultLibraryPath(),
		EncodeModelPath:    "./sam2_weights/vision_encoder.onnx",
		DecodeModelPath:    "./sam2_weights/prompt_encoder_mask_decoder.onnx",
		Resolution:         prompt.DefaultResolution,
	}
}

// DefaultLibraryPath picks the onnxruntime shared library for this platform.
func DefaultLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	switch runtime.GOOS {
	case "windows":
		return baseDir + libName + ".dll"
	case "darwin":
		return fmt.Sprintf("%s%s_%s.dylib", baseDir, libName, runtime.GOARCH)
	default:
		return fmt.Sprintf("%s%s_%s.so", baseDir, libName, runtime.GOARCH)
	}
}
