package sam2

import (
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"github.com/up-zero/gotool/convertutil"
	"github.com/up-zero/gotool/imageutil"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/ayusman/egomask/internal/oracle"
)

// runtimeOptions is the subset of Config that configures ONNX Runtime.
type runtimeOptions struct {
	OnnxRuntimeLibPath string
	UseCuda            bool
	NumThreads         int
}

var (
	initErr  error
	initOnce sync.Once
)

func (o *runtimeOptions) sessionOptions() (*ort.SessionOptions, error) {
	if o.OnnxRuntimeLibPath == "" {
		return nil, fmt.Errorf("onnxruntime library path is empty")
	}
	initOnce.Do(func() {
		ort.SetSharedLibraryPath(o.OnnxRuntimeLibPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if o.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(o.NumThreads); err != nil {
			options.Destroy()
			return nil, err
		}
	}
	if o.UseCuda {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("create CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("append CUDA provider: %w", err)
		}
	}
	return options, nil
}

// engine holds the encoder and decoder sessions.
type engine struct {
	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
}

func newEngine(cfg Config) (*engine, error) {
	opts := new(runtimeOptions)
	if err := convertutil.CopyProperties(cfg, opts); err != nil {
		return nil, fmt.Errorf("copy runtime options: %w", err)
	}
	sessionOptions, err := opts.sessionOptions()
	if err != nil {
		return nil, err
	}
	defer sessionOptions.Destroy()

	encoder, err := ort.NewDynamicAdvancedSession(cfg.EncodeModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeddings.0", "image_embeddings.1", "image_embeddings.2"},
		sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("create encoder session: %w", err)
	}

	decoder, err := ort.NewDynamicAdvancedSession(cfg.DecodeModelPath,
		[]string{
			"input_points", "input_labels", "input_boxes",
			"image_embeddings.0", "image_embeddings.1", "image_embeddings.2",
		},
		[]string{"iou_scores", "pred_masks", "object_score_logits"},
		sessionOptions)
	if err != nil {
		encoder.Destroy()
		return nil, fmt.Errorf("create decoder session: %w", err)
	}

	return &engine{encoder: encoder, decoder: decoder}, nil
}

func (e *engine) destroy() error {
	if e.encoder != nil {
		if err := e.encoder.Destroy(); err != nil {
			return fmt.Errorf("destroy encoder session: %w", err)
		}
	}
	if e.decoder != nil {
		if err := e.decoder.Destroy(); err != nil {
			return fmt.Errorf("destroy decoder session: %w", err)
		}
	}
	return nil
}

// imageContext caches the encoder embeddings of one frame.
type imageContext struct {
	engine     *engine
	embeddings []ort.Value

	origW, origH int
	scale        float32
	newW, newH   int
	destroyed    bool
}

func (e *engine) encode(img image.Image) (*imageContext, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	scale := float32(inputSize) / float32(max(origW, origH))
	newW := int(float32(origW) * scale)
	newH := int(float32(origH) * scale)

	resized := imageutil.Resize(img, newW, newH)
	data := normalizeAndPad(resized, inputSize, inputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), data)
	if err != nil {
		return nil, classify(fmt.Errorf("create image tensor: %w", err))
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 3)
	if err := e.encoder.Run([]ort.Value{input}, outputs); err != nil {
		return nil, classify(fmt.Errorf("encoder run: %w", err))
	}

	c := &imageContext{
		engine:     e,
		embeddings: outputs,
		origW:      origW,
		origH:      origH,
		scale:      scale,
		newW:       newW,
		newH:       newH,
	}
	runtime.SetFinalizer(c, func(c *imageContext) { c.destroy() })
	return c, nil
}

func (c *imageContext) destroy() {
	if c.destroyed {
		return
	}
	for _, v := range c.embeddings {
		if v != nil {
			v.Destroy()
		}
	}
	c.embeddings = nil
	c.destroyed = true
}

type point struct {
	X, Y  float32
	Label int64
}

// decode runs the mask decoder and returns per-pixel foreground
// probabilities at the original frame size.
func (c *imageContext) decode(points []point) ([]float32, error) {
	if c.destroyed {
		return nil, fmt.Errorf("image embeddings destroyed")
	}

	coords := make([]float32, 0, len(points)*2)
	labels := make([]int64, 0, len(points))
	for _, pt := range points {
		coords = append(coords, pt.X*c.scale, pt.Y*c.scale)
		labels = append(labels, pt.Label)
	}
	n := int64(len(points))

	tPoints, err := ort.NewTensor(ort.NewShape(1, 1, n, 2), coords)
	if err != nil {
		return nil, classify(fmt.Errorf("create points tensor: %w", err))
	}
	defer tPoints.Destroy()

	tLabels, err := ort.NewTensor(ort.NewShape(1, 1, n), labels)
	if err != nil {
		return nil, classify(fmt.Errorf("create labels tensor: %w", err))
	}
	defer tLabels.Destroy()

	// Boxes are passed as corner points.
	var noBoxes []float32
	tBoxes, err := ort.NewTensor(ort.NewShape(1, 0, 4), noBoxes)
	if err != nil {
		return nil, classify(fmt.Errorf("create boxes tensor: %w", err))
	}
	defer tBoxes.Destroy()

	inputs := []ort.Value{tPoints, tLabels, tBoxes, c.embeddings[0], c.embeddings[1], c.embeddings[2]}
	outputs := make([]ort.Value, 3)
	if err := c.engine.decoder.Run(inputs, outputs); err != nil {
		return nil, classify(fmt.Errorf("decoder run: %w", err))
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scores := outputs[0].(*ort.Tensor[float32]).GetData()
	masks := outputs[1].(*ort.Tensor[float32]).GetData()

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	perMask := logitsDim * logitsDim
	logits := masks[best*perMask : (best+1)*perMask]

	validW := int(float32(c.newW) / 4)
	validH := int(float32(c.newH) / 4)
	return upscaleProbabilities(logits, logitsDim, validW, validH, c.origW, c.origH), nil
}

// classify marks allocation failures as resource exhaustion.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "allocat") || strings.Contains(msg, "out of memory") {
		return fmt.Errorf("%w: %v", oracle.ErrResourceExhausted, err)
	}
	return err
}
