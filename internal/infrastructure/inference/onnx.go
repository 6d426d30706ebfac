//go:build onnxruntime
// +build onnxruntime

package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment инициализирует окружение ONNX Runtime один раз на процесс
func initEnvironment(library string) error {
	envOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if !ort.IsInitialized() {
			envErr = ort.InitializeEnvironment()
		}
	})
	return envErr
}

// ONNXEngine сеть onnx в ONNX Runtime; для TensorRT подключается провайдер TensorRT
type ONNXEngine struct {
	sel     entity.Selection
	library string
	logger  *slog.Logger

	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	options    *ort.SessionOptions
	inputShape []int64
	outputs    int
}

func newONNXEngine(sel entity.Selection, library string, logger *slog.Logger) (port.InferenceEngine, error) {
	if sel.Format != entity.FormatONNX {
		return nil, fmt.Errorf("%w: ONNX Runtime cannot load %s", entity.ErrBackendUnavailable, sel.Format)
	}
	if err := initEnvironment(library); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize ONNX environment: %v", entity.ErrBackendUnavailable, err)
	}
	return &ONNXEngine{sel: sel, library: library, logger: logger}, nil
}

// Load создаёт сессию; имена узлов берутся из привязки, иначе из файла модели
func (e *ONNXEngine) Load(ctx context.Context, weightsPath string, binding entity.NodeBinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(weightsPath)
	if err != nil {
		return fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("model %s has no inputs or outputs", weightsPath)
	}

	inputName := inputs[0].Name
	if binding.InputName != "" {
		inputName = binding.InputName
	}
	outputNames := make([]string, 0, len(outputs))
	if binding.OutputName != "" {
		outputNames = append(outputNames, binding.OutputName)
	} else {
		for _, o := range outputs {
			outputNames = append(outputNames, o.Name)
		}
	}

	options, err := e.sessionOptions()
	if err != nil {
		return err
	}
	session, err := ort.NewDynamicAdvancedSession(weightsPath, []string{inputName}, outputNames, options)
	if err != nil {
		options.Destroy()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = session
	e.options = options
	e.inputShape = inputs[0].Dimensions
	if binding.Input != nil {
		e.inputShape = binding.Input
	}
	e.outputs = len(outputNames)
	e.logger.Info("network loaded", "backend", e.sel.Backend, "format", e.sel.Format, "input", inputName, "outputs", e.outputs)
	return nil
}

func (e *ONNXEngine) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if e.sel.Backend != entity.BackendTensorRT {
		return options, nil
	}
	trt, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		options.Destroy()
		return nil, fmt.Errorf("%w: TensorRT provider: %v", entity.ErrBackendUnavailable, err)
	}
	defer trt.Destroy()
	if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("%w: TensorRT provider: %v", entity.ErrBackendUnavailable, err)
	}
	return options, nil
}

// Run выполняет сеть; вход NHWC переставляется в NCHW, если этого ждёт модель
func (e *ONNXEngine) Run(ctx context.Context, input *entity.Tensor) ([]*entity.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("network is not loaded")
	}

	if len(input.Shape) == 4 && wantsNCHW(e.inputShape, input.Shape[3]) {
		input = toNCHW(input)
	}
	in, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := make([]ort.Value, e.outputs)
	if err := e.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	result := make([]*entity.Tensor, 0, len(outputs))
	for _, o := range outputs {
		defer o.Destroy()
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unsupported output type %T", o)
		}
		out := entity.NewTensor(t.GetShape()...)
		copy(out.Data, t.GetData())
		result = append(result, out)
	}
	return result, nil
}

func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.options != nil {
		e.options.Destroy()
		e.options = nil
	}
	return err
}
