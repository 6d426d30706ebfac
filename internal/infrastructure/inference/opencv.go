//go:build gocv
// +build gocv

package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"gocv.io/x/gocv"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// OpenCVEngine сеть OpenCV DNN: OpenVINO IR (xml+bin), onnx и TensorFlow pb
type OpenCVEngine struct {
	sel     entity.Selection
	logger  *slog.Logger
	mu      sync.Mutex
	net     gocv.Net
	loaded  bool
	binding entity.NodeBinding
	outputs []string
}

func newOpenCVEngine(sel entity.Selection, logger *slog.Logger) (port.InferenceEngine, error) {
	return &OpenCVEngine{sel: sel, logger: logger}, nil
}

// Load читает веса; для xml рядом ищется одноимённый .bin
func (e *OpenCVEngine) Load(ctx context.Context, weightsPath string, binding entity.NodeBinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	config := ""
	if e.sel.Format == entity.FormatXML {
		config = strings.TrimSuffix(weightsPath, ".xml") + ".bin"
	}

	net := gocv.ReadNet(weightsPath, config)
	if net.Empty() {
		return fmt.Errorf("failed to read network %s", weightsPath)
	}

	backend := gocv.NetBackendDefault
	if e.sel.Backend == entity.BackendOpenVINO {
		backend = gocv.NetBackendOpenVINO
	}
	target := gocv.NetTargetCPU
	if e.sel.Device == entity.DeviceGPU {
		target = gocv.NetTargetOpenCL
	}
	net.SetPreferableBackend(backend)
	net.SetPreferableTarget(target)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.net = net
	e.loaded = true
	e.binding = binding
	e.outputs = outputLayers(net, binding.OutputName)
	e.logger.Info("network loaded", "backend", e.sel.Backend, "format", e.sel.Format, "outputs", len(e.outputs))
	return nil
}

// Run подаёт вход NHWC как блоб NCHW и возвращает выходы в порядке слоёв
func (e *OpenCVEngine) Run(ctx context.Context, input *entity.Tensor) ([]*entity.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nchw := toNCHW(input)
	sizes := make([]int, len(nchw.Shape))
	for i, d := range nchw.Shape {
		sizes[i] = int(d)
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(nchw.Data))), len(nchw.Data)*4)
	blob, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create input blob: %w", err)
	}
	defer blob.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil, fmt.Errorf("network is not loaded")
	}
	e.net.SetInput(blob, e.binding.InputName)
	mats := e.net.ForwardLayers(e.outputs)
	defer func() {
		for i := range mats {
			mats[i].Close()
		}
	}()

	out := make([]*entity.Tensor, 0, len(mats))
	for _, m := range mats {
		data, err := m.DataPtrFloat32()
		if err != nil {
			return nil, fmt.Errorf("failed to read output: %w", err)
		}
		shape := make([]int64, 0, len(m.Size()))
		for _, d := range m.Size() {
			shape = append(shape, int64(d))
		}
		t := entity.NewTensor(shape...)
		copy(t.Data, data)
		out = append(out, t)
	}
	return out, nil
}

func (e *OpenCVEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return nil
	}
	e.loaded = false
	return e.net.Close()
}

// outputLayers выходной узел из привязки или все несвязанные слои сети
func outputLayers(net gocv.Net, name string) []string {
	if name != "" {
		return []string{name}
	}
	layerNames := net.GetLayerNames()
	var names []string
	for _, i := range net.GetUnconnectedOutLayers() {
		if i-1 < len(layerNames) {
			names = append(names, layerNames[i-1])
		}
	}
	return names
}
