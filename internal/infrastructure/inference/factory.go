// Package inference движки выполнения сетей: OpenCV DNN (OpenVINO, TensorFlow)
// и ONNX Runtime (TensorRT, ONNXRuntime). Нативные библиотеки подключаются тегами сборки
// gocv и onnxruntime; без тегов движки возвращают ErrBackendUnavailable.
package inference

import (
	"fmt"
	"log/slog"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// Factory создаёт движок по выбранной паре движок+формат
type Factory struct {
	onnxLibrary string
	logger      *slog.Logger
}

// NewFactory onnxLibrary путь к libonnxruntime, пустой: поиск по умолчанию
func NewFactory(onnxLibrary string, logger *slog.Logger) *Factory {
	return &Factory{onnxLibrary: onnxLibrary, logger: logger}
}

func (f *Factory) New(sel entity.Selection) (port.InferenceEngine, error) {
	switch sel.Backend {
	case entity.BackendOpenVINO, entity.BackendTensorFlow:
		return newOpenCVEngine(sel, f.logger)
	case entity.BackendTensorRT, entity.BackendONNXRuntime:
		return newONNXEngine(sel, f.onnxLibrary, f.logger)
	}
	return nil, fmt.Errorf("%w: no engine for %s", entity.ErrBackendUnavailable, sel.Backend)
}

var _ port.EngineFactory = (*Factory)(nil)
