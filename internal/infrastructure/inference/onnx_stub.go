//go:build !onnxruntime
// +build !onnxruntime

package inference

import (
	"fmt"
	"log/slog"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// newONNXEngine возвращает ошибку, если сборка без тега onnxruntime.
func newONNXEngine(sel entity.Selection, _ string, _ *slog.Logger) (port.InferenceEngine, error) {
	return nil, fmt.Errorf("%w: %s requires the onnxruntime build tag", entity.ErrBackendUnavailable, sel.Backend)
}
