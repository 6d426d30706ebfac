//go:build !gocv
// +build !gocv

package inference

import (
	"fmt"
	"log/slog"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// newOpenCVEngine возвращает ошибку, если сборка без тега gocv.
func newOpenCVEngine(sel entity.Selection, _ *slog.Logger) (port.InferenceEngine, error) {
	return nil, fmt.Errorf("%w: %s requires the gocv build tag", entity.ErrBackendUnavailable, sel.Backend)
}
