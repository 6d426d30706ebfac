//go:build !gocv && !onnxruntime

package inference

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func TestFactory_New(t *testing.T) {
	f := NewFactory("", slog.New(slog.DiscardHandler))
	for _, sel := range []entity.Selection{
		{Backend: entity.BackendOpenVINO, Format: entity.FormatONNX},
		{Backend: entity.BackendTensorFlow, Format: entity.FormatPB},
		{Backend: entity.BackendTensorRT, Format: entity.FormatUFF},
		{Backend: entity.BackendONNXRuntime, Format: entity.FormatONNX},
		{Backend: "Caffe", Format: "prototxt"},
	} {
		_, err := f.New(sel)
		require.ErrorIs(t, err, entity.ErrBackendUnavailable, sel.Backend)
	}
}
