package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func installed(names ...entity.BackendName) []entity.BackendDescriptor {
	out := make([]entity.BackendDescriptor, 0, len(names))
	for _, n := range names {
		d := entity.KnownCapabilities[n]
		d.Available = true
		out = append(out, d)
	}
	return out
}

func TestSelectBackend_OpenVINOXML(t *testing.T) {
	sel, err := SelectBackend([]entity.Format{entity.FormatXML}, installed(entity.BackendOpenVINO), SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, entity.BackendOpenVINO, sel.Backend)
	require.Equal(t, entity.FormatXML, sel.Format)
}

func TestSelectBackend_NotFound(t *testing.T) {
	_, err := SelectBackend([]entity.Format{entity.FormatPB}, installed(entity.BackendOpenVINO), SelectOptions{})
	require.ErrorIs(t, err, entity.ErrBackendUnavailable)
}

func TestSelectBackend_PreferenceOrder(t *testing.T) {
	formats := []entity.Format{entity.FormatPB, entity.FormatXML, entity.FormatONNX, entity.FormatUFF}
	all := installed(entity.BackendTensorFlow, entity.BackendONNXRuntime, entity.BackendOpenVINO, entity.BackendTensorRT)

	sel, err := SelectBackend(formats, all, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, entity.Selection{Backend: entity.BackendTensorRT, Format: entity.FormatONNX, Device: entity.DeviceGPU}, sel)

	sel, err = SelectBackend([]entity.Format{entity.FormatUFF, entity.FormatXML}, all, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, entity.BackendTensorRT, sel.Backend)
	require.Equal(t, entity.FormatUFF, sel.Format)

	sel, err = SelectBackend([]entity.Format{entity.FormatONNX}, installed(entity.BackendONNXRuntime, entity.BackendOpenVINO), SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, entity.BackendOpenVINO, sel.Backend)
}

func TestSelectBackend_Deterministic(t *testing.T) {
	formats := []entity.Format{entity.FormatONNX, entity.FormatPB}
	all := installed(entity.BackendTensorFlow, entity.BackendOpenVINO)
	first, err := SelectBackend(formats, all, SelectOptions{})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		sel, err := SelectBackend(formats, all, SelectOptions{})
		require.NoError(t, err)
		require.Equal(t, first, sel)
	}
}

func TestSelectBackend_CPUOnly(t *testing.T) {
	formats := []entity.Format{entity.FormatONNX}

	sel, err := SelectBackend(formats, installed(entity.BackendTensorRT, entity.BackendOpenVINO), SelectOptions{CPUOnly: true})
	require.NoError(t, err)
	require.Equal(t, entity.BackendOpenVINO, sel.Backend)
	require.Equal(t, entity.DeviceCPU, sel.Device)

	_, err = SelectBackend(formats, installed(entity.BackendTensorRT), SelectOptions{CPUOnly: true})
	require.ErrorIs(t, err, entity.ErrBackendUnavailable)
}

func TestSelectBackend_Preferred(t *testing.T) {
	formats := []entity.Format{entity.FormatONNX, entity.FormatPB}
	all := installed(entity.BackendTensorRT, entity.BackendTensorFlow)

	sel, err := SelectBackend(formats, all, SelectOptions{Preferred: entity.BackendTensorFlow})
	require.NoError(t, err)
	require.Equal(t, entity.BackendTensorFlow, sel.Backend)
	require.Equal(t, entity.FormatPB, sel.Format)

	_, err = SelectBackend(formats, all, SelectOptions{Preferred: entity.BackendOpenVINO})
	require.ErrorIs(t, err, entity.ErrBackendUnavailable)
}

func TestSelectBackend_DeclaredFormatsRestrict(t *testing.T) {
	ov := entity.BackendDescriptor{
		Name:      entity.BackendOpenVINO,
		Devices:   []entity.Device{entity.DeviceCPU},
		Formats:   []entity.Format{entity.FormatXML},
		Available: true,
	}
	sel, err := SelectBackend([]entity.Format{entity.FormatONNX, entity.FormatXML}, []entity.BackendDescriptor{ov}, SelectOptions{})
	require.NoError(t, err)
	require.Equal(t, entity.FormatXML, sel.Format)
	require.Equal(t, entity.DeviceCPU, sel.Device)
}
