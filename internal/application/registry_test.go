package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func TestScanPlugins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "libInferenceEngineOpenVINO.so"), "")
	writeFile(t, filepath.Join(dir, "libInferenceEngineTensorRT.so.8"), "")
	writeFile(t, filepath.Join(dir, "libInferenceEngine.so"), "")
	writeFile(t, filepath.Join(dir, "libopencv_core.so"), "")
	writeFile(t, filepath.Join(dir, "InferenceEngineTensorFlow.dll"), "")

	names := ScanPlugins(dir, "linux", discardLogger())
	require.Equal(t, []entity.BackendName{entity.BackendOpenVINO, entity.BackendTensorRT}, names)

	names = ScanPlugins(dir, "windows", discardLogger())
	require.Equal(t, []entity.BackendName{entity.BackendTensorFlow}, names)
}

func TestScanPlugins_UnknownKernel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "libInferenceEngineOpenVINO.so"), "")
	require.Empty(t, ScanPlugins(dir, "plan9", discardLogger()))
}

func TestBackendRegistry_DeclaredAndScanned(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "libInferenceEngineOpenVINO.so"), "")
	writeFile(t, filepath.Join(dir, "libInferenceEngineTensorFlow.so"), "")
	writeFile(t, filepath.Join(dir, "libInferenceEngineCustom.so"), "")

	declared := []entity.BackendDescriptor{
		{Name: entity.BackendOpenVINO, Devices: []entity.Device{entity.DeviceCPU}, Formats: []entity.Format{entity.FormatXML}, Available: true},
		{Name: entity.BackendTensorRT, Formats: []entity.Format{entity.FormatONNX}, Available: false},
	}
	r := NewBackendRegistry(dir, "linux", declared, discardLogger())

	backends := r.Backends()
	require.Len(t, backends, 2)
	require.Equal(t, declared[0], backends[0])
	require.Equal(t, entity.BackendTensorFlow, backends[1].Name)
	require.True(t, backends[1].Available)
	require.Equal(t, []entity.BackendName{entity.BackendOpenVINO, entity.BackendTensorFlow}, r.Names())
}

func TestBackendRegistry_Lazy(t *testing.T) {
	dir := t.TempDir()
	r := NewBackendRegistry(dir, "linux", nil, discardLogger())
	writeFile(t, filepath.Join(dir, "libInferenceEngineOpenVINO.so"), "")
	require.Len(t, r.Backends(), 1)

	writeFile(t, filepath.Join(dir, "libInferenceEngineTensorFlow.so"), "")
	require.Len(t, r.Backends(), 1)
}
