//go:build hdf5
// +build hdf5

package storage

import (
	"fmt"

	"gonum.org/v1/hdf5"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

const tensorDataset = "tensor"

// HDF5Available сборка с libhdf5
const HDF5Available = true

// HDF5Codec тензорный результат (тепловая карта) в датасете "tensor"
type HDF5Codec struct{}

// NewHDF5Codec создаёт кодек
func NewHDF5Codec() *HDF5Codec {
	return &HDF5Codec{}
}

// Write сохраняет тензор float32 с его формой
func (c *HDF5Codec) Write(path string, a *entity.Artifact) error {
	if a.Tensor == nil {
		return fmt.Errorf("artifact has no tensor")
	}
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	dims := make([]uint, len(a.Tensor.Shape))
	for i, d := range a.Tensor.Shape {
		dims[i] = uint(d)
	}
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace: %w", err)
	}
	defer space.Close()

	dset, err := f.CreateDataset(tensorDataset, hdf5.T_NATIVE_FLOAT, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	defer dset.Close()

	if err := dset.Write(&a.Tensor.Data); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return nil
}

// Read читает тензор
func (c *HDF5Codec) Read(path string) (*entity.Artifact, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dset, err := f.OpenDataset(tensorDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset shape: %w", err)
	}

	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	t := entity.NewTensor(shape...)
	if err := dset.Read(&t.Data); err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return &entity.Artifact{Kind: entity.ArtifactTensor, Tensor: t}, nil
}

var _ port.ArtifactCodec = (*HDF5Codec)(nil)
