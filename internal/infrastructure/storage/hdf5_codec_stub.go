//go:build !hdf5
// +build !hdf5

package storage

import (
	"fmt"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// HDF5Available сборка без libhdf5
const HDF5Available = false

// HDF5Codec заглушка без тега hdf5
type HDF5Codec struct{}

// NewHDF5Codec создаёт кодек-заглушку
func NewHDF5Codec() *HDF5Codec {
	return &HDF5Codec{}
}

// Write возвращает ErrCodecUnavailable, если сборка без тега hdf5.
func (c *HDF5Codec) Write(path string, a *entity.Artifact) error {
	return fmt.Errorf("%w: hdf5 build tag is not enabled", entity.ErrCodecUnavailable)
}

// Read возвращает ErrCodecUnavailable, если сборка без тега hdf5.
func (c *HDF5Codec) Read(path string) (*entity.Artifact, error) {
	return nil, fmt.Errorf("%w: hdf5 build tag is not enabled", entity.ErrCodecUnavailable)
}

var _ port.ArtifactCodec = (*HDF5Codec)(nil)
