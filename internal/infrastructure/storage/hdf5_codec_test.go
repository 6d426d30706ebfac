//go:build hdf5

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func TestHDF5Codec(t *testing.T) {
	c := NewHDF5Codec()
	path := filepath.Join(t.TempDir(), "heatmap.hdf5")
	tensor := &entity.Tensor{Shape: []int64{2, 1, 2}, Data: []float32{0.1, 0.9, 0.7, 0.3}}

	require.NoError(t, c.Write(path, &entity.Artifact{Kind: entity.ArtifactTensor, Tensor: tensor}))
	a, err := c.Read(path)
	require.NoError(t, err)
	require.Equal(t, entity.ArtifactTensor, a.Kind)
	require.Equal(t, tensor.Shape, a.Tensor.Shape)
	require.Equal(t, tensor.Data, a.Tensor.Data)
}
