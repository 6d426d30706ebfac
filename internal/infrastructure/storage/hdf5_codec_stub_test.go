//go:build !hdf5

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
)

func TestHDF5Codec_Unavailable(t *testing.T) {
	c := NewHDF5Codec()
	path := filepath.Join(t.TempDir(), "heatmap.hdf5")
	require.False(t, HDF5Available)
	require.ErrorIs(t, c.Write(path, &entity.Artifact{Tensor: entity.NewTensor(1)}), entity.ErrCodecUnavailable)
	_, err := c.Read(path)
	require.ErrorIs(t, err, entity.ErrCodecUnavailable)
}
