package storage

import (
	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// Codecs кодеки результатов, доступные в этой сборке.
// Без libhdf5 тензоры не сохраняются.
func Codecs() map[entity.ArtifactKind]port.ArtifactCodec {
	codecs := map[entity.ArtifactKind]port.ArtifactCodec{
		entity.ArtifactPyramid: NewTIFFCodec(),
		entity.ArtifactImage:   NewMetaImageCodec(),
	}
	if HDF5Available {
		codecs[entity.ArtifactTensor] = NewHDF5Codec()
	}
	return codecs
}
