package port

import "pathoflow/internal/domain/entity"

// ArtifactCodec запись и чтение результата одного типа
type ArtifactCodec interface {
	Write(path string, a *entity.Artifact) error
	Read(path string) (*entity.Artifact, error)
}
