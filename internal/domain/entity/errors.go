package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration отсутствующее или некорректное поле метаданных модели
	ErrConfiguration = errors.New("configuration error")
	// ErrBackendUnavailable модель есть, но нет подходящего движка
	ErrBackendUnavailable = errors.New("no usable inference backend")
	// ErrResolutionPlanning вычисленный уровень пирамиды вне диапазона
	ErrResolutionPlanning = errors.New("invalid pyramid level")
	// ErrArtifactIO файл-компаньон (anchors, attributes.txt) отсутствует или не читается
	ErrArtifactIO = errors.New("artifact io error")
	ErrUnknownProcess   = errors.New("unknown process")
	ErrUnknownSlide     = errors.New("unknown slide")
	ErrCodecUnavailable = errors.New("artifact codec is not available in this build")
)

// Stage этап обработки, на котором произошла ошибка
type Stage string

const (
	StageMetadata   Stage = "metadata"
	StageBackend    Stage = "backend"
	StagePlanning   Stage = "planning"
	StageGraph      Stage = "graph"
	StageLoad       Stage = "load"
	StageInference  Stage = "inference"
	StageTissue     Stage = "tissue"
	StageAttachment Stage = "attach"
)

// StageError ошибка одного запуска с указанием слайда, модели и этапа
type StageError struct {
	Slide string
	Model string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("slide %q model %q stage %s: %v", e.Slide, e.Model, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Configf оборачивает ErrConfiguration с пояснением
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
