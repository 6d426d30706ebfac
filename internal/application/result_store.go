package app

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

const attributesFile = "attributes.txt"

// рендерер, восстанавливаемый для результата по типу файла
var restoredRenderer = map[entity.ArtifactKind]entity.RendererKind{
	entity.ArtifactPyramid: entity.RendererSegmentation,
	entity.ArtifactImage:   entity.RendererSegmentation,
	entity.ArtifactTensor:  entity.RendererHeatmap,
}

// ResultStore хранит результаты в results/<slide>/<pipeline>/<artifact>/
type ResultStore struct {
	root   string
	codecs map[entity.ArtifactKind]port.ArtifactCodec
	logger *slog.Logger
}

// NewResultStore root каталог results проекта
func NewResultStore(root string, codecs map[entity.ArtifactKind]port.ArtifactCodec, logger *slog.Logger) *ResultStore {
	return &ResultStore{root: root, codecs: codecs, logger: logger}
}

// Root каталог результатов
func (s *ResultStore) Root() string {
	return s.root
}

// ArtifactDir каталог результата
func (s *ResultStore) ArtifactDir(slideID, pipelineID, name string) string {
	return filepath.Join(s.root, slideID, pipelineID, name)
}

// Save записывает результаты и атрибуты рендереров.
// Результаты без формата файла (рамки детектора) пропускаются. Если ни один результат
// не записан из-за отсутствующих в сборке кодеков, возвращается ErrCodecUnavailable.
func (s *ResultStore) Save(slideID, pipelineID string, artifacts map[string]*entity.Artifact, renderers []*entity.Renderer) error {
	var attrs strings.Builder
	for _, r := range renderers {
		if r.Kind == entity.RendererImagePyramid {
			continue
		}
		attrs.WriteString(r.FormatAttributes())
	}

	var written int
	var noCodec []string
	for _, name := range slices.Sorted(maps.Keys(artifacts)) {
		a := artifacts[name]
		ext := a.Kind.Extension()
		codec, ok := s.codecs[a.Kind]
		if ext == "" || !ok {
			s.logger.Warn("unsupported data to export", "slide", slideID, "pipeline", pipelineID, "artifact", name, "kind", a.Kind)
			if ext != "" {
				noCodec = append(noCodec, name)
			}
			continue
		}
		dir := s.ArtifactDir(slideID, pipelineID, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
		}
		if err := codec.Write(filepath.Join(dir, name+ext), a); err != nil {
			return fmt.Errorf("%w: write %s: %v", entity.ErrArtifactIO, name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, attributesFile), []byte(attrs.String()), 0o644); err != nil {
			return fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
		}
		s.logger.Info("artifact saved", "slide", slideID, "pipeline", pipelineID, "artifact", name)
		written++
	}
	if written == 0 && len(noCodec) > 0 {
		return fmt.Errorf("%w: nothing written for %s/%s, no codec for %s", entity.ErrCodecUnavailable, slideID, pipelineID, strings.Join(noCodec, ", "))
	}
	return nil
}

// Load восстанавливает результаты слайда и подключает рендереры к view.
// Отсутствующий или испорченный attributes.txt: ошибка для этого результата.
func (s *ResultStore) Load(slideID string, view port.View) ([]*entity.Renderer, error) {
	slideDir := filepath.Join(s.root, slideID)
	pipelines, err := os.ReadDir(slideDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
	}

	var restored []*entity.Renderer
	for _, p := range pipelines {
		if !p.IsDir() {
			continue
		}
		artifacts, err := os.ReadDir(filepath.Join(slideDir, p.Name()))
		if err != nil {
			return restored, fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
		}
		for _, a := range artifacts {
			if !a.IsDir() {
				continue
			}
			rs, err := s.loadArtifact(filepath.Join(slideDir, p.Name(), a.Name()), p.Name())
			if err != nil {
				return restored, err
			}
			for _, r := range rs {
				view.AddRenderer(r)
			}
			restored = append(restored, rs...)
		}
	}
	return restored, nil
}

func (s *ResultStore) loadArtifact(dir, pipelineID string) ([]*entity.Renderer, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
	}
	var out []*entity.Renderer
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		kind, ok := entity.KindFromExtension(filepath.Ext(f.Name()))
		if !ok {
			continue
		}
		codec, ok := s.codecs[kind]
		if !ok {
			return nil, fmt.Errorf("%w: no reader for %s", entity.ErrArtifactIO, f.Name())
		}
		artifact, err := codec.Read(filepath.Join(dir, f.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", entity.ErrArtifactIO, f.Name(), err)
		}
		r := entity.NewRenderer(restoredRenderer[kind], pipelineID)
		if err := ReplayAttributes(filepath.Join(dir, attributesFile), r); err != nil {
			return nil, err
		}
		r.SetInput(artifact)
		out = append(out, r)
	}
	return out, nil
}

// ReplayAttributes применяет строки "Attribute <name> <value>" к рендереру.
// Первая строка без маркера Attribute завершает чтение.
func ReplayAttributes(path string, r *entity.Renderer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		attr, ok, err := entity.ParseAttributeLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("%w: %s: %v", entity.ErrArtifactIO, path, err)
		}
		if !ok {
			break
		}
		if err := r.SetAttribute(attr.Name, attr.Value); err != nil {
			return fmt.Errorf("%w: %s: %v", entity.ErrArtifactIO, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
	}
	return nil
}
