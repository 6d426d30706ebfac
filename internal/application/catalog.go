package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"pathoflow/internal/domain/entity"
)

// файлы каталога модели, которые не являются весами
var nonWeightExtensions = map[string]bool{
	"txt":     true,
	"anchors": true,
	"bin":     true, // веса OpenVINO IR рядом с .xml
}

// ModelCatalog модели из каталога models/<name>/
type ModelCatalog struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	models map[string]*entity.Model
}

// NewModelCatalog создаёт пустой каталог; модели загружаются через Scan
func NewModelCatalog(dir string, logger *slog.Logger) *ModelCatalog {
	return &ModelCatalog{
		dir:    dir,
		logger: logger,
		models: make(map[string]*entity.Model),
	}
}

// Dir каталог моделей
func (c *ModelCatalog) Dir() string {
	return c.dir
}

// Scan перечитывает все модели каталога
func (c *ModelCatalog) Scan() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("models directory does not exist", "dir", c.dir)
		c.mu.Lock()
		c.models = make(map[string]*entity.Model)
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to scan models: %w", err)
	}

	models := make(map[string]*entity.Model)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		m, err := loadModel(c.dir, e.Name())
		if err != nil {
			c.logger.Warn("skipping model", "model", e.Name(), "err", err)
			continue
		}
		models[m.Name] = m
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	c.logger.Info("models loaded", "dir", c.dir, "count", len(models))
	return nil
}

// Import добавляет модель, появившуюся после Scan. Уже известная модель не перечитывается.
func (c *ModelCatalog) Import(name string) (*entity.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	m, err := loadModel(c.dir, name)
	if err != nil {
		return nil, err
	}
	c.models[name] = m
	c.logger.Info("model imported", "model", name, "formats", m.Formats)
	return m, nil
}

// Get возвращает модель по имени каталога
func (c *ModelCatalog) Get(name string) (*entity.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// Names имена моделей по алфавиту
func (c *ModelCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.models))
}

// Config разбирает метаданные модели; overrides применяются поверх файла
func (c *ModelCatalog) Config(name string, overrides map[string]string) (*entity.ModelConfig, error) {
	m, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: model %q", entity.ErrUnknownProcess, name)
	}
	raw := maps.Clone(m.Raw)
	if raw == nil {
		raw = make(map[string]string)
	}
	maps.Copy(raw, overrides)
	return entity.ParseModelConfig(m.Name, raw)
}

// Anchors читает models/<name>/<name>.anchors
func (c *ModelCatalog) Anchors(name string) (entity.Anchors, error) {
	path := filepath.Join(c.dir, name, name+".anchors")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrArtifactIO, err)
	}
	anchors, err := entity.ParseAnchors(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return anchors, nil
}

func loadModel(root, name string) (*entity.Model, error) {
	dir := filepath.Join(root, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory: %w", err)
	}

	m := &entity.Model{Name: name, Dir: dir}
	prefix := name + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		ext := strings.TrimPrefix(e.Name(), prefix)
		if nonWeightExtensions[strings.ToLower(ext)] {
			continue
		}
		f := entity.ParseFormat(ext)
		if !slices.Contains(m.Formats, f) {
			m.Formats = append(m.Formats, f)
		}
	}
	slices.Sort(m.Formats)

	data, err := os.ReadFile(filepath.Join(dir, name+".txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}
	m.Raw = entity.ParseKeyValues(string(data))
	return m, nil
}

// Pipeline описание конвейера из файла .fpl
type Pipeline struct {
	ID          string
	Path        string
	Name        string
	Description string
}

// PipelineCatalog конвейеры из каталога Pipelines
type PipelineCatalog struct {
	dir    string
	logger *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

func NewPipelineCatalog(dir string, logger *slog.Logger) *PipelineCatalog {
	return &PipelineCatalog{dir: dir, logger: logger, pipelines: make(map[string]Pipeline)}
}

// Scan перечитывает файлы *.fpl и *.FPL
func (c *PipelineCatalog) Scan() error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("pipelines directory does not exist", "dir", c.dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to scan pipelines: %w", err)
	}

	pipelines := make(map[string]Pipeline)
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || strings.ToLower(ext) != ".fpl" {
			continue
		}
		id, _, _ := strings.Cut(e.Name(), ".")
		p := Pipeline{ID: id, Path: filepath.Join(c.dir, e.Name()), Name: id}
		if data, err := os.ReadFile(p.Path); err == nil {
			p.Name, p.Description = pipelineHeader(string(data), id)
		}
		pipelines[id] = p
	}

	c.mu.Lock()
	c.pipelines = pipelines
	c.mu.Unlock()
	return nil
}

// List конвейеры по идентификатору
func (c *PipelineCatalog) List() []Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(c.pipelines))
	out := make([]Pipeline, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.pipelines[id])
	}
	return out
}

func (c *PipelineCatalog) Get(id string) (Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pipelines[id]
	return p, ok
}

func pipelineHeader(text, fallback string) (name, description string) {
	name = fallback
	for _, line := range strings.Split(text, "\n") {
		key, value, _ := strings.Cut(strings.TrimSpace(line), " ")
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "PipelineName":
			name = value
		case "PipelineDescription":
			description = value
		}
	}
	return name, description
}
