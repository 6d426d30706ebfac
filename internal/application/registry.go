package app

import (
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"pathoflow/internal/domain/entity"
)

// BackendRegistry набор установленных движков инференса.
// Набор вычисляется один раз при первом обращении.
type BackendRegistry struct {
	libraryDir string
	kernel     string
	declared   []entity.BackendDescriptor
	logger     *slog.Logger

	once     sync.Once
	backends []entity.BackendDescriptor
}

// NewBackendRegistry declared берётся из файла описания движков; найденные в libraryDir
// плагины добавляются к нему, если их там нет.
func NewBackendRegistry(libraryDir, kernel string, declared []entity.BackendDescriptor, logger *slog.Logger) *BackendRegistry {
	return &BackendRegistry{
		libraryDir: libraryDir,
		kernel:     kernel,
		declared:   declared,
		logger:     logger,
	}
}

// Backends установленные движки; порядок: объявленные, затем найденные сканированием
func (r *BackendRegistry) Backends() []entity.BackendDescriptor {
	r.once.Do(func() {
		r.backends = r.discover()
		names := make([]string, 0, len(r.backends))
		for _, b := range r.backends {
			names = append(names, string(b.Name))
		}
		r.logger.Info("inference backends discovered", "backends", names)
	})
	return r.backends
}

// Names имена установленных движков
func (r *BackendRegistry) Names() []entity.BackendName {
	var out []entity.BackendName
	for _, b := range r.Backends() {
		out = append(out, b.Name)
	}
	return out
}

func (r *BackendRegistry) discover() []entity.BackendDescriptor {
	var out []entity.BackendDescriptor
	for _, d := range r.declared {
		if !d.Available {
			continue
		}
		out = append(out, d)
	}

	for _, name := range ScanPlugins(r.libraryDir, r.kernel, r.logger) {
		if slices.ContainsFunc(out, func(d entity.BackendDescriptor) bool { return d.Name == name }) {
			continue
		}
		d, ok := entity.KnownCapabilities[name]
		if !ok {
			r.logger.Warn("plugin has no known capabilities, ignoring", "backend", name)
			continue
		}
		d.Available = true
		out = append(out, d)
	}
	return out
}

// pluginPattern префикс и суффикс имени файла плагина для ядра ОС
type pluginPattern struct {
	prefix string
	suffix string
}

var pluginPatterns = map[string]pluginPattern{
	"linux":   {prefix: "libInferenceEngine", suffix: ".so"},
	"windows": {prefix: "InferenceEngine", suffix: ".dll"},
}

// ScanPlugins ищет в dir файлы плагинов движков (libInferenceEngine<Name>.so,
// InferenceEngine<Name>.dll). Для прочих ядер возвращает пустой набор.
func ScanPlugins(dir, kernel string, logger *slog.Logger) []entity.BackendName {
	pattern, ok := pluginPatterns[kernel]
	if !ok {
		logger.Warn("plugin discovery is not supported on this kernel", "kernel", kernel)
		return nil
	}
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("failed to read library directory", "dir", dir, "err", err)
		return nil
	}

	var names []entity.BackendName
	for _, e := range entries {
		file := e.Name()
		if e.IsDir() || !strings.HasPrefix(file, pattern.prefix) {
			continue
		}
		idx := strings.Index(file, pattern.suffix)
		if idx < 0 {
			continue
		}
		name := file[len(pattern.prefix):idx]
		if name == "" {
			continue
		}
		if !slices.Contains(names, entity.BackendName(name)) {
			names = append(names, entity.BackendName(name))
		}
	}
	slices.Sort(names)
	return names
}
