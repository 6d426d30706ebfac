package container

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	app "pathoflow/internal/application"
	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// Ports реализации портов из infrastructure
type Ports struct {
	Runs     port.RunRepository
	Engines  port.EngineFactory
	Opener   port.PyramidOpener
	Ops      port.ImageOps
	Codecs   map[entity.ArtifactKind]port.ArtifactCodec
	Notifier port.Notifier
}

// Options каталоги и параметры запуска
type Options struct {
	ModelsDir    string
	PipelinesDir string
	LibraryDir   string
	ProjectDir   string
	Backends     []entity.BackendDescriptor
	Advanced     bool
	Workers      int
}

// Container сервисы приложения, собранные из портов
type Container struct {
	Catalog    *app.ModelCatalog
	Pipelines  *app.PipelineCatalog
	Registry   *app.BackendRegistry
	Project    *app.Project
	Results    *app.ResultStore
	Dispatcher *app.Dispatcher
	Runs       port.RunRepository
	Logger     *slog.Logger

	closers []func() error
}

// New сканирует каталоги моделей и конвейеров и собирает диспетчер
func New(opts Options, ports Ports, logger *slog.Logger) (*Container, error) {
	catalog := app.NewModelCatalog(opts.ModelsDir, logger)
	if err := catalog.Scan(); err != nil {
		return nil, fmt.Errorf("failed to scan models: %w", err)
	}
	pipelines := app.NewPipelineCatalog(opts.PipelinesDir, logger)
	if err := pipelines.Scan(); err != nil {
		return nil, fmt.Errorf("failed to scan pipelines: %w", err)
	}

	project, err := app.NewProject(opts.ProjectDir, ports.Opener, ports.Ops, logger)
	if err != nil {
		return nil, err
	}

	registry := app.NewBackendRegistry(opts.LibraryDir, runtime.GOOS, opts.Backends, logger)
	tissue := app.NewTissueSegmentation(ports.Ops, logger)
	builder := app.NewGraphBuilder(catalog, ports.Engines, ports.Ops, tissue, logger)
	results := app.NewResultStore(project.ResultsDir(), ports.Codecs, logger)

	dispatcher := app.NewDispatcher(app.DispatcherDeps{
		Catalog:  catalog,
		Registry: registry,
		Builder:  builder,
		Tissue:   tissue,
		Project:  project,
		Results:  results,
		Runs:     ports.Runs,
		Notifier: ports.Notifier,
		Logger:   logger,
		Advanced: opts.Advanced,
		Workers:  opts.Workers,
	})

	return &Container{
		Catalog:    catalog,
		Pipelines:  pipelines,
		Registry:   registry,
		Project:    project,
		Results:    results,
		Dispatcher: dispatcher,
		Runs:       ports.Runs,
		Logger:     logger,
		closers:    []func() error{project.Close},
	}, nil
}

// OnClose добавляет ресурс, закрываемый вместе с контейнером
func (c *Container) OnClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close закрывает ресурсы в обратном порядке
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}
