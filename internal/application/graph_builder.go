package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// GraphBuilder собирает граф обработки по метаданным модели и выбранному движку
type GraphBuilder struct {
	catalog *ModelCatalog
	engines port.EngineFactory
	ops     port.ImageOps
	tissue  *TissueSegmentation
	logger  *slog.Logger
}

func NewGraphBuilder(catalog *ModelCatalog, engines port.EngineFactory, ops port.ImageOps, tissue *TissueSegmentation, logger *slog.Logger) *GraphBuilder {
	return &GraphBuilder{
		catalog: catalog,
		engines: engines,
		ops:     ops,
		tissue:  tissue,
		logger:  logger,
	}
}

// BuildRequest входные данные сборки графа
type BuildRequest struct {
	Slide     *entity.Slide
	Pyramid   port.Pyramid
	Model     *entity.Model
	Config    *entity.ModelConfig
	Selection entity.Selection
}

// Build собирает граф и загружает сеть. Ошибки возвращаются как *entity.StageError.
func (b *GraphBuilder) Build(ctx context.Context, req BuildRequest) (*Graph, error) {
	cfg := req.Config
	fail := func(stage entity.Stage, err error) error {
		return &entity.StageError{Slide: req.Slide.ID, Model: req.Model.Name, Stage: stage, Err: err}
	}

	strategy, ok := strategies[cfg.Variant()]
	if !ok {
		return nil, fail(entity.StageGraph, entity.Configf("no processing graph for %s", cfg.Variant()))
	}

	level, err := PlanLevel(req.Slide, cfg)
	if err != nil {
		return nil, fail(entity.StagePlanning, err)
	}

	var anchors entity.Anchors
	if cfg.Problem == entity.ProblemObjectDetection {
		if anchors, err = b.catalog.Anchors(req.Model.Name); err != nil {
			return nil, fail(entity.StageGraph, err)
		}
	}

	spec := entity.GraphSpec{
		Model:     req.Model.Name,
		Variant:   cfg.Variant(),
		Selection: req.Selection,
		Level:     level,
		Resize:    !strategy.patches(),
		Binding:   BindNodes(cfg, req.Selection),
		Mask:      entity.MaskNone,
	}
	env := &graphEnv{
		slide:   req.Slide,
		pyramid: req.Pyramid,
		cfg:     cfg,
		ops:     b.ops,
		level:   level,
		anchors: anchors,
		mask:    func(context.Context) (*maskFilter, error) { return nil, nil },
		logger:  b.logger,
	}
	if strategy.patches() {
		spec.Mask, env.mask = b.maskStage(req.Slide, req.Pyramid, cfg)
	}
	switch spec.Mask {
	case entity.MaskTissue:
		spec.Nodes = append(spec.Nodes, entity.NodeTissueMask)
	case entity.MaskExisting:
		spec.Nodes = append(spec.Nodes, entity.NodeExistingMask)
	}
	spec.Nodes = append(spec.Nodes, strategy.nodes()...)

	engine, err := b.engines.New(req.Selection)
	if err != nil {
		return nil, fail(entity.StageLoad, err)
	}
	if err := engine.Load(ctx, req.Model.WeightsPath(req.Selection.Format), spec.Binding); err != nil {
		_ = engine.Close()
		stage := entity.StageLoad
		if errors.Is(err, entity.ErrConfiguration) {
			stage = entity.StageGraph
		}
		return nil, fail(stage, err)
	}
	env.engine = engine

	b.logger.Info("graph built",
		"slide", req.Slide.ID,
		"model", req.Model.Name,
		"variant", spec.Variant.String(),
		"backend", req.Selection.Backend,
		"format", req.Selection.Format,
		"level", level,
		"nodes", slices.Clone(spec.Nodes),
	)
	return &Graph{
		Spec:     spec,
		Renderer: strategy.renderer(cfg),
		output:   strategy.output(),
		engine:   engine,
		strategy: strategy,
		env:      env,
	}, nil
}

// maskStage выбирает источник маски ткани для генератора патчей
func (b *GraphBuilder) maskStage(slide *entity.Slide, pyr port.Pyramid, cfg *entity.ModelConfig) (entity.MaskSource, func(context.Context) (*maskFilter, error)) {
	switch cfg.TissueMode {
	case entity.TissueThreshold:
		return entity.MaskTissue, func(ctx context.Context) (*maskFilter, error) {
			mask, err := b.tissue.Mask(ctx, pyr, cfg.TissueThreshold)
			if err != nil {
				return nil, err
			}
			return &maskFilter{mask: mask.Labels, spacing: mask.Spacing, threshold: cfg.MaskThreshold}, nil
		}
	case entity.TissueExisting:
		r, ok := slide.Renderer(TissueProcess)
		if !ok || r.Input() == nil || r.Input().Labels == nil {
			return entity.MaskNone, func(context.Context) (*maskFilter, error) { return nil, nil }
		}
		mask := r.Input()
		return entity.MaskExisting, func(context.Context) (*maskFilter, error) {
			return &maskFilter{mask: mask.Labels, spacing: mask.Spacing, threshold: cfg.MaskThreshold}, nil
		}
	default:
		return entity.MaskNone, func(context.Context) (*maskFilter, error) { return nil, nil }
	}
}
