package app

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// Имена результатов графа
const (
	ArtifactHeatmap      = "heatmap"
	ArtifactSegmentation = "segmentation"
	ArtifactBoxes        = "boxes"
)

const (
	heatmapMaxOpacity    = 0.6
	segmentationOpacity  = 0.7
	segmentationBorder   = 1.0
	lowResolutionOpacity = 0.4
	lowResolutionBorder  = 1.0
)

// Graph собранный граф обработки одного запуска
type Graph struct {
	Spec     entity.GraphSpec
	Renderer *entity.Renderer

	output   string
	engine   port.InferenceEngine
	strategy graphStrategy
	env      *graphEnv
}

// Run выполняет граф и подключает основной результат к рендереру.
// Отмена ctx проверяется между патчами.
func (g *Graph) Run(ctx context.Context) (map[string]*entity.Artifact, error) {
	artifacts, err := g.strategy.run(ctx, g.env)
	if err != nil {
		return nil, err
	}
	main, ok := artifacts[g.output]
	if !ok {
		return nil, fmt.Errorf("graph produced no %q artifact", g.output)
	}
	g.Renderer.SetInput(main)
	return artifacts, nil
}

// Close освобождает сеть
func (g *Graph) Close() error {
	if g.engine == nil {
		return nil
	}
	return g.engine.Close()
}

// graphEnv всё, что нужно стратегии во время выполнения
type graphEnv struct {
	slide   *entity.Slide
	pyramid port.Pyramid
	cfg     *entity.ModelConfig
	engine  port.InferenceEngine
	ops     port.ImageOps
	level   int
	anchors entity.Anchors
	mask    func(ctx context.Context) (*maskFilter, error)
	logger  *slog.Logger
}

// graphStrategy способ сборки графа для пары (задача, разрешение)
type graphStrategy interface {
	patches() bool
	nodes() []string
	output() string
	renderer(cfg *entity.ModelConfig) *entity.Renderer
	run(ctx context.Context, env *graphEnv) (map[string]*entity.Artifact, error)
}

var strategies = map[entity.Variant]graphStrategy{
	{Problem: entity.ProblemClassification, Resolution: entity.ResolutionHigh}:  classificationHigh{},
	{Problem: entity.ProblemSegmentation, Resolution: entity.ResolutionHigh}:    segmentationHigh{},
	{Problem: entity.ProblemObjectDetection, Resolution: entity.ResolutionHigh}: detectionHigh{},
	{Problem: entity.ProblemSegmentation, Resolution: entity.ResolutionLow}:     segmentationLow{},
}

func applyColors(r *entity.Renderer, colors []entity.Color) {
	for i, c := range colors {
		r.SetColor(i, c)
	}
}

// forEachPatch читает патчи рабочего уровня, прошедшие маску, и прогоняет их через сеть
func forEachPatch(ctx context.Context, env *graphEnv, fn func(p Patch, outputs []*entity.Tensor) error) error {
	level := env.pyramid.Levels()[env.level]
	filter, err := env.mask(ctx)
	if err != nil {
		return err
	}
	if filter != nil {
		filter.downsample = level.Downsample
	}

	w, h := env.cfg.InputWidth, env.cfg.InputHeight
	grid, _, _ := PatchGrid(level.Width, level.Height, w, h, env.cfg.PatchOverlap)
	bounds := image.Rect(0, 0, level.Width, level.Height)
	processed := 0
	for _, p := range grid {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.accept(p.Rect) {
			continue
		}
		img, err := env.pyramid.ReadRegion(ctx, env.level, p.Rect.Intersect(bounds))
		if err != nil {
			return fmt.Errorf("failed to read patch %v: %w", p.Rect, err)
		}
		outputs, err := env.engine.Run(ctx, PatchTensor(img, w, h, env.cfg.Channels, env.cfg.Scale))
		if err != nil {
			return fmt.Errorf("inference on patch %v: %w", p.Rect, err)
		}
		if len(outputs) == 0 {
			return fmt.Errorf("inference on patch %v returned no outputs", p.Rect)
		}
		if err := fn(p, outputs); err != nil {
			return err
		}
		processed++
	}
	env.logger.Debug("patches processed", "model", env.cfg.ModelName, "level", env.level, "total", len(grid), "processed", processed)
	return nil
}

type classificationHigh struct{}

func (classificationHigh) patches() bool { return true }

func (classificationHigh) nodes() []string {
	return []string{entity.NodePatchGenerator, entity.NodeNetwork, entity.NodeStitcher, entity.NodeRenderer}
}

func (classificationHigh) output() string { return ArtifactHeatmap }

func (classificationHigh) renderer(cfg *entity.ModelConfig) *entity.Renderer {
	r := entity.NewRenderer(entity.RendererHeatmap, cfg.ModelName)
	r.SetMaxOpacity(heatmapMaxOpacity)
	r.SetInterpolation(cfg.Interpolation)
	applyColors(r, cfg.ClassColors)
	return r
}

func (classificationHigh) run(ctx context.Context, env *graphEnv) (map[string]*entity.Artifact, error) {
	level := env.pyramid.Levels()[env.level]
	_, rows, cols := PatchGrid(level.Width, level.Height, env.cfg.InputWidth, env.cfg.InputHeight, env.cfg.PatchOverlap)
	grid := NewClassGrid(rows, cols, env.cfg.Classes)
	err := forEachPatch(ctx, env, func(p Patch, outputs []*entity.Tensor) error {
		return grid.Set(p.Row, p.Col, outputs[0])
	})
	if err != nil {
		return nil, err
	}
	return map[string]*entity.Artifact{
		ArtifactHeatmap: {Kind: entity.ArtifactTensor, Tensor: grid.Tensor()},
	}, nil
}

type segmentationHigh struct{}

func (segmentationHigh) patches() bool { return true }

func (segmentationHigh) nodes() []string {
	return []string{entity.NodePatchGenerator, entity.NodeNetwork, entity.NodeStitcher, entity.NodeRenderer}
}

func (segmentationHigh) output() string { return ArtifactSegmentation }

func (segmentationHigh) renderer(cfg *entity.ModelConfig) *entity.Renderer {
	r := entity.NewRenderer(entity.RendererSegmentation, cfg.ModelName)
	r.SetOpacity(segmentationOpacity, segmentationBorder)
	applyColors(r, cfg.ClassColors)
	return r
}

func (segmentationHigh) run(ctx context.Context, env *graphEnv) (map[string]*entity.Artifact, error) {
	level := env.pyramid.Levels()[env.level]
	labels := image.NewGray(image.Rect(0, 0, level.Width, level.Height))
	err := forEachPatch(ctx, env, func(p Patch, outputs []*entity.Tensor) error {
		m, err := ArgmaxMap(outputs[0], env.cfg.Classes)
		if err != nil {
			return err
		}
		StitchLabels(labels, p.Rect, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]*entity.Artifact{
		ArtifactSegmentation: {
			Kind:    entity.ArtifactPyramid,
			Labels:  labels,
			Spacing: [2]float64{level.Downsample, level.Downsample},
		},
	}, nil
}

type detectionHigh struct{}

func (detectionHigh) patches() bool { return true }

func (detectionHigh) nodes() []string {
	return []string{entity.NodePatchGenerator, entity.NodeNetwork, entity.NodeNMS, entity.NodeBoxAccumulator, entity.NodeRenderer}
}

func (detectionHigh) output() string { return ArtifactBoxes }

func (detectionHigh) renderer(cfg *entity.ModelConfig) *entity.Renderer {
	r := entity.NewRenderer(entity.RendererBoundingBox, cfg.ModelName)
	applyColors(r, cfg.ClassColors)
	return r
}

func (detectionHigh) run(ctx context.Context, env *graphEnv) (map[string]*entity.Artifact, error) {
	level := env.pyramid.Levels()[env.level]
	params := DecodeParams{
		Classes:   env.cfg.Classes,
		InputW:    env.cfg.InputWidth,
		InputH:    env.cfg.InputHeight,
		Threshold: env.cfg.PredThreshold,
	}
	var acc BoxAccumulator
	err := forEachPatch(ctx, env, func(p Patch, outputs []*entity.Tensor) error {
		boxes, err := DecodeYOLO(outputs, env.anchors, params)
		if err != nil {
			return err
		}
		acc.Add(NonMaxSuppression(boxes, env.cfg.NMSThreshold), p.Rect.Min.X, p.Rect.Min.Y, 1, 1, level.Downsample)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]*entity.Artifact{
		ArtifactBoxes: {Kind: entity.ArtifactBoxes, Boxes: acc.Boxes()},
	}, nil
}

type segmentationLow struct{}

func (segmentationLow) patches() bool { return false }

func (segmentationLow) nodes() []string {
	return []string{entity.NodeResize, entity.NodeNetwork, entity.NodeResizeBack, entity.NodeRenderer}
}

func (segmentationLow) output() string { return ArtifactSegmentation }

func (segmentationLow) renderer(cfg *entity.ModelConfig) *entity.Renderer {
	r := entity.NewRenderer(entity.RendererSegmentation, cfg.ModelName)
	r.SetOpacity(lowResolutionOpacity, lowResolutionBorder)
	applyColors(r, cfg.ClassColors)
	return r
}

func (segmentationLow) run(ctx context.Context, env *graphEnv) (map[string]*entity.Artifact, error) {
	levels := env.pyramid.Levels()
	level := levels[env.level]
	img, err := env.pyramid.ReadLevel(ctx, env.level)
	if err != nil {
		return nil, fmt.Errorf("failed to read level %d: %w", env.level, err)
	}

	w, h := env.cfg.InputWidth, env.cfg.InputHeight
	resized := env.ops.Resize(img, w, h, false)
	outputs, err := env.engine.Run(ctx, PatchTensor(resized, w, h, env.cfg.Channels, env.cfg.Scale))
	if err != nil {
		return nil, fmt.Errorf("inference on level %d: %w", env.level, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("inference on level %d returned no outputs", env.level)
	}
	m, err := ArgmaxMap(outputs[0], env.cfg.Classes)
	if err != nil {
		return nil, err
	}

	labels := toGray(env.ops.Resize(m.Image(), level.Width, level.Height, true))
	return map[string]*entity.Artifact{
		ArtifactSegmentation: {
			Kind:    entity.ArtifactImage,
			Labels:  labels,
			Spacing: spacing(levels[0], labels.Bounds()),
		},
	}, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(img.Bounds())
	draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
	return g
}
