package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// Request запрос на запуск процесса для слайда
type Request struct {
	Slide   string
	Process string
	// Overrides значения метаданных модели поверх файла, применяются только в расширенном режиме
	Overrides map[string]string
}

func (r Request) key() string {
	return r.Slide + "\x00" + r.Process
}

// Outcome итог запуска
type Outcome struct {
	Renderer  *entity.Renderer
	Graph     *entity.GraphSpec
	Artifacts map[string]*entity.Artifact
	// Reused рендерер уже был подключён, граф не собирался
	Reused bool
}

// DispatcherDeps зависимости диспетчера
type DispatcherDeps struct {
	Catalog  *ModelCatalog
	Registry *BackendRegistry
	Builder  *GraphBuilder
	Tissue   *TissueSegmentation
	Project  *Project
	Results  *ResultStore
	Runs     port.RunRepository
	Notifier port.Notifier
	Logger   *slog.Logger
	Advanced bool
	Workers  int
}

// Dispatcher принимает запросы (слайд, процесс) и подключает результат к слайду.
// Для каждой пары выполняется не больше одного запуска.
type Dispatcher struct {
	deps  DispatcherDeps
	group singleflight.Group

	mu      sync.Mutex
	states  map[string]entity.RunState
	flights map[string]*flight
}

// flight контекст общего запуска пары; отменяется, когда уходит последний ожидающий
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	return &Dispatcher{deps: deps, states: make(map[string]entity.RunState), flights: make(map[string]*flight)}
}

// State текущее состояние пары (слайд, процесс)
func (d *Dispatcher) State(slideID, process string) entity.RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.states[Request{Slide: slideID, Process: process}.key()]; ok {
		return s
	}
	return entity.RunIdle
}

func (d *Dispatcher) setState(req Request, s entity.RunState) {
	d.mu.Lock()
	d.states[req.key()] = s
	d.mu.Unlock()
	d.deps.Logger.Debug("run state", "slide", req.Slide, "process", req.Process, "state", s)
}

// Dispatch выполняет запрос синхронно. Повторный запрос для уже подключённой пары
// возвращает существующий рендерер; одновременные запросы ждут один запуск.
// Отмена ctx прерывает ожидание только этого вызова. Когда отменены все ожидающие,
// отменяется и сам запуск; последний из них ждёт его остановки.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	slide, _, err := d.deps.Project.Slide(req.Slide)
	if err != nil {
		return nil, err
	}
	if r, ok := slide.Renderer(req.Process); ok {
		d.record(ctx, entity.RunRecord{
			ID:         uuid.NewString(),
			Slide:      req.Slide,
			Process:    req.Process,
			State:      entity.RunAttached,
			Reused:     true,
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		})
		return &Outcome{Renderer: r, Reused: true}, nil
	}

	key := req.key()
	f := d.join(ctx, key)
	ch := d.group.DoChan(key, func() (any, error) {
		return d.run(f.ctx, req)
	})
	select {
	case res := <-ch:
		d.leave(key, f)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Outcome), nil
	case <-ctx.Done():
		if d.leave(key, f) {
			<-ch
		}
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) join(ctx context.Context, key string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if ctx.Err() != nil {
			cancel()
		}
		f = &flight{ctx: fctx, cancel: cancel}
		d.flights[key] = f
	}
	f.waiters++
	return f
}

// leave сообщает, был ли ушедший последним ожидающим
func (d *Dispatcher) leave(key string, f *flight) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel()
	if d.flights[key] == f {
		delete(d.flights, key)
	}
	// следующий запрос начнёт новый запуск, а не будет ждать отменённого
	d.group.Forget(key)
	return true
}

func (d *Dispatcher) run(ctx context.Context, req Request) (*Outcome, error) {
	rec := entity.RunRecord{ID: uuid.NewString(), Slide: req.Slide, Process: req.Process, StartedAt: time.Now()}
	out, err := d.execute(ctx, req, &rec)

	rec.FinishedAt = time.Now()
	if err != nil {
		rec.State = entity.RunFailed
		rec.Error = err.Error()
		d.setState(req, entity.RunFailed)
		d.deps.Logger.Error("process failed", "slide", req.Slide, "process", req.Process, "err", err)
	} else {
		rec.State = entity.RunAttached
		rec.Reused = out.Reused
		d.setState(req, entity.RunAttached)
		d.deps.Logger.Info("process attached", "slide", req.Slide, "process", req.Process, "backend", rec.Backend, "level", rec.Level)
	}
	d.record(ctx, rec)
	return out, err
}

func (d *Dispatcher) execute(ctx context.Context, req Request, rec *entity.RunRecord) (*Outcome, error) {
	slide, pyr, err := d.deps.Project.Slide(req.Slide)
	if err != nil {
		return nil, err
	}
	if r, ok := slide.Renderer(req.Process); ok {
		return &Outcome{Renderer: r, Reused: true}, nil
	}
	fail := func(stage entity.Stage, err error) error {
		return &entity.StageError{Slide: req.Slide, Model: req.Process, Stage: stage, Err: err}
	}

	d.setState(req, entity.RunBackendResolving)
	if req.Process == TissueProcess {
		r, mask, err := d.deps.Tissue.Segment(ctx, pyr)
		if err != nil {
			return nil, fail(entity.StageTissue, err)
		}
		return d.attach(slide, req, &Outcome{
			Renderer:  r,
			Artifacts: map[string]*entity.Artifact{TissueProcess: mask},
		}), nil
	}

	model, ok := d.deps.Catalog.Get(req.Process)
	if !ok {
		return nil, fail(entity.StageMetadata, fmt.Errorf("%w: %q", entity.ErrUnknownProcess, req.Process))
	}
	var overrides map[string]string
	if d.deps.Advanced {
		overrides = req.Overrides
	}
	cfg, err := d.deps.Catalog.Config(req.Process, overrides)
	if err != nil {
		return nil, fail(entity.StageMetadata, err)
	}

	sel, err := SelectBackend(model.Formats, d.deps.Registry.Backends(), SelectOptions{
		CPUOnly:   cfg.CPUOnly,
		Preferred: cfg.PreferredBackend,
	})
	if err != nil {
		return nil, fail(entity.StageBackend, err)
	}
	rec.Backend, rec.Format = sel.Backend, sel.Format

	if err := ctx.Err(); err != nil {
		return nil, fail(entity.StageGraph, err)
	}
	d.setState(req, entity.RunGraphBuilding)
	graph, err := d.deps.Builder.Build(ctx, BuildRequest{
		Slide:     slide,
		Pyramid:   pyr,
		Model:     model,
		Config:    cfg,
		Selection: sel,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := graph.Close(); err != nil {
			d.deps.Logger.Warn("failed to release network", "model", req.Process, "err", err)
		}
	}()
	rec.Level = graph.Spec.Level

	d.setState(req, entity.RunRunning)
	artifacts, err := graph.Run(ctx)
	if err != nil {
		return nil, fail(entity.StageInference, err)
	}
	spec := graph.Spec
	return d.attach(slide, req, &Outcome{
		Renderer:  graph.Renderer,
		Graph:     &spec,
		Artifacts: artifacts,
	}), nil
}

// attach подключает рендерер; если пара уже подключена, возвращается существующий
func (d *Dispatcher) attach(slide *entity.Slide, req Request, out *Outcome) *Outcome {
	r, inserted := slide.InsertRenderer(req.Process, out.Renderer)
	if !inserted {
		return &Outcome{Renderer: r, Reused: true}
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, rec entity.RunRecord) {
	if d.deps.Runs == nil {
		return
	}
	if err := d.deps.Runs.Append(context.WithoutCancel(ctx), rec); err != nil {
		d.deps.Logger.Warn("failed to record run", "run", rec.ID, "err", err)
	}
}

// Start запускает запрос в фоне и возвращает дескриптор задачи.
// Отмена проверяется перед сборкой графа и между патчами; загрузка сети не прерывается.
func (d *Dispatcher) Start(ctx context.Context, req Request) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := newTask(req, cancel, func() entity.RunState {
		return d.State(req.Slide, req.Process)
	})
	go func() {
		defer cancel()
		out, err := d.Dispatch(ctx, req)
		t.finish(out, err)
		d.notify(ctx, req, err)
	}()
	return t
}

func (d *Dispatcher) notify(ctx context.Context, req Request, runErr error) {
	if d.deps.Notifier == nil {
		return
	}
	text := fmt.Sprintf("%s: %s attached", req.Slide, req.Process)
	if runErr != nil {
		text = fmt.Sprintf("%s: %s failed: %v", req.Slide, req.Process, runErr)
	}
	if err := d.deps.Notifier.Notify(context.WithoutCancel(ctx), text); err != nil {
		d.deps.Logger.Warn("failed to send notification", "err", err)
	}
}

// RunForProject запускает процесс для всех слайдов проекта, не более Workers одновременно.
// Ошибка одного слайда не останавливает остальные; save сохраняет результаты в ResultStore.
func (d *Dispatcher) RunForProject(ctx context.Context, process string, save bool) map[string]error {
	return d.RunForProjectFunc(ctx, process, save, nil)
}

// RunForProjectFunc как RunForProject, onDone вызывается после каждого слайда
func (d *Dispatcher) RunForProjectFunc(ctx context.Context, process string, save bool, onDone func(uid string, err error)) map[string]error {
	var (
		mu      sync.Mutex
		results = make(map[string]error)
		g       errgroup.Group
	)
	g.SetLimit(d.deps.Workers)
	for _, uid := range d.deps.Project.UIDs() {
		g.Go(func() error {
			err := d.dispatchAndSave(ctx, Request{Slide: uid, Process: process}, save)
			mu.Lock()
			results[uid] = err
			if onDone != nil {
				onDone(uid, err)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	d.deps.Logger.Info("project run finished", "process", process, "slides", len(results), "failed", failed)
	return results
}

func (d *Dispatcher) dispatchAndSave(ctx context.Context, req Request, save bool) error {
	out, err := d.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	if !save || out.Reused || d.deps.Results == nil {
		return nil
	}
	if err := d.deps.Results.Save(req.Slide, req.Process, out.Artifacts, []*entity.Renderer{out.Renderer}); err != nil {
		if errors.Is(err, entity.ErrCodecUnavailable) {
			d.deps.Logger.Warn("results not saved", "slide", req.Slide, "process", req.Process, "err", err)
		}
		return &entity.StageError{Slide: req.Slide, Model: req.Process, Stage: entity.StageAttachment, Err: err}
	}
	return nil
}

// IsStage проверяет, что ошибка запуска произошла на этапе stage
func IsStage(err error, stage entity.Stage) bool {
	var se *entity.StageError
	return errors.As(err, &se) && se.Stage == stage
}
