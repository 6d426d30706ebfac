package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
	"pathoflow/internal/infrastructure/storage"
)

const (
	timeout = time.Second
	tick    = 10 * time.Millisecond
)

type harness struct {
	project    *Project
	catalog    *ModelCatalog
	dispatcher *Dispatcher
	engine     *fakeEngine
	factory    *fakeFactory
	runs       *storage.MemoryRunRepository
	results    *ResultStore
	codec      *fakeCodec
	notifier   *recordingNotifier
	modelsDir  string
}

type harnessOptions struct {
	backends []entity.BackendName
	advanced bool
	slides   []string
}

// newHarness проект со слайдами 1024×1024 (уровни 1024, 256, 64; 40x), левая половина ткань
func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	logger := discardLogger()
	if len(opts.slides) == 0 {
		opts.slides = []string{"slide-a.tiff"}
	}
	opener := &memOpener{pyramids: make(map[string]port.Pyramid)}
	for _, s := range opts.slides {
		opener.pyramids[s] = newMemPyramid(halfTissue(1024, 1024), 3, 4, 40)
	}

	project, err := NewProject(t.TempDir(), opener, fakeOps{}, logger)
	require.NoError(t, err)
	for _, s := range opts.slides {
		_, err := project.IncludeImage(context.Background(), s)
		require.NoError(t, err)
	}

	modelsDir := t.TempDir()
	catalog := NewModelCatalog(modelsDir, logger)
	engine := &fakeEngine{respond: constantSegmentation(256, 256, 2, 1)}
	factory := &fakeFactory{engine: engine}
	tissue := NewTissueSegmentation(fakeOps{}, logger)
	codec := newFakeCodec()
	results := NewResultStore(project.ResultsDir(), map[entity.ArtifactKind]port.ArtifactCodec{
		entity.ArtifactPyramid: codec,
		entity.ArtifactImage:   codec,
		entity.ArtifactTensor:  codec,
	}, logger)
	runs := storage.NewMemoryRunRepository()
	notifier := &recordingNotifier{}

	h := &harness{
		project:   project,
		catalog:   catalog,
		engine:    engine,
		factory:   factory,
		runs:      runs,
		results:   results,
		codec:     codec,
		notifier:  notifier,
		modelsDir: modelsDir,
	}
	h.dispatcher = NewDispatcher(DispatcherDeps{
		Catalog:  catalog,
		Registry: NewBackendRegistry("", "linux", installed(opts.backends...), logger),
		Builder:  NewGraphBuilder(catalog, factory, fakeOps{}, tissue, logger),
		Tissue:   tissue,
		Project:  project,
		Results:  results,
		Runs:     runs,
		Notifier: notifier,
		Logger:   logger,
		Advanced: opts.advanced,
		Workers:  2,
	})
	return h
}

func (h *harness) addModel(t *testing.T, name, metadata string, formats ...string) {
	t.Helper()
	writeModel(t, h.modelsDir, name, metadata, formats...)
	_, err := h.catalog.Import(name)
	require.NoError(t, err)
}

func TestDispatcher_SegmentationScenario(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml", "bin")
	ctx := context.Background()

	out, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.NoError(t, err)
	require.False(t, out.Reused)
	require.Equal(t, entity.BackendOpenVINO, out.Graph.Selection.Backend)
	require.Equal(t, entity.FormatXML, out.Graph.Selection.Format)
	require.Equal(t, 1, out.Graph.Level)
	require.Equal(t, entity.MaskNone, out.Graph.Mask)
	require.Equal(t, filepath.Join(h.modelsDir, "tumour", "tumour.xml"), h.engine.loaded)
	require.True(t, h.engine.closed)

	r := out.Renderer
	require.Equal(t, entity.RendererSegmentation, r.Kind)
	red, ok := r.Color(0)
	require.True(t, ok)
	require.Equal(t, entity.Color{R: 255}, red)
	green, ok := r.Color(1)
	require.True(t, ok)
	require.Equal(t, entity.Color{G: 255}, green)
	op, border := r.Opacity()
	require.Equal(t, 0.7, op)
	require.Equal(t, 1.0, border)

	seg := out.Artifacts[ArtifactSegmentation]
	require.Equal(t, entity.ArtifactPyramid, seg.Kind)
	require.Equal(t, 256, seg.Labels.Bounds().Dx())
	require.Equal(t, uint8(1), seg.Labels.GrayAt(10, 10).Y)
	require.Same(t, seg, r.Input())

	slide, _, err := h.project.Slide("slide-a")
	require.NoError(t, err)
	require.True(t, slide.HasRenderer("tumour"))
	require.Equal(t, entity.RunAttached, h.dispatcher.State("slide-a", "tumour"))

	runs, err := h.runs.List(ctx, "slide-a")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, entity.RunAttached, runs[0].State)
	require.Equal(t, entity.BackendOpenVINO, runs[0].Backend)
}

func TestDispatcher_Idempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml")
	ctx := context.Background()

	first, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.NoError(t, err)
	second, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.NoError(t, err)

	require.True(t, second.Reused)
	require.Nil(t, second.Graph)
	require.Same(t, first.Renderer, second.Renderer)
	require.Equal(t, 1, h.factory.builds())
}

func TestDispatcher_ConcurrentRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml")
	ctx := context.Background()

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 8)
	errs := make([]error, 8)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
		}()
	}
	wg.Wait()

	require.Equal(t, 1, h.factory.builds())
	for i := range outcomes {
		require.NoError(t, errs[i])
		require.Same(t, outcomes[0].Renderer, outcomes[i].Renderer)
	}
}

func (d *Dispatcher) waiters(req Request) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.flights[req.key()]; ok {
		return f.waiters
	}
	return 0
}

func TestDispatcher_CancelledWaiterLeavesRun(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml")
	release := make(chan struct{})
	respond := h.engine.respond
	h.engine.respond = func(in *entity.Tensor) []*entity.Tensor {
		<-release
		return respond(in)
	}
	req := Request{Slide: "slide-a", Process: "tumour"}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.dispatcher.Dispatch(first, req)
		firstErr <- err
	}()
	type result struct {
		out *Outcome
		err error
	}
	second := make(chan result, 1)
	go func() {
		out, err := h.dispatcher.Dispatch(context.Background(), req)
		second <- result{out, err}
	}()
	require.Eventually(t, func() bool { return h.dispatcher.waiters(req) == 2 }, timeout, tick)

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(timeout):
		t.Fatal("cancelled caller is still waiting")
	}

	close(release)
	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.out.Renderer)
	require.Equal(t, 1, h.factory.builds())
	require.Equal(t, entity.RunAttached, h.dispatcher.State("slide-a", "tumour"))
}

func TestDispatcher_NoBackend(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "pb")
	ctx := context.Background()

	_, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.ErrorIs(t, err, entity.ErrBackendUnavailable)
	require.True(t, IsStage(err, entity.StageBackend))
	require.Equal(t, entity.RunFailed, h.dispatcher.State("slide-a", "tumour"))
	require.Zero(t, h.factory.builds())

	slide, _, err := h.project.Slide("slide-a")
	require.NoError(t, err)
	require.False(t, slide.HasRenderer("tumour"))

	runs, err := h.runs.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, entity.RunFailed, runs[0].State)
	require.NotEmpty(t, runs[0].Error)
}

func TestDispatcher_UnknownInputs(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	ctx := context.Background()

	_, err := h.dispatcher.Dispatch(ctx, Request{Slide: "missing", Process: "tumour"})
	require.ErrorIs(t, err, entity.ErrUnknownSlide)

	_, err = h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.ErrorIs(t, err, entity.ErrUnknownProcess)
	require.True(t, IsStage(err, entity.StageMetadata))
}

func TestDispatcher_InvalidMetadata(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "broken", "problem=segmentation\nresolution=high\n", "xml")

	_, err := h.dispatcher.Dispatch(context.Background(), Request{Slide: "slide-a", Process: "broken"})
	require.ErrorIs(t, err, entity.ErrConfiguration)
	require.True(t, IsStage(err, entity.StageMetadata))
}

func TestDispatcher_Tissue(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	out, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: TissueProcess})
	require.NoError(t, err)
	require.Nil(t, out.Graph)
	require.Zero(t, h.factory.builds())

	r := out.Renderer
	require.Equal(t, entity.RendererSegmentation, r.Kind)
	op, _ := r.Opacity()
	require.Equal(t, 0.4, op)
	c, ok := r.Color(1)
	require.True(t, ok)
	require.Equal(t, entity.Color{G: 255}, c)

	mask := out.Artifacts[TissueProcess]
	require.Equal(t, uint8(1), mask.Labels.GrayAt(10, 500).Y)
	require.Equal(t, uint8(0), mask.Labels.GrayAt(1000, 500).Y)
	require.Equal(t, [2]float64{1, 1}, mask.Spacing)
}

func TestDispatcher_ExistingTissueMask(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	metadata := `problem=segmentation
resolution=high
magnification_level=10
input_img_size_x=64
input_img_size_y=64
nb_classes=2
class_colors=255,0,0;0,255,0
`
	h.addModel(t, "small", metadata, "onnx")
	h.engine.respond = constantSegmentation(64, 64, 2, 1)
	ctx := context.Background()

	_, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: TissueProcess})
	require.NoError(t, err)

	out, err := h.dispatcher.Dispatch(ctx, Request{Slide: "slide-a", Process: "small"})
	require.NoError(t, err)
	require.Equal(t, entity.MaskExisting, out.Graph.Mask)
	require.Equal(t, entity.NodeExistingMask, out.Graph.Nodes[0])
	require.Equal(t, 8, h.engine.calls)

	labels := out.Artifacts[ArtifactSegmentation].Labels
	require.Equal(t, uint8(1), labels.GrayAt(10, 10).Y)
	require.Equal(t, uint8(0), labels.GrayAt(200, 10).Y)
}

func TestDispatcher_ThresholdTissueMask(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	metadata := `problem=segmentation
resolution=high
magnification_level=10
input_img_size_x=64
input_img_size_y=64
nb_classes=2
class_colors=255,0,0;0,255,0
tissue_threshold=85
mask_threshold=0.5
`
	h.addModel(t, "small", metadata, "onnx")
	h.engine.respond = constantSegmentation(64, 64, 2, 1)

	out, err := h.dispatcher.Dispatch(context.Background(), Request{Slide: "slide-a", Process: "small"})
	require.NoError(t, err)
	require.Equal(t, entity.MaskTissue, out.Graph.Mask)
	require.Equal(t, entity.NodeTissueMask, out.Graph.Nodes[0])
	require.Equal(t, 8, h.engine.calls)
}

func TestDispatcher_LowResolution(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendTensorFlow}})
	metadata := `problem=segmentation
resolution=low
input_img_size_x=64
input_img_size_y=64
nb_classes=2
class_colors=0,0,0;0,0,255
`
	h.addModel(t, "overview", metadata, "pb")
	h.engine.respond = constantSegmentation(64, 64, 2, 1)

	out, err := h.dispatcher.Dispatch(context.Background(), Request{Slide: "slide-a", Process: "overview"})
	require.NoError(t, err)
	require.True(t, out.Graph.Resize)
	require.Equal(t, 0, out.Graph.Level)
	require.Equal(t, []string{entity.NodeResize, entity.NodeNetwork, entity.NodeResizeBack, entity.NodeRenderer}, out.Graph.Nodes)
	require.Equal(t, entity.NodeShape{1, 64, 64, 3}, h.engine.binding.Input)
	require.Equal(t, entity.NodeShape{1, 64, 64, 2}, h.engine.binding.Output)

	seg := out.Artifacts[ArtifactSegmentation]
	require.Equal(t, entity.ArtifactImage, seg.Kind)
	require.Equal(t, 1024, seg.Labels.Bounds().Dx())
	require.Equal(t, [2]float64{1, 1}, seg.Spacing)
	op, _ := out.Renderer.Opacity()
	require.Equal(t, 0.4, op)
}

func TestDispatcher_DetectionWithoutAnchors(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	metadata := `problem=object_detection
resolution=high
input_img_size_x=256
input_img_size_y=256
nb_classes=1
`
	h.addModel(t, "nuclei", metadata, "onnx")

	_, err := h.dispatcher.Dispatch(context.Background(), Request{Slide: "slide-a", Process: "nuclei"})
	require.ErrorIs(t, err, entity.ErrArtifactIO)
	require.True(t, IsStage(err, entity.StageGraph))
	require.Zero(t, h.factory.builds())

	slide, _, _ := h.project.Slide("slide-a")
	require.False(t, slide.HasRenderer("nuclei"))
}

func TestDispatcher_AdvancedOverrides(t *testing.T) {
	backends := []entity.BackendName{entity.BackendTensorRT, entity.BackendOpenVINO}
	req := Request{Slide: "slide-a", Process: "tumour", Overrides: map[string]string{"cpu": "1"}}

	basic := newHarness(t, harnessOptions{backends: backends})
	basic.addModel(t, "tumour", segmentationMetadata, "onnx")
	out, err := basic.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, entity.BackendTensorRT, out.Graph.Selection.Backend)

	advanced := newHarness(t, harnessOptions{backends: backends, advanced: true})
	advanced.addModel(t, "tumour", segmentationMetadata, "onnx")
	out, err = advanced.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, entity.BackendOpenVINO, out.Graph.Selection.Backend)
	require.Equal(t, entity.DeviceCPU, out.Graph.Selection.Device)
}

func TestDispatcher_Start(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml")
	ctx := context.Background()

	task := h.dispatcher.Start(ctx, Request{Slide: "slide-a", Process: "tumour"})
	require.NotEmpty(t, task.ID)
	out, err := task.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, out.Renderer)
	require.Equal(t, entity.RunAttached, task.State())

	<-task.Done()
	require.Eventually(t, func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.messages) == 1
	}, timeout, tick)
}

func TestDispatcher_StartCancelled(t *testing.T) {
	h := newHarness(t, harnessOptions{backends: []entity.BackendName{entity.BackendOpenVINO}})
	h.addModel(t, "tumour", segmentationMetadata, "xml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := h.dispatcher.Start(ctx, Request{Slide: "slide-a", Process: "tumour"})
	_, err := task.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, h.factory.builds())
	require.Equal(t, entity.RunFailed, task.State())
}

func TestDispatcher_RunForProject(t *testing.T) {
	h := newHarness(t, harnessOptions{
		backends: []entity.BackendName{entity.BackendOpenVINO},
		slides:   []string{"slide-a.tiff", "dir/slide-b.svs"},
	})
	h.addModel(t, "tumour", segmentationMetadata, "xml")

	results := h.dispatcher.RunForProject(context.Background(), "tumour", true)
	require.Len(t, results, 2)
	for uid, err := range results {
		require.NoError(t, err, uid)
	}

	view := &recordingView{}
	restored, err := h.results.Load("slide-b", view)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Equal(t, "tumour", restored[0].Model)
	require.Len(t, view.renderers, 1)
	op, _ := restored[0].Opacity()
	require.Equal(t, 0.7, op)
}

func TestDispatcher_RunForProjectNoCodec(t *testing.T) {
	h := newHarness(t, harnessOptions{slides: []string{"slide-a.tiff"}})
	h.dispatcher.deps.Results = NewResultStore(h.project.ResultsDir(), map[entity.ArtifactKind]port.ArtifactCodec{
		entity.ArtifactPyramid: h.codec,
	}, discardLogger())

	results := h.dispatcher.RunForProject(context.Background(), TissueProcess, true)
	require.ErrorIs(t, results["slide-a"], entity.ErrCodecUnavailable)
	require.True(t, IsStage(results["slide-a"], entity.StageAttachment))

	// рендерер подключён, повторный запуск без сохранения его переиспользует
	results = h.dispatcher.RunForProject(context.Background(), TissueProcess, false)
	require.NoError(t, results["slide-a"])
}

func TestDispatcher_RunForProjectFunc(t *testing.T) {
	h := newHarness(t, harnessOptions{
		backends: []entity.BackendName{entity.BackendOpenVINO},
		slides:   []string{"slide-a.tiff", "slide-b.tiff"},
	})

	done := make(map[string]error)
	results := h.dispatcher.RunForProjectFunc(context.Background(), "unknown", false, func(uid string, err error) {
		done[uid] = err
	})
	require.Len(t, results, 2)
	require.Equal(t, results, done)
	require.ErrorIs(t, done["slide-b"], entity.ErrUnknownProcess)
}
