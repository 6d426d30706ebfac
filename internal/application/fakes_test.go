package app

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"sync/atomic"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

// memPyramid пирамида из одного изображения, уровни уменьшены в factor раз
type memPyramid struct {
	levels []entity.Level
	images []image.Image
	mag    float64
	closed atomic.Bool
}

func newMemPyramid(base image.Image, levels int, factor int, mag float64) *memPyramid {
	p := &memPyramid{mag: mag}
	img := base
	ds := 1.0
	for i := 0; i < levels; i++ {
		b := img.Bounds()
		p.levels = append(p.levels, entity.Level{Width: b.Dx(), Height: b.Dy(), Downsample: ds})
		p.images = append(p.images, img)
		img = nearest(img, max(1, b.Dx()/factor), max(1, b.Dy()/factor))
		ds *= float64(factor)
	}
	return p
}

func (p *memPyramid) Levels() []entity.Level { return p.levels }
func (p *memPyramid) Magnification() float64 { return p.mag }

func (p *memPyramid) ReadRegion(_ context.Context, level int, rect image.Rectangle) (image.Image, error) {
	if level < 0 || level >= len(p.images) {
		return nil, fmt.Errorf("level %d out of range", level)
	}
	return p.images[level].(*image.RGBA).SubImage(rect), nil
}

func (p *memPyramid) ReadLevel(_ context.Context, level int) (image.Image, error) {
	if level < 0 || level >= len(p.images) {
		return nil, fmt.Errorf("level %d out of range", level)
	}
	return p.images[level], nil
}

func (p *memPyramid) Close() error {
	p.closed.Store(true)
	return nil
}

type memOpener struct {
	pyramids map[string]port.Pyramid
}

func (o *memOpener) Open(_ context.Context, path string) (port.Pyramid, error) {
	p, ok := o.pyramids[path]
	if !ok {
		return nil, fmt.Errorf("no slide at %s", path)
	}
	return p, nil
}

func nearest(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, img.At(b.Min.X+x*b.Dx()/w, b.Min.Y+y*b.Dy()/h))
		}
	}
	return out
}

// halfTissue левая половина ткань (тёмная), правая фон (белый)
func halfTissue(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if x < w/2 {
				c = color.RGBA{R: 120, G: 60, B: 140, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

type fakeOps struct{}

func (fakeOps) Resize(img image.Image, w, h int, nearestNeighbour bool) image.Image {
	if g, ok := img.(*image.Gray); ok {
		b := g.Bounds()
		out := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetGray(x, y, g.GrayAt(b.Min.X+x*b.Dx()/w, b.Min.Y+y*b.Dy()/h))
			}
		}
		return out
	}
	return nearest(img, w, h)
}

func (fakeOps) TissueMask(img image.Image, threshold int) *image.Gray {
	b := img.Bounds()
	mask := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			if 255-int(min(c.R, c.G, c.B)) > threshold {
				mask.SetGray(x, y, color.Gray{Y: 1})
			}
		}
	}
	return mask
}

// fakeEngine отвечает функцией respond на каждый вход
type fakeEngine struct {
	respond func(input *entity.Tensor) []*entity.Tensor
	loadErr error

	mu      sync.Mutex
	loaded  string
	binding entity.NodeBinding
	calls   int
	closed  bool
}

func (e *fakeEngine) Load(_ context.Context, path string, binding entity.NodeBinding) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loaded, e.binding = path, binding
	return e.loadErr
}

func (e *fakeEngine) Run(_ context.Context, input *entity.Tensor) ([]*entity.Tensor, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.respond(input), nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

type fakeFactory struct {
	engine *fakeEngine
	mu     sync.Mutex
	built  []entity.Selection
}

func (f *fakeFactory) New(sel entity.Selection) (port.InferenceEngine, error) {
	f.mu.Lock()
	f.built = append(f.built, sel)
	f.mu.Unlock()
	return f.engine, nil
}

func (f *fakeFactory) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

// constantSegmentation выход {1,h,w,classes}, где везде побеждает класс label
func constantSegmentation(h, w, classes, label int) func(*entity.Tensor) []*entity.Tensor {
	return func(*entity.Tensor) []*entity.Tensor {
		t := entity.NewTensor(1, int64(h), int64(w), int64(classes))
		for i := label; i < len(t.Data); i += classes {
			t.Data[i] = 1
		}
		return []*entity.Tensor{t}
	}
}

type recordingView struct {
	mu        sync.Mutex
	renderers []*entity.Renderer
}

func (v *recordingView) AddRenderer(r *entity.Renderer) {
	v.mu.Lock()
	v.renderers = append(v.renderers, r)
	v.mu.Unlock()
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
	return nil
}

// fakeCodec хранит результаты в памяти, на диск пишет только маркер
type fakeCodec struct {
	mu    sync.Mutex
	saved map[string]*entity.Artifact
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{saved: make(map[string]*entity.Artifact)}
}

func (c *fakeCodec) Write(path string, a *entity.Artifact) error {
	c.mu.Lock()
	c.saved[path] = a
	c.mu.Unlock()
	return writeMarker(path)
}

func (c *fakeCodec) Read(path string) (*entity.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.saved[path]
	if !ok {
		return nil, fmt.Errorf("nothing saved at %s", path)
	}
	return a, nil
}

func writeMarker(path string) error {
	return os.WriteFile(path, []byte("artifact"), 0o644)
}
