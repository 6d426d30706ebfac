package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"pathoflow/internal/domain/entity"
	"pathoflow/internal/domain/port"
)

const (
	projectFile   = "project.txt"
	thumbnailSide = 256
)

type projectSlide struct {
	slide     *entity.Slide
	pyramid   port.Pyramid
	thumbnail image.Image
}

// Project набор слайдов и каталог проекта с подкаталогами pipelines, results и thumbnails
type Project struct {
	root      string
	temporary bool
	opener    port.PyramidOpener
	ops       port.ImageOps
	logger    *slog.Logger

	mu     sync.RWMutex
	slides map[string]*projectSlide
}

// NewProject открывает каталог проекта; пустой root создаёт временный каталог,
// который удаляется в Close.
func NewProject(root string, opener port.PyramidOpener, ops port.ImageOps, logger *slog.Logger) (*Project, error) {
	temporary := false
	if root == "" {
		dir, err := os.MkdirTemp("", "pathoflow-project-")
		if err != nil {
			return nil, fmt.Errorf("failed to create project directory: %w", err)
		}
		root, temporary = dir, true
	}
	for _, sub := range []string{"pipelines", "results", "thumbnails"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create project directory: %w", err)
		}
	}
	return &Project{
		root:      root,
		temporary: temporary,
		opener:    opener,
		ops:       ops,
		logger:    logger,
		slides:    make(map[string]*projectSlide),
	}, nil
}

func (p *Project) Root() string { return p.root }
func (p *Project) ResultsDir() string { return filepath.Join(p.root, "results") }
func (p *Project) PipelinesDir() string { return filepath.Join(p.root, "pipelines") }

// IncludeImage открывает слайд и добавляет его в проект.
// Идентификатор: имя файла без расширения; при совпадении добавляется суффикс #xxxx.
func (p *Project) IncludeImage(ctx context.Context, path string) (string, error) {
	return p.include(ctx, "", path)
}

func (p *Project) include(ctx context.Context, uid, path string) (string, error) {
	pyr, err := p.opener.Open(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to open slide %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if uid == "" {
		uid = p.uniqueIDLocked(path)
	}
	slide := entity.NewSlide(uid, path, pyr.Levels(), pyr.Magnification())
	p.slides[uid] = &projectSlide{slide: slide, pyramid: pyr}
	p.logger.Info("slide included", "slide", uid, "path", path, "levels", len(slide.Levels))
	return uid, nil
}

// uniqueIDLocked имя файла без расширения; запятая разделяет поля project.txt и заменяется
func (p *Project) uniqueIDLocked(path string) string {
	base := filepath.Base(path)
	stem := strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), ",", "_")
	uid := stem
	for {
		if _, taken := p.slides[uid]; !taken {
			return uid
		}
		var b [2]byte
		_, _ = rand.Read(b[:])
		uid = stem + "#" + hex.EncodeToString(b[:])
	}
}

// Slide слайд проекта и его пирамида
func (p *Project) Slide(uid string) (*entity.Slide, port.Pyramid, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.slides[uid]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", entity.ErrUnknownSlide, uid)
	}
	return s.slide, s.pyramid, nil
}

// UIDs идентификаторы слайдов по алфавиту
func (p *Project) UIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.slides))
}

// RemoveImage удаляет слайд из проекта и закрывает пирамиду
func (p *Project) RemoveImage(uid string) error {
	p.mu.Lock()
	s, ok := p.slides[uid]
	delete(p.slides, uid)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", entity.ErrUnknownSlide, uid)
	}
	return s.pyramid.Close()
}

// Thumbnail уменьшенная копия самого грубого уровня, длинная сторона thumbnailSide
func (p *Project) Thumbnail(ctx context.Context, uid string) (image.Image, error) {
	p.mu.RLock()
	s, ok := p.slides[uid]
	var cached image.Image
	if ok {
		cached = s.thumbnail
	}
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnknownSlide, uid)
	}
	if cached != nil {
		return cached, nil
	}

	levels := s.pyramid.Levels()
	img, err := s.pyramid.ReadLevel(ctx, len(levels)-1)
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail level: %w", err)
	}
	b := img.Bounds()
	w, h := thumbnailSide, thumbnailSide
	if b.Dx() >= b.Dy() {
		h = max(1, b.Dy()*thumbnailSide/max(1, b.Dx()))
	} else {
		w = max(1, b.Dx()*thumbnailSide/max(1, b.Dy()))
	}
	thumb := p.ops.Resize(img, w, h, false)

	p.mu.Lock()
	s.thumbnail = thumb
	p.mu.Unlock()
	return thumb, nil
}

// Save пишет project.txt (строки uid,path) и миниатюры thumbnails/<uid>.png
func (p *Project) Save(ctx context.Context) error {
	var sb strings.Builder
	for _, uid := range p.UIDs() {
		slide, _, err := p.Slide(uid)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "%s,%s\n", uid, slide.Path)

		thumb, err := p.Thumbnail(ctx, uid)
		if err != nil {
			p.logger.Warn("thumbnail skipped", "slide", uid, "err", err)
			continue
		}
		if err := writePNG(filepath.Join(p.root, "thumbnails", uid+".png"), thumb); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(p.root, projectFile), []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// Load открывает слайды из project.txt; отсутствующий файл означает пустой проект.
// Уже открытые слайды не переоткрываются.
func (p *Project) Load(ctx context.Context) error {
	f, err := os.Open(filepath.Join(p.root, projectFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// uid без запятых, путь может их содержать
		uid, path, ok := strings.Cut(line, ",")
		if !ok {
			return fmt.Errorf("failed to load project: malformed line %q", line)
		}
		if _, _, err := p.Slide(uid); err == nil {
			continue
		}
		if _, err := p.include(ctx, uid, path); err != nil {
			p.logger.Warn("slide skipped", "slide", uid, "err", err)
			continue
		}
		if thumb, err := readPNG(filepath.Join(p.root, "thumbnails", uid+".png")); err == nil {
			p.mu.Lock()
			p.slides[uid].thumbnail = thumb
			p.mu.Unlock()
		}
	}
	return scanner.Err()
}

// Close закрывает пирамиды и удаляет временный каталог
func (p *Project) Close() error {
	p.mu.Lock()
	slides := p.slides
	p.slides = make(map[string]*projectSlide)
	p.mu.Unlock()

	var errs []error
	for _, s := range slides {
		errs = append(errs, s.pyramid.Close())
	}
	if p.temporary {
		errs = append(errs, os.RemoveAll(p.root))
	}
	return errors.Join(errs...)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write thumbnail: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return f.Close()
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
