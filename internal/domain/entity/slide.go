package entity

import (
	"slices"
	"sync"
)

// Level геометрия одного уровня пирамиды
type Level struct {
	Width      int
	Height     int
	Downsample float64
}

// Slide многоуровневое изображение в проекте и подключённые к нему рендереры
type Slide struct {
	ID            string
	Path          string
	Levels        []Level
	Magnification float64 // оценка увеличения уровня 0

	mu        sync.RWMutex
	renderers map[string]*Renderer
}

// NewSlide создаёт слайд без рендереров
func NewSlide(id, path string, levels []Level, magnification float64) *Slide {
	return &Slide{
		ID:            id,
		Path:          path,
		Levels:        slices.Clone(levels),
		Magnification: magnification,
		renderers:     make(map[string]*Renderer),
	}
}

// FullSize размер уровня 0
func (s *Slide) FullSize() (int, int) {
	if len(s.Levels) == 0 {
		return 0, 0
	}
	return s.Levels[0].Width, s.Levels[0].Height
}

// HasRenderer проверяет, запускалась ли уже модель на слайде
func (s *Slide) HasRenderer(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.renderers[name]
	return ok
}

// Renderer возвращает рендерер модели
func (s *Slide) Renderer(name string) (*Renderer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.renderers[name]
	return r, ok
}

// InsertRenderer подключает рендерер, если для модели его ещё нет.
// Возвращает рендерер, который в итоге подключён, и признак того, что он новый.
func (s *Slide) InsertRenderer(name string, r *Renderer) (*Renderer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.renderers[name]; ok {
		return existing, false
	}
	s.renderers[name] = r
	return r, true
}

// RemoveRenderer отключает рендерер модели
func (s *Slide) RemoveRenderer(name string) {
	s.mu.Lock()
	delete(s.renderers, name)
	s.mu.Unlock()
}

// RendererNames имена подключённых моделей по алфавиту
func (s *Slide) RendererNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.renderers))
	for name := range s.renderers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
