package entity

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// RendererKind тип рендерера
type RendererKind string

const (
	RendererHeatmap      RendererKind = "HeatmapRenderer"
	RendererSegmentation RendererKind = "SegmentationRenderer"
	RendererBoundingBox  RendererKind = "BoundingBoxRenderer"
	RendererImagePyramid RendererKind = "ImagePyramidRenderer"
)

// AttributeMarker первое слово строки атрибута в attributes.txt
const AttributeMarker = "Attribute"

const (
	AttrOpacity       = "opacity"
	AttrBorderOpacity = "border-opacity"
	AttrMaxOpacity    = "max-opacity"
	AttrInterpolation = "interpolation"
	AttrLabelColors   = "label-colors"
	AttrChannelColors = "channel-colors"
	AttrLineWidth     = "line-width"
)

var rendererAttributes = map[RendererKind][]string{
	RendererHeatmap:      {AttrMaxOpacity, AttrInterpolation, AttrChannelColors},
	RendererSegmentation: {AttrOpacity, AttrBorderOpacity, AttrLabelColors},
	RendererBoundingBox:  {AttrLineWidth, AttrLabelColors},
	RendererImagePyramid: nil,
}

// Attribute атрибут отображения в текстовом виде
type Attribute struct {
	Name  string
	Value string
}

// Renderer настройки отображения результата и данные, которые он показывает
type Renderer struct {
	Kind  RendererKind
	Model string

	mu            sync.RWMutex
	opacity       float64
	borderOpacity float64
	maxOpacity    float64
	interpolation bool
	lineWidth     float64
	colors        map[int]Color
	input         *Artifact
}

// NewRenderer создаёт рендерер с настройками по умолчанию
func NewRenderer(kind RendererKind, model string) *Renderer {
	return &Renderer{
		Kind:          kind,
		Model:         model,
		opacity:       0.5,
		borderOpacity: 1,
		maxOpacity:    0.6,
		lineWidth:     2,
		colors:        make(map[int]Color),
	}
}

func (r *Renderer) SetOpacity(opacity, border float64) {
	r.mu.Lock()
	r.opacity, r.borderOpacity = opacity, border
	r.mu.Unlock()
}

func (r *Renderer) SetMaxOpacity(v float64) {
	r.mu.Lock()
	r.maxOpacity = v
	r.mu.Unlock()
}

func (r *Renderer) SetInterpolation(v bool) {
	r.mu.Lock()
	r.interpolation = v
	r.mu.Unlock()
}

// SetColor задаёт цвет класса (для heatmap: цвет канала)
func (r *Renderer) SetColor(label int, c Color) {
	r.mu.Lock()
	r.colors[label] = c
	r.mu.Unlock()
}

func (r *Renderer) Color(label int) (Color, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.colors[label]
	return c, ok
}

func (r *Renderer) Opacity() (float64, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opacity, r.borderOpacity
}

func (r *Renderer) MaxOpacity() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxOpacity
}

func (r *Renderer) Interpolation() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.interpolation
}

// SetInput подключает данные, которые показывает рендерер
func (r *Renderer) SetInput(a *Artifact) {
	r.mu.Lock()
	r.input = a
	r.mu.Unlock()
}

func (r *Renderer) Input() *Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.input
}

// Attributes атрибуты рендерера в фиксированном порядке
func (r *Renderer) Attributes() []Attribute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := rendererAttributes[r.Kind]
	attrs := make([]Attribute, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, Attribute{Name: name, Value: r.valueLocked(name)})
	}
	return attrs
}

func (r *Renderer) valueLocked(name string) string {
	switch name {
	case AttrOpacity:
		return formatFloat(r.opacity)
	case AttrBorderOpacity:
		return formatFloat(r.borderOpacity)
	case AttrMaxOpacity:
		return formatFloat(r.maxOpacity)
	case AttrInterpolation:
		return strconv.FormatBool(r.interpolation)
	case AttrLineWidth:
		return formatFloat(r.lineWidth)
	case AttrLabelColors, AttrChannelColors:
		labels := make([]int, 0, len(r.colors))
		for l := range r.colors {
			labels = append(labels, l)
		}
		slices.Sort(labels)
		parts := make([]string, 0, len(labels))
		for _, l := range labels {
			parts = append(parts, fmt.Sprintf("%d=%s", l, r.colors[l]))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// SetAttribute разбирает значение атрибута и применяет его
func (r *Renderer) SetAttribute(name, value string) error {
	if !slices.Contains(rendererAttributes[r.Kind], name) {
		return fmt.Errorf("%s has no attribute %q", r.Kind, name)
	}
	value = strings.TrimSpace(value)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case AttrOpacity, AttrBorderOpacity, AttrMaxOpacity, AttrLineWidth:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		switch name {
		case AttrOpacity:
			r.opacity = f
		case AttrBorderOpacity:
			r.borderOpacity = f
		case AttrMaxOpacity:
			r.maxOpacity = f
		default:
			r.lineWidth = f
		}
	case AttrInterpolation:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", name, err)
		}
		r.interpolation = b
	case AttrLabelColors, AttrChannelColors:
		colors := make(map[int]Color)
		for _, field := range strings.Fields(value) {
			l, c, ok := strings.Cut(field, "=")
			if !ok {
				return fmt.Errorf("attribute %s: %q is not label=r,g,b", name, field)
			}
			label, err := strconv.Atoi(l)
			if err != nil {
				return fmt.Errorf("attribute %s: label %q: %w", name, l, err)
			}
			col, err := ParseColor(c)
			if err != nil {
				return fmt.Errorf("attribute %s: %w", name, err)
			}
			colors[label] = col
		}
		r.colors = colors
	}
	return nil
}

// FormatAttributes строки "Attribute <name> <value>" для attributes.txt
func (r *Renderer) FormatAttributes() string {
	var sb strings.Builder
	for _, a := range r.Attributes() {
		fmt.Fprintf(&sb, "%s %s %s\n", AttributeMarker, a.Name, a.Value)
	}
	return sb.String()
}

// ParseAttributeLine разбирает строку attributes.txt.
// ok == false означает, что строка не является строкой атрибута.
func ParseAttributeLine(line string) (attr Attribute, ok bool, err error) {
	line = strings.TrimSpace(line)
	tokens := strings.Fields(line)
	if len(tokens) == 0 || tokens[0] != AttributeMarker {
		return Attribute{}, false, nil
	}
	if len(tokens) < 3 {
		return Attribute{}, true, fmt.Errorf("expecting at least 3 items on attribute line, got %q", line)
	}
	name := tokens[1]
	rest := strings.TrimSpace(strings.TrimPrefix(line, AttributeMarker))
	rest = strings.TrimSpace(strings.TrimPrefix(rest, name))
	return Attribute{Name: name, Value: rest}, true, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
