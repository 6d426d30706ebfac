package entity

import (
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"
)

// Problem тип задачи модели
type Problem string

const (
	ProblemClassification  Problem = "classification"
	ProblemSegmentation    Problem = "segmentation"
	ProblemObjectDetection Problem = "object_detection"
)

// Resolution разрешение, на котором работает модель
type Resolution string

const (
	ResolutionLow  Resolution = "low"
	ResolutionHigh Resolution = "high"
)

// Variant пара (задача, разрешение) выбирает способ сборки графа
type Variant struct {
	Problem    Problem
	Resolution Resolution
}

func (v Variant) String() string {
	return string(v.Problem) + "/" + string(v.Resolution)
}

// TissueMode откуда берётся маска ткани для генератора патчей
type TissueMode int

const (
	TissueExisting  TissueMode = iota // использовать уже посчитанную маску слайда, если есть
	TissueNone                        // без фильтрации
	TissueThreshold                   // посчитать маску порогом
)

const (
	DefaultMaskThreshold = 0.5
	DefaultPredThreshold = 0.1
	DefaultNMSThreshold  = 0.5
	DefaultChannels      = 3
)

// Color цвет класса, компоненты 0..255
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// ParseColor разбирает "r,g,b"
func ParseColor(s string) (Color, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Color{}, fmt.Errorf("color %q: expected r,g,b", s)
	}
	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return Color{}, fmt.Errorf("color %q: component %q is not in 0..255", s, p)
		}
		rgb[i] = uint8(v)
	}
	return Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
}

// ParseColors разбирает "r,g,b;r,g,b"
func ParseColors(s string) ([]Color, error) {
	var colors []Color
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := ParseColor(part)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

// ScaleFactor коэффициент нормализации интенсивности "num/den"
type ScaleFactor struct {
	Num, Den int
}

// ParseScaleFactor разбирает строку вида "1/255"
func ParseScaleFactor(s string) (ScaleFactor, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return ScaleFactor{}, fmt.Errorf("scale factor %q: expected numerator/denominator", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return ScaleFactor{}, fmt.Errorf("scale factor %q: %w", s, err)
	}
	d, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil {
		return ScaleFactor{}, fmt.Errorf("scale factor %q: %w", s, err)
	}
	if d == 0 {
		return ScaleFactor{}, fmt.Errorf("scale factor %q: zero denominator", s)
	}
	return ScaleFactor{Num: n, Den: d}, nil
}

// Value возвращает множитель
func (s ScaleFactor) Value() float32 {
	return float32(s.Num) / float32(s.Den)
}

// ModelConfig типизированные метаданные модели
type ModelConfig struct {
	ModelName   string
	DisplayName string
	Problem     Problem
	Resolution  Resolution

	// Magnification целевое увеличение модели, 0 если не указано
	Magnification float64

	InputWidth  int
	InputHeight int
	Channels    int
	Classes     int
	ClassColors []Color
	ClassNames  []string

	// Scale nil означает, что нормализация не применяется
	Scale *ScaleFactor

	TissueMode      TissueMode
	TissueThreshold int
	MaskThreshold   float64
	PatchOverlap    float64
	Interpolation   bool
	PredThreshold   float64
	NMSThreshold    float64

	CPUOnly          bool
	PreferredBackend BackendName

	InputNode  string
	OutputNode string

	// Raw исходные пары key=value
	Raw map[string]string
}

// Variant возвращает пару (задача, разрешение)
func (m *ModelConfig) Variant() Variant {
	return Variant{Problem: m.Problem, Resolution: m.Resolution}
}

// ParseModelConfig проверяет и разбирает метаданные модели
func ParseModelConfig(name string, raw map[string]string) (*ModelConfig, error) {
	m := &ModelConfig{
		ModelName:     name,
		Channels:      DefaultChannels,
		MaskThreshold: DefaultMaskThreshold,
		PredThreshold: DefaultPredThreshold,
		NMSThreshold:  DefaultNMSThreshold,
		Raw:           maps.Clone(raw),
	}
	get := func(key string) string { return strings.TrimSpace(raw[key]) }

	if v := get("model_name"); v != "" {
		m.ModelName = v
	}
	m.DisplayName = m.ModelName
	if v := get("name"); v != "" {
		m.DisplayName = v
	}

	switch p := Problem(get("problem")); p {
	case ProblemClassification, ProblemSegmentation, ProblemObjectDetection:
		m.Problem = p
	default:
		return nil, Configf("model %s: unsupported problem %q", name, p)
	}
	switch r := Resolution(get("resolution")); r {
	case ResolutionLow, ResolutionHigh:
		m.Resolution = r
	default:
		return nil, Configf("model %s: unsupported resolution %q", name, r)
	}

	var err error
	if v := get("magnification_level"); v != "" {
		if m.Magnification, err = strconv.ParseFloat(v, 64); err != nil || m.Magnification <= 0 {
			return nil, Configf("model %s: magnification_level %q", name, v)
		}
	}
	if m.InputWidth, err = positiveInt(raw, "input_img_size_x"); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.InputHeight, err = positiveInt(raw, "input_img_size_y"); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.Classes, err = positiveInt(raw, "nb_classes"); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if get("nb_channels") != "" {
		if m.Channels, err = positiveInt(raw, "nb_channels"); err != nil {
			return nil, Configf("model %s: %v", name, err)
		}
	}

	if v := get("class_colors"); v != "" {
		if m.ClassColors, err = ParseColors(v); err != nil {
			return nil, Configf("model %s: class_colors: %v", name, err)
		}
	}
	if m.Problem != ProblemObjectDetection && len(m.ClassColors) < m.Classes {
		return nil, Configf("model %s: class_colors has %d entries, nb_classes is %d", name, len(m.ClassColors), m.Classes)
	}
	if v := get("class_names"); v != "" {
		for _, n := range strings.Split(v, ";") {
			m.ClassNames = append(m.ClassNames, strings.TrimSpace(n))
		}
	}

	if v := get("scale_factor"); v != "" {
		sf, err := ParseScaleFactor(v)
		if err != nil {
			return nil, Configf("model %s: %v", name, err)
		}
		m.Scale = &sf
	}

	switch v := get("tissue_threshold"); v {
	case "":
		m.TissueMode = TissueExisting
	case "none":
		m.TissueMode = TissueNone
	default:
		t, err := strconv.Atoi(v)
		if err != nil || t < 0 || t > 255 {
			return nil, Configf("model %s: tissue_threshold %q", name, v)
		}
		m.TissueMode = TissueThreshold
		m.TissueThreshold = t
	}

	if m.MaskThreshold, err = fraction(raw, "mask_threshold", DefaultMaskThreshold); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.PatchOverlap, err = fraction(raw, "patch_overlap", 0); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.PatchOverlap >= 1 {
		return nil, Configf("model %s: patch_overlap must be below 1", name)
	}
	if m.PredThreshold, err = fraction(raw, "pred_threshold", DefaultPredThreshold); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.NMSThreshold, err = fraction(raw, "nms_threshold", DefaultNMSThreshold); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.Interpolation, err = flag(raw, "interpolation"); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if m.CPUOnly, err = flag(raw, "cpu"); err != nil {
		return nil, Configf("model %s: %v", name, err)
	}
	if v := get("IE"); v != "" && v != "none" {
		m.PreferredBackend = BackendName(v)
	}
	m.InputNode = get("input_node")
	m.OutputNode = get("output_node")

	return m, nil
}

// ParseKeyValues разбирает текст метаданных: строки key=value, # комментарии
func ParseKeyValues(text string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func positiveInt(raw map[string]string, key string) (int, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s %q must be a positive integer", key, v)
	}
	return n, nil
}

func fraction(raw map[string]string, key string, def float64) (float64, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, fmt.Errorf("%s %q must be in [0, 1]", key, v)
	}
	return f, nil
}

func flag(raw map[string]string, key string) (bool, error) {
	switch v := strings.TrimSpace(raw[key]); v {
	case "", "0", "false":
		return false, nil
	case "1", "true":
		return true, nil
	default:
		return false, fmt.Errorf("%s %q must be 0 or 1", key, v)
	}
}

// Anchors якоря детектора: уровни × якоря (w, h)
type Anchors [][][2]float64

const (
	AnchorLevels   = 2
	AnchorsPerCell = 3
)

// ParseAnchors разбирает содержимое файла .anchors: пары "w,h" через пробел.
// Каждая строка должна содержать не меньше AnchorLevels*AnchorsPerCell пар.
func ParseAnchors(text string) (Anchors, error) {
	var anchors Anchors
	for n, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < AnchorLevels*AnchorsPerCell {
			return nil, fmt.Errorf("%w: anchors line %d has %d pairs, expected %d", ErrArtifactIO, n+1, len(fields), AnchorLevels*AnchorsPerCell)
		}
		cntr := 0
		for level := 0; level < AnchorLevels; level++ {
			levelAnchors := make([][2]float64, 0, AnchorsPerCell)
			for j := 0; j < AnchorsPerCell; j++ {
				w, h, ok := strings.Cut(fields[cntr], ",")
				if !ok {
					return nil, fmt.Errorf("%w: anchors line %d: pair %q", ErrArtifactIO, n+1, fields[cntr])
				}
				wf, errW := strconv.ParseFloat(w, 64)
				hf, errH := strconv.ParseFloat(h, 64)
				if errW != nil || errH != nil {
					return nil, fmt.Errorf("%w: anchors line %d: pair %q", ErrArtifactIO, n+1, fields[cntr])
				}
				levelAnchors = append(levelAnchors, [2]float64{wf, hf})
				cntr++
			}
			anchors = append(anchors, levelAnchors)
		}
	}
	if len(anchors) == 0 {
		return nil, fmt.Errorf("%w: anchors file is empty", ErrArtifactIO)
	}
	return anchors, nil
}

// Model модель из каталога: метаданные и найденные форматы весов
type Model struct {
	Name    string
	Dir     string
	Formats []Format
	Raw     map[string]string
}

// WeightsPath путь к файлу весов в выбранном формате
func (m *Model) WeightsPath(f Format) string {
	return filepath.Join(m.Dir, m.Name+"."+string(f))
}
