package entity

// NodeShape форма тензора узла; nil означает, что форма берётся из файла модели
type NodeShape []int64

// NodeBinding имена и формы входного и выходного узлов сети
type NodeBinding struct {
	InputName  string
	Input      NodeShape
	OutputName string
	Output     NodeShape
}

// Explicit возвращает true, если формы заданы явно
func (b NodeBinding) Explicit() bool {
	return b.Input != nil || b.Output != nil
}

// MaskSource что подаётся в генератор патчей как маска
type MaskSource string

const (
	MaskNone     MaskSource = "none"
	MaskTissue   MaskSource = "tissue"
	MaskExisting MaskSource = "existing"
)

// Имена этапов графа
const (
	NodeTissueMask     = "tissue-mask"
	NodeExistingMask   = "existing-mask"
	NodePatchGenerator = "patch-generator"
	NodeResize         = "resize"
	NodeNetwork        = "network"
	NodeStitcher       = "stitcher"
	NodeNMS            = "nms"
	NodeBoxAccumulator = "box-accumulator"
	NodeResizeBack     = "resize-back"
	NodeRenderer       = "renderer"
)

// GraphSpec описание собранного графа обработки для одного запуска
type GraphSpec struct {
	Model     string
	Variant   Variant
	Selection Selection
	Level     int
	Resize    bool
	Binding   NodeBinding
	Mask      MaskSource
	Nodes     []string
}
