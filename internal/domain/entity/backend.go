package entity

import (
	"slices"
	"strings"
)

// BackendName имя движка инференса (как в имени библиотеки плагина)
type BackendName string

const (
	BackendTensorRT    BackendName = "TensorRT"
	BackendOpenVINO    BackendName = "OpenVINO"
	BackendTensorFlow  BackendName = "TensorFlow"
	BackendONNXRuntime BackendName = "ONNXRuntime"
)

// Format расширение файла весов модели без точки
type Format string

const (
	FormatONNX Format = "onnx"
	FormatUFF  Format = "uff"
	FormatXML  Format = "xml"
	FormatPB   Format = "pb"
)

// ParseFormat нормализует расширение (".ONNX" -> "onnx")
func ParseFormat(ext string) Format {
	return Format(strings.ToLower(strings.TrimPrefix(ext, ".")))
}

// Device тип вычислительного устройства
type Device string

const (
	DeviceCPU Device = "cpu"
	DeviceGPU Device = "gpu"
)

// Family семейство движка определяет, как задаются формы входных и выходных узлов.
type Family string

const (
	FamilyTensorFlow Family = "tensorflow" // формы узлов задаются явно
	FamilyTensorRT   Family = "tensorrt"   // явные формы только для uff
	FamilyInferred   Family = "inferred"   // формы берутся из файла модели
)

// BackendDescriptor описывает установленный движок инференса
type BackendDescriptor struct {
	Name      BackendName
	Devices   []Device
	Formats   []Format
	Available bool
}

// Supports проверяет, может ли движок загрузить модель в данном формате
func (b BackendDescriptor) Supports(f Format) bool {
	return slices.Contains(b.Formats, f)
}

// HasDevice проверяет наличие устройства
func (b BackendDescriptor) HasDevice(d Device) bool {
	return slices.Contains(b.Devices, d)
}

// Family возвращает семейство движка по имени
func (n BackendName) Family() Family {
	switch {
	case strings.HasPrefix(string(n), "TensorFlow"):
		return FamilyTensorFlow
	case n == BackendTensorRT:
		return FamilyTensorRT
	default:
		return FamilyInferred
	}
}

// Selection выбранная пара движок+формат
type Selection struct {
	Backend BackendName
	Format  Format
	Device  Device
}

// KnownCapabilities возможности движков, известных по имени плагина.
// Используется, когда движок найден сканированием каталога библиотек, а не из файла описания.
var KnownCapabilities = map[BackendName]BackendDescriptor{
	BackendTensorRT: {
		Name:    BackendTensorRT,
		Devices: []Device{DeviceGPU},
		Formats: []Format{FormatONNX, FormatUFF},
	},
	BackendOpenVINO: {
		Name:    BackendOpenVINO,
		Devices: []Device{DeviceCPU, DeviceGPU},
		Formats: []Format{FormatONNX, FormatXML},
	},
	BackendTensorFlow: {
		Name:    BackendTensorFlow,
		Devices: []Device{DeviceCPU, DeviceGPU},
		Formats: []Format{FormatPB},
	},
	BackendONNXRuntime: {
		Name:    BackendONNXRuntime,
		Devices: []Device{DeviceCPU},
		Formats: []Format{FormatONNX},
	},
}
