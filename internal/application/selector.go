package app

import (
	"fmt"
	"slices"

	"pathoflow/internal/domain/entity"
)

type candidate struct {
	backend entity.BackendName
	format  entity.Format
}

// preference порядок перебора пар движок+формат: первая подходящая побеждает
var preference = []candidate{
	{entity.BackendTensorRT, entity.FormatONNX},
	{entity.BackendTensorRT, entity.FormatUFF},
	{entity.BackendOpenVINO, entity.FormatONNX},
	{entity.BackendOpenVINO, entity.FormatXML},
	{entity.BackendTensorFlow, entity.FormatPB},
	{entity.BackendONNXRuntime, entity.FormatONNX},
}

// SelectOptions ограничения выбора из метаданных модели
type SelectOptions struct {
	CPUOnly   bool
	Preferred entity.BackendName
}

// SelectBackend выбирает пару движок+формат для модели.
// Результат детерминирован и зависит только от форматов, установленных движков и опций.
func SelectBackend(formats []entity.Format, installed []entity.BackendDescriptor, opts SelectOptions) (entity.Selection, error) {
	for _, c := range preference {
		if opts.Preferred != "" && c.backend != opts.Preferred {
			continue
		}
		if !slices.Contains(formats, c.format) {
			continue
		}
		idx := slices.IndexFunc(installed, func(d entity.BackendDescriptor) bool { return d.Name == c.backend })
		if idx < 0 {
			continue
		}
		d := installed[idx]
		if !d.Supports(c.format) {
			continue
		}

		device := entity.DeviceCPU
		switch {
		case opts.CPUOnly:
			if !d.HasDevice(entity.DeviceCPU) {
				continue
			}
		case d.HasDevice(entity.DeviceGPU):
			device = entity.DeviceGPU
		case !d.HasDevice(entity.DeviceCPU):
			continue
		}
		return entity.Selection{Backend: c.backend, Format: c.format, Device: device}, nil
	}

	names := make([]entity.BackendName, 0, len(installed))
	for _, d := range installed {
		names = append(names, d.Name)
	}
	if opts.Preferred != "" {
		return entity.Selection{}, fmt.Errorf("%w: preferred backend %s cannot load formats %v (installed %v)",
			entity.ErrBackendUnavailable, opts.Preferred, formats, names)
	}
	return entity.Selection{}, fmt.Errorf("%w: formats %v, installed %v, cpu only %t",
		entity.ErrBackendUnavailable, formats, names, opts.CPUOnly)
}
