package app

import "pathoflow/internal/domain/entity"

// shapeBinder задаёт формы входного и выходного узлов сети для семейства движков
type shapeBinder interface {
	Bind(cfg *entity.ModelConfig, format entity.Format) entity.NodeBinding
}

var binders = map[entity.Family]shapeBinder{
	entity.FamilyTensorFlow: tensorflowBinder{},
	entity.FamilyTensorRT:   tensorrtBinder{},
	entity.FamilyInferred:   inferredBinder{},
}

// BindNodes формы узлов для выбранного движка
func BindNodes(cfg *entity.ModelConfig, sel entity.Selection) entity.NodeBinding {
	b, ok := binders[sel.Backend.Family()]
	if !ok {
		b = inferredBinder{}
	}
	return b.Bind(cfg, sel.Format)
}

func names(cfg *entity.ModelConfig) entity.NodeBinding {
	return entity.NodeBinding{InputName: cfg.InputNode, OutputName: cfg.OutputNode}
}

// tensorflowBinder вход {1, h, w, c}, выход по типу задачи
type tensorflowBinder struct{}

func (tensorflowBinder) Bind(cfg *entity.ModelConfig, _ entity.Format) entity.NodeBinding {
	b := names(cfg)
	h, w := int64(cfg.InputHeight), int64(cfg.InputWidth)
	classes := int64(cfg.Classes)
	b.Input = entity.NodeShape{1, h, w, int64(cfg.Channels)}
	switch cfg.Problem {
	case entity.ProblemSegmentation:
		b.Output = entity.NodeShape{1, h, w, classes}
	default:
		// детектор с несколькими выходами описывается одним узлом {1, nb_classes};
		// выходы уровней якорей всё равно берутся из файла модели
		b.Output = entity.NodeShape{1, classes}
	}
	return b
}

// tensorrtBinder явные формы нужны только для uff; onnx несёт их в файле
type tensorrtBinder struct{}

func (tensorrtBinder) Bind(cfg *entity.ModelConfig, format entity.Format) entity.NodeBinding {
	b := names(cfg)
	if format != entity.FormatUFF {
		return b
	}
	b.Input = entity.NodeShape{1, int64(cfg.Channels), int64(cfg.InputHeight), int64(cfg.InputWidth)}
	b.Output = entity.NodeShape{1, int64(cfg.Classes)}
	return b
}

type inferredBinder struct{}

func (inferredBinder) Bind(cfg *entity.ModelConfig, _ entity.Format) entity.NodeBinding {
	return names(cfg)
}
