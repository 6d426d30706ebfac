package api

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"pathoflow/internal/infrastructure/filewatch"
)

// watchCmd импортирует модели, появляющиеся в каталоге моделей, до отмены ctx
type watchCmd struct{ command }

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "import models as they appear in the models directory" }
func (*watchCmd) Usage() string    { return "watch\n" }
func (*watchCmd) SetFlags(*flag.FlagSet) {}

func (w *watchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	watcher, err := filewatch.New(w.c.Catalog.Dir(), w.c.Logger)
	if err != nil {
		return w.fail("%v", err)
	}
	fmt.Fprintf(w.out, "watching %s\n", w.c.Catalog.Dir())

	err = watcher.Run(ctx, func(name string) {
		if _, ok := w.c.Catalog.Get(name); ok {
			return
		}
		model, err := w.c.Catalog.Import(name)
		if err != nil {
			// каталог может быть ещё не заполнен, повторим на следующем событии
			w.c.Logger.Debug("model not ready", "model", name, "err", err)
			return
		}
		fmt.Fprintf(w.out, "imported %s (%s)\n", model.Name, joinFormats(model.Formats))
	})
	if err != nil {
		return w.fail("%v", err)
	}
	return subcommands.ExitSuccess
}
