package api

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/subcommands"

	app "pathoflow/internal/application"
	"pathoflow/internal/container"
	"pathoflow/internal/domain/entity"
)

const (
	msgNoModels    = "no models found"
	msgNoPipelines = "no pipelines found"
	msgNoRuns      = "no runs recorded"
	msgNoResults   = "no saved results"
)

// Register добавляет команды CLI в commander; progress получает индикатор выполнения batch
func Register(cdr *subcommands.Commander, c *container.Container, out, progress io.Writer) {
	base := command{c: c, out: out, progress: progress}
	cdr.Register(cdr.HelpCommand(), "help")
	cdr.Register(cdr.FlagsCommand(), "help")
	cdr.Register(cdr.CommandsCommand(), "help")

	cdr.Register(&modelsCmd{command: base}, "catalog")
	cdr.Register(&backendsCmd{command: base}, "catalog")
	cdr.Register(&pipelinesCmd{command: base}, "catalog")
	cdr.Register(&importCmd{command: base}, "catalog")
	cdr.Register(&watchCmd{command: base}, "catalog")

	cdr.Register(&runCmd{command: base}, "process")
	cdr.Register(&batchCmd{command: base}, "process")
	cdr.Register(&resultsCmd{command: base}, "process")
	cdr.Register(&runsCmd{command: base}, "process")
}

type command struct {
	c        *container.Container
	out      io.Writer
	progress io.Writer
}

func (b command) fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(b.out, "error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func (b command) table() *tabwriter.Writer {
	return tabwriter.NewWriter(b.out, 0, 4, 2, ' ', 0)
}

// modelsCmd список моделей и выбранный для каждой движок
type modelsCmd struct{ command }

func (*modelsCmd) Name() string     { return "models" }
func (*modelsCmd) Synopsis() string { return "list models and the backend each would run on" }
func (*modelsCmd) Usage() string    { return "models\n" }
func (*modelsCmd) SetFlags(*flag.FlagSet) {}

func (m *modelsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	names := m.c.Catalog.Names()
	if len(names) == 0 {
		fmt.Fprintln(m.out, msgNoModels)
		return subcommands.ExitSuccess
	}

	w := m.table()
	fmt.Fprintln(w, "MODEL\tPROBLEM\tRESOLUTION\tFORMATS\tBACKEND")
	for _, name := range names {
		model, _ := m.c.Catalog.Get(name)
		cfg, err := m.c.Catalog.Config(name, nil)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t%s\tinvalid: %v\n", name, joinFormats(model.Formats), err)
			continue
		}
		backend := "unavailable"
		sel, err := app.SelectBackend(model.Formats, m.c.Registry.Backends(), app.SelectOptions{
			CPUOnly:   cfg.CPUOnly,
			Preferred: cfg.PreferredBackend,
		})
		if err == nil {
			backend = fmt.Sprintf("%s (%s, %s)", sel.Backend, sel.Format, sel.Device)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, cfg.Problem, cfg.Resolution, joinFormats(model.Formats), backend)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// backendsCmd установленные движки
type backendsCmd struct{ command }

func (*backendsCmd) Name() string     { return "backends" }
func (*backendsCmd) Synopsis() string { return "list installed inference backends" }
func (*backendsCmd) Usage() string    { return "backends\n" }
func (*backendsCmd) SetFlags(*flag.FlagSet) {}

func (b *backendsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	w := b.table()
	fmt.Fprintln(w, "BACKEND\tDEVICES\tFORMATS")
	for _, d := range b.c.Registry.Backends() {
		devices := make([]string, 0, len(d.Devices))
		for _, dev := range d.Devices {
			devices = append(devices, string(dev))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Name, strings.Join(devices, ","), joinFormats(d.Formats))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type pipelinesCmd struct{ command }

func (*pipelinesCmd) Name() string     { return "pipelines" }
func (*pipelinesCmd) Synopsis() string { return "list pipeline descriptors" }
func (*pipelinesCmd) Usage() string    { return "pipelines\n" }
func (*pipelinesCmd) SetFlags(*flag.FlagSet) {}

func (p *pipelinesCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	pipelines := p.c.Pipelines.List()
	if len(pipelines) == 0 {
		fmt.Fprintln(p.out, msgNoPipelines)
		return subcommands.ExitSuccess
	}
	w := p.table()
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, pl := range pipelines {
		fmt.Fprintf(w, "%s\t%s\t%s\n", pl.ID, pl.Name, pl.Description)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type importCmd struct{ command }

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "add a model directory created after start-up" }
func (*importCmd) Usage() string    { return "import <model>...\n" }
func (*importCmd) SetFlags(*flag.FlagSet) {}

func (i *importCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprint(i.out, i.Usage())
		return subcommands.ExitUsageError
	}
	for _, name := range f.Args() {
		model, err := i.c.Catalog.Import(name)
		if err != nil {
			return i.fail("import %s: %v", name, err)
		}
		fmt.Fprintf(i.out, "imported %s (%s)\n", model.Name, joinFormats(model.Formats))
	}
	return subcommands.ExitSuccess
}

// runCmd добавляет слайды в проект и запускает на них процесс
type runCmd struct {
	command
	process   string
	save      bool
	overrides overrides
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a model or the tissue routine on slides" }
func (*runCmd) Usage() string {
	return "run -model <name> [-set key=value]... [-save] <slide>...\n"
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.overrides = overrides{}
	f.StringVar(&r.process, "model", "", "model name or \""+app.TissueProcess+"\"")
	f.BoolVar(&r.save, "save", false, "save results and the project")
	f.Var(r.overrides, "set", "metadata override key=value (advanced mode only)")
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if r.process == "" || f.NArg() == 0 {
		fmt.Fprint(r.out, r.Usage())
		return subcommands.ExitUsageError
	}
	if err := r.c.Project.Load(ctx); err != nil {
		return r.fail("%v", err)
	}

	known := make(map[string]string)
	for _, uid := range r.c.Project.UIDs() {
		if slide, _, err := r.c.Project.Slide(uid); err == nil {
			known[slide.Path] = uid
		}
	}

	tasks := make([]*app.Task, 0, f.NArg())
	for _, path := range f.Args() {
		uid, ok := known[path]
		if !ok {
			var err error
			if uid, err = r.c.Project.IncludeImage(ctx, path); err != nil {
				return r.fail("%v", err)
			}
			known[path] = uid
		}
		tasks = append(tasks, r.c.Dispatcher.Start(ctx, app.Request{
			Slide:     uid,
			Process:   r.process,
			Overrides: r.overrides,
		}))
	}

	status := subcommands.ExitSuccess
	for _, task := range tasks {
		out, err := task.Wait(ctx)
		if err != nil {
			fmt.Fprintf(r.out, "%s\t%s\t%s\t%v\n", task.Request.Slide, r.process, task.State(), err)
			status = subcommands.ExitFailure
			continue
		}
		printOutcome(r.out, task.Request.Slide, r.process, out)
		if r.save && !out.Reused {
			if err := r.c.Results.Save(task.Request.Slide, r.process, out.Artifacts, []*entity.Renderer{out.Renderer}); err != nil {
				fmt.Fprintf(r.out, "%s\tsave failed: %v\n", task.Request.Slide, err)
				status = subcommands.ExitFailure
			}
		}
	}

	if r.save {
		if err := r.c.Project.Save(ctx); err != nil {
			return r.fail("%v", err)
		}
	}
	return status
}

// batchCmd запускает процесс на всех слайдах сохранённого проекта
type batchCmd struct {
	command
	process string
	save    bool
}

func (*batchCmd) Name() string     { return "batch" }
func (*batchCmd) Synopsis() string { return "run a process on every slide of the project" }
func (*batchCmd) Usage() string    { return "batch -model <name> [-save]\n" }

func (b *batchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.process, "model", "", "model name or \""+app.TissueProcess+"\"")
	f.BoolVar(&b.save, "save", true, "save results of each slide")
}

func (b *batchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if b.process == "" {
		fmt.Fprint(b.out, b.Usage())
		return subcommands.ExitUsageError
	}
	if err := b.c.Project.Load(ctx); err != nil {
		return b.fail("%v", err)
	}

	bar := pb.New(len(b.c.Project.UIDs()))
	bar.SetWriter(b.progress)
	bar.Set("prefix", b.process)
	bar.Start()
	results := b.c.Dispatcher.RunForProjectFunc(ctx, b.process, b.save, func(string, error) {
		bar.Increment()
	})
	bar.Finish()

	uids := make([]string, 0, len(results))
	for uid := range results {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	status := subcommands.ExitSuccess
	w := b.table()
	for _, uid := range uids {
		if err := results[uid]; err != nil {
			fmt.Fprintf(w, "%s\t%s\t%v\n", uid, entity.RunFailed, err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", uid, entity.RunAttached)
	}
	w.Flush()
	return status
}

type resultsCmd struct{ command }

func (*resultsCmd) Name() string     { return "results" }
func (*resultsCmd) Synopsis() string { return "restore saved results of a slide" }
func (*resultsCmd) Usage() string    { return "results <slide>\n" }
func (*resultsCmd) SetFlags(*flag.FlagSet) {}

func (r *resultsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(r.out, r.Usage())
		return subcommands.ExitUsageError
	}
	view := &printView{out: r.out}
	restored, err := r.c.Results.Load(f.Arg(0), view)
	if err != nil {
		return r.fail("%v", err)
	}
	if len(restored) == 0 {
		fmt.Fprintln(r.out, msgNoResults)
	}
	return subcommands.ExitSuccess
}

type runsCmd struct{ command }

func (*runsCmd) Name() string     { return "runs" }
func (*runsCmd) Synopsis() string { return "show the run ledger" }
func (*runsCmd) Usage() string    { return "runs [slide]\n" }
func (*runsCmd) SetFlags(*flag.FlagSet) {}

func (r *runsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	runs, err := r.c.Runs.List(ctx, f.Arg(0))
	if err != nil {
		return r.fail("%v", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(r.out, msgNoRuns)
		return subcommands.ExitSuccess
	}

	w := r.table()
	fmt.Fprintln(w, "STARTED\tSLIDE\tPROCESS\tSTATE\tBACKEND\tLEVEL\tDURATION\tERROR")
	for _, run := range runs {
		state := string(run.State)
		if run.Reused {
			state += " (reused)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Slide, run.Process, state,
			orDash(string(run.Backend)), run.Level, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), orDash(run.Error))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func printOutcome(w io.Writer, slide, process string, out *app.Outcome) {
	switch {
	case out.Reused:
		fmt.Fprintf(w, "%s\t%s\t%s (reused)\n", slide, process, entity.RunAttached)
	case out.Graph != nil:
		sel := out.Graph.Selection
		fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s/%s level %d\n",
			slide, process, entity.RunAttached, sel.Backend, sel.Format, sel.Device, out.Graph.Level)
	default:
		fmt.Fprintf(w, "%s\t%s\t%s\n", slide, process, entity.RunAttached)
	}
}

// printView выводит восстановленные рендереры вместо окна просмотра
type printView struct {
	out io.Writer
}

func (v *printView) AddRenderer(r *entity.Renderer) {
	fmt.Fprintf(v.out, "%s %s\n", r.Model, r.Kind)
	for _, a := range r.Attributes() {
		fmt.Fprintf(v.out, "  %s = %s\n", a.Name, a.Value)
	}
}

// overrides значения флага -set key=value
type overrides map[string]string

func (o overrides) String() string {
	pairs := make([]string, 0, len(o))
	for k, v := range o {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (o overrides) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	o[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

func joinFormats(formats []entity.Format) string {
	s := make([]string, 0, len(formats))
	for _, f := range formats {
		s = append(s, string(f))
	}
	return strings.Join(s, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
