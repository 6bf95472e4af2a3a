package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		record      *execRecord
		tasks       TaskList
		projectRoot string
		dryRun      bool
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, len(entries))
	for idx, entry := range entries {
		infos[idx], err = entry.Info()
		if err != nil {
			return nil, err
		}
	}
	return infos, nil
}

// resolvePatterns expands the glob patterns of a task relative to its base. Patterns
// without matches are dropped.
func resolvePatterns(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	projectRoot := getRuntimeCtx(ctx).projectRoot

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(resolvePath(projectRoot, ".", base, pattern))

		var words []*syntax.Word
		err := parser.Words(strings.NewReader(pattern), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", pattern)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", pattern)
		}

		for _, match := range matches {
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunTask validates the closure of the named task and executes it. Every task in
// the closure runs at most once. The first failure aborts the run and is returned.
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, dryRun, force bool) error {
	taskMeta, err := tasks.Lookup(task)
	if err != nil {
		return err
	}

	err = tasks.Validate(task)
	if err != nil {
		return err
	}

	rctx := runtimeCtx{
		record:      newExecRecord(),
		tasks:       tasks,
		projectRoot: projectRoot,
		dryRun:      dryRun,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	err = runTaskInternal(ctx, taskMeta, nil, force, true)

	if first := rctx.record.failure(); first != nil {
		return first
	}
	return err
}

func runTaskInternal(ctx context.Context, task *Task, ancestors []string, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	for _, name := range ancestors {
		if name == task.Short {
			err := &TaskError{
				Task: task.Short,
				Kind: KindCycle,
				Err:  eris.Wrapf(ErrCycle, "%s was called recursively", task.Short),
			}
			rctx.record.abort(err)
			return err
		}
	}

	run, owner := rctx.record.claim(task.Short)
	if !owner {
		log(ctx).Debug().Msgf("Task %s already %s", task.Short, rctx.record.State(task.Short))
		return rctx.record.wait(ctx, run)
	}

	path := make([]string, len(ancestors), len(ancestors)+1)
	copy(path, ancestors)
	path = append(path, task.Short)

	err := executeTask(ctx, task, path, force, canSkip)
	rctx.record.finish(run, err)
	return err
}

func executeTask(ctx context.Context, task *Task, path []string, force, canSkip bool) error {
	rctx := getRuntimeCtx(ctx)

	for _, group := range task.Deps {
		if rctx.record.isAborted() {
			return errAborted
		}

		err := runGroup(ctx, task, group, path)
		if err != nil {
			return err
		}
	}

	// a sibling branch may have failed while the last group was running
	if rctx.record.isAborted() {
		return errAborted
	}

	if canSkip && !force {
		upToDate, err := checkUpToDate(ctx, task)
		if err != nil {
			return fail(ctx, task, err)
		}

		if upToDate {
			return nil
		}
	}

	logger := log(ctx).With().Str("task", task.Short).Logger()
	taskCtx := WithLogger(ctx, &logger)

	if task.Action != nil {
		if rctx.dryRun {
			logger.Info().Msg("dry run, skipping action")
		} else {
			logger.Debug().Msg("running")
			err := task.Action(taskCtx)
			if err != nil {
				return fail(ctx, task, err)
			}
		}
	}

	if len(task.Cmds) == 0 {
		return nil
	}

	// With the dependencies and skip checks done, we can finally start executing
	runner, err := newInterp(task.Base, getTaskEnv(task), os.Stdout, os.Stderr)
	if err != nil {
		return fail(ctx, task, err)
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	var line strings.Builder

	for idx, step := range task.Cmds {
		if step.Task != nil {
			err = runTaskInternal(ctx, step.Task, path, force, true)
			if err != nil {
				return err
			}
			continue
		}

		file, err := parser.Parse(strings.NewReader(step.Script), fmt.Sprintf("%s:%d", task.Short, idx))
		if err != nil {
			return fail(ctx, task, eris.Wrapf(err, "failed to parse %s", step.Script))
		}

		for _, stmt := range file.Stmts {
			line.Reset()
			if err = printer.Print(&line, stmt); err != nil {
				return fail(ctx, task, err)
			}

			logger.Info().Bool("command", true).Msg(line.String())
			if rctx.dryRun {
				continue
			}

			if err = runner.Run(ctx, stmt); err != nil {
				return fail(ctx, task, commandFailure(line.String(), err))
			}

			if runner.Exited() {
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return fail(ctx, task, err)
		}
	}

	return nil
}

func runGroup(ctx context.Context, task *Task, group Group, path []string) error {
	if len(group) == 1 {
		return runDependency(ctx, task, group[0], path)
	}

	var members errgroup.Group
	for _, dep := range group {
		dep := dep
		members.Go(func() error {
			return runDependency(ctx, task, dep, path)
		})
	}

	return members.Wait()
}

func runDependency(ctx context.Context, task *Task, dep string, path []string) error {
	rctx := getRuntimeCtx(ctx)

	depTask, err := rctx.tasks.Lookup(dep)
	if err != nil {
		rctx.record.abort(err)
		return err
	}

	err = runTaskInternal(ctx, depTask, path, false, true)
	if err != nil && err != errAborted {
		log(ctx).Debug().Msgf("Task %s failed due to its dependency %s", task.Short, dep)
	}
	return err
}

// fail records err as the failure of task and raises the abort flag.
func fail(ctx context.Context, task *Task, err error) error {
	taskErr := &TaskError{
		Task: task.Short,
		Kind: kindOf(err),
		Err:  err,
	}

	getRuntimeCtx(ctx).record.abort(taskErr)
	return taskErr
}

func commandFailure(script string, err error) error {
	status, ok := exitStatus(err)
	if !ok {
		return err
	}
	return &CommandError{Script: script, ExitCode: status}
}

func checkUpToDate(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatterns(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")

		return true, nil
	}

	var newestInput time.Time
	inputList, err := resolvePatterns(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatterns(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().Sub(newestInput) > 0 {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if err == nil {
			mt := info.ModTime()
			if mt.Sub(newestOutput) > 0 {
				newestOutput = mt
			}

			if oldestOutput.Sub(mt) > 0 {
				oldestOutput = mt
			}
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if newestOutput.Sub(newestInput) > 0 {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", newestOutput.Sub(newestInput).Seconds())

		return true, nil
	}

	return false, nil
}
