package buildsys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

const scriptStateKey = "buildsys.script"

// scriptState is shared by all builtins while a tasks.star file is evaluated.
type scriptState struct {
	ctx         context.Context
	file        string
	projectRoot string
	options     map[string]ScriptOption
	values      map[string]string
	env         map[string]string
	documents   map[string]interface{}
	tasks       []*Task
	configuring bool
}

func stateOf(thread *starlark.Thread) *scriptState {
	return thread.Local(scriptStateKey).(*scriptState)
}

// resolve joins parts relative to the script's directory. A part starting with "//"
// is relative to the project root instead.
func (s *scriptState) resolve(parts ...string) string {
	return resolvePath(s.projectRoot, filepath.Dir(s.file), parts...)
}

// where returns the script position of the statement that called the current builtin.
func (s *scriptState) where(thread *starlark.Thread) string {
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", displayPath(s.projectRoot, s.file), pos.Line, pos.Col)
}

func (s *scriptState) warnf(thread *starlark.Thread, format string, args ...interface{}) {
	log(s.ctx).Warn().Msgf("%s: %s", s.where(thread), fmt.Sprintf(format, args...))
}

func resolvePath(projectRoot, dir string, parts ...string) string {
	result := dir
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "//"):
			result = filepath.Join(projectRoot, part[2:])
		case filepath.IsAbs(part):
			result = part
		default:
			result = filepath.Join(result, part)
		}
	}

	return filepath.Clean(result)
}

// displayPath shortens paths inside the project root to the "//dir/file" form.
func displayPath(projectRoot, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(projectRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

// RunScript evaluates a tasks.star file and returns the options it declared. If
// doConfigure is set, the script's configure() function is called afterwards and the
// tasks it declared are returned as well.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	source, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	state := &scriptState{
		ctx:         ctx,
		file:        filename,
		projectRoot: projectRoot,
		options:     map[string]ScriptOption{},
		values:      options,
		env:         map[string]string{},
		documents:   map[string]interface{}{},
	}

	name := displayPath(projectRoot, filename)
	thread := &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("script", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal(scriptStateKey, state)

	globals, err := starlark.ExecFile(thread, name, source, scriptBuiltins())
	if err != nil {
		return nil, nil, scriptError(name, err)
	}

	tasks := TaskList{}
	if !doConfigure {
		return tasks, state.options, nil
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s did not declare a configure function", name)
	}

	state.configuring = true
	_, err = starlark.Call(thread, configure, nil, nil)
	if err != nil {
		return nil, nil, scriptError(name, err)
	}

	for _, task := range state.tasks {
		// setenv() applies to every task unless the task sets the variable itself
		for key, value := range state.env {
			if _, ok := task.Env[key]; !ok {
				task.Env[key] = value
			}
		}

		if !task.Hidden {
			tasks.Add(task)
		}
	}

	return tasks, state.options, nil
}

func scriptError(name string, err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return eris.Errorf("%s failed:\n%s", name, evalErr.Backtrace())
	}
	return eris.Wrapf(err, "%s failed", name)
}
