package buildsys

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// task(short, desc, deps, cmds, ...) declares a task inside configure(). Without a
// short name the task is hidden and can only be used as an entry in another task's cmds.
func taskBuiltin(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		deps, cmds                    *starlark.List
		skipIfExists, inputs, outputs *starlark.List
		env                           *starlark.Dict
	)

	task := &Task{Env: map[string]string{}}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"short??", &task.Short, "desc?", &task.Desc, "hidden?", &task.Hidden,
		"deps?", &deps, "cmds?", &cmds, "base?", &task.Base, "env?", &env,
		"skip_if_exists?", &skipIfExists, "inputs?", &inputs, "outputs?", &outputs)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if !state.configuring {
		return nil, eris.Errorf("%s: tasks have to be declared inside configure()", fn.Name())
	}

	if task.Short == "" {
		task.Short = "inline#" + nanoid.New()
		task.Hidden = true
	}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = state.resolve(task.Base)

	task.Deps, err = depGroups(deps)
	if err == nil {
		err = readEnv(task.Env, env)
	}
	if err == nil {
		task.Cmds, err = taskSteps(task.Base, cmds)
	}
	if err == nil {
		task.SkipIfExists, err = optionalStrings(skipIfExists, "skip_if_exists")
	}
	if err == nil {
		task.Inputs, err = optionalStrings(inputs, "inputs")
	}
	if err == nil {
		task.Outputs, err = optionalStrings(outputs, "outputs")
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s: task %s", state.where(thread), task.Short)
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		state.warnf(thread, "task %s has inputs but no outputs and will always run", task.Short)
	}

	state.tasks = append(state.tasks, task)
	return task, nil
}

// depGroups converts deps = ["clean", ["lint", "test"]] into one sequential group
// per string and one concurrent group per nested list.
func depGroups(list *starlark.List) ([]Group, error) {
	groups := []Group{}
	if list == nil {
		return groups, nil
	}

	for idx := 0; idx < list.Len(); idx++ {
		switch item := list.Index(idx).(type) {
		case starlark.String:
			groups = append(groups, Group{item.GoString()})
		case *Task:
			if item.Hidden {
				return nil, eris.Errorf("deps[%d]: hidden task %s can't be a dependency", idx, item.Short)
			}
			groups = append(groups, Group{item.Short})
		case starlark.Indexable:
			names, err := stringList(item, fmt.Sprintf("deps[%d]", idx))
			if err != nil {
				return nil, err
			}

			if len(names) > 0 {
				groups = append(groups, Group(names))
			}
		default:
			return nil, eris.Errorf("deps[%d] is a %s, want string, task or list of strings", idx, item.Type())
		}
	}

	return groups, nil
}

func readEnv(dest map[string]string, env *starlark.Dict) error {
	if env == nil {
		return nil
	}

	for _, item := range env.Items() {
		key, keyOk := starlark.AsString(item[0])
		value, valueOk := starlark.AsString(item[1])
		if !keyOk || !valueOk {
			return eris.Errorf("env entries have to be strings but found %s = %s", item[0].Type(), item[1].Type())
		}
		dest[key] = value
	}
	return nil
}

// taskSteps converts the cmds list. Strings are kept as shell snippets, lists of
// arguments are quoted into a single command and tasks run inline.
func taskSteps(base string, cmds *starlark.List) ([]Step, error) {
	steps := []Step{}
	if cmds == nil {
		return steps, nil
	}

	for idx := 0; idx < cmds.Len(); idx++ {
		switch item := cmds.Index(idx).(type) {
		case starlark.String:
			steps = append(steps, Step{Script: item.GoString()})
		case *Task:
			steps = append(steps, Step{Task: item})
		case starlark.Indexable:
			args, err := stringList(item, fmt.Sprintf("cmds[%d]", idx))
			if err != nil {
				return nil, err
			}

			if len(args) == 0 {
				return nil, eris.Errorf("cmds[%d] is empty", idx)
			}

			for pos, arg := range args {
				args[pos] = relativeArg(base, arg)
			}
			steps = append(steps, Step{Script: Command(args...)})
		default:
			return nil, eris.Errorf("cmds[%d] is a %s, want string, list or task", idx, item.Type())
		}
	}

	return steps, nil
}

// relativeArg shortens absolute paths below base. Absolute paths break some tools on Windows.
func relativeArg(base, arg string) string {
	if !filepath.IsAbs(arg) {
		return arg
	}

	rel, err := filepath.Rel(base, arg)
	if err != nil || strings.HasPrefix(rel, "..") {
		return arg
	}
	return filepath.ToSlash(rel)
}

func optionalStrings(list *starlark.List, field string) ([]string, error) {
	if list == nil {
		return []string{}, nil
	}
	return stringList(list, field)
}
