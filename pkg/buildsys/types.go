package buildsys

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// Action is the Go side of a task. It runs after all dependency groups succeeded.
// The passed context carries a logger scoped to the task (see Log).
type Action func(ctx context.Context) error

// Group is one element of a dependency list. A group with a single name is a
// sequential step, the members of a larger group run concurrently.
type Group []string

// Step is one entry in the command list of a script task. Either Script is set or
// Task points to an inline task which runs in its place.
type Step struct {
	Script string
	Task   *Task
}

// Task describes a named unit of work and the groups it depends on.
type Task struct {
	Short  string
	Desc   string
	Hidden bool
	Deps   []Group
	Action Action

	// Fields below are only set by tasks.star
	Base         string
	Env          map[string]string
	Cmds         []Step
	SkipIfExists []string
	Inputs       []string
	Outputs      []string
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// ScriptOption is a value declared with option() at the top level of tasks.star.
type ScriptOption struct {
	Default string
	Help    string
}

// Tasks are passed around in scripts as opaque values, for example as an entry in
// another task's cmds.
var _ starlark.Value = (*Task)(nil)

func (t *Task) String() string {
	return fmt.Sprintf("<task %s>", t.Short)
}

func (t *Task) Type() string {
	return "task"
}

func (t *Task) Freeze() {}

func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("unhashable type: task")
}
