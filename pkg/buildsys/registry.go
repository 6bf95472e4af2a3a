package buildsys

import (
	"sort"
)

// Par returns a group whose members run concurrently.
func Par(names ...string) Group {
	return Group(names)
}

// Seq returns one single-member group per name. The groups run in the given order.
func Seq(names ...string) []Group {
	result := make([]Group, len(names))
	for idx, name := range names {
		result[idx] = Group{name}
	}
	return result
}

// Register adds the named task or replaces an existing task with the same name.
// Dependencies don't have to be registered yet; they are resolved when the task runs.
func (l TaskList) Register(name string, deps []Group, action Action) *Task {
	task := &Task{
		Short:  name,
		Base:   ".",
		Env:    map[string]string{},
		Deps:   deps,
		Action: action,
	}

	l[name] = task
	return task
}

// Add stores a fully built task under its short name, replacing any previous entry.
func (l TaskList) Add(task *Task) {
	if task.Env == nil {
		task.Env = map[string]string{}
	}
	l[task.Short] = task
}

// Lookup returns the named task or a TaskNotFound error.
func (l TaskList) Lookup(name string) (*Task, error) {
	task, ok := l[name]
	if !ok {
		return nil, &TaskError{Task: name, Kind: KindNotFound, Err: ErrTaskNotFound}
	}
	return task, nil
}

// Names returns the sorted names of all tasks that aren't hidden.
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// Merge copies every task from other into l. Tasks in other win on conflicts.
func (l TaskList) Merge(other TaskList) {
	for _, task := range other {
		l.Add(task)
	}
}
