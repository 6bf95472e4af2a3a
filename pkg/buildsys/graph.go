package buildsys

import (
	"strings"

	"github.com/rotisserie/eris"
)

const (
	unvisited = iota
	visiting
	visited
)

type graphWalker struct {
	tasks TaskList
	marks map[string]int
	path  []string
}

// Validate checks the closure of the named task before anything runs: every
// referenced name must be registered and the graph must not contain cycles.
func (l TaskList) Validate(root string) error {
	task, err := l.Lookup(root)
	if err != nil {
		return err
	}

	w := graphWalker{
		tasks: l,
		marks: make(map[string]int),
	}
	return w.visit(task)
}

func (w *graphWalker) visit(task *Task) error {
	switch w.marks[task.Short] {
	case visited:
		return nil
	case visiting:
		start := 0
		for idx, name := range w.path {
			if name == task.Short {
				start = idx
				break
			}
		}
		cycle := append(append([]string{}, w.path[start:]...), task.Short)
		return &TaskError{
			Task: task.Short,
			Kind: KindCycle,
			Err:  eris.Wrap(ErrCycle, strings.Join(cycle, " -> ")),
		}
	}

	w.marks[task.Short] = visiting
	w.path = append(w.path, task.Short)

	for _, group := range task.Deps {
		for _, dep := range group {
			depTask, ok := w.tasks[dep]
			if !ok {
				return &TaskError{Task: dep, Kind: KindNotFound, Err: ErrTaskNotFound}
			}

			if err := w.visit(depTask); err != nil {
				return err
			}
		}
	}

	for _, step := range task.Cmds {
		if step.Task != nil {
			if err := w.visit(step.Task); err != nil {
				return err
			}
		}
	}

	w.path = w.path[:len(w.path)-1]
	w.marks[task.Short] = visited
	return nil
}
