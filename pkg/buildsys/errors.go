package buildsys

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrTaskNotFound is the cause of every TaskError of kind KindNotFound.
	ErrTaskNotFound = eris.New("task not found")
	// ErrCycle is the cause of every TaskError of kind KindCycle.
	ErrCycle = eris.New("dependency cycle")

	errAborted = eris.New("run aborted")
)

// ErrorKind classifies task failures.
type ErrorKind int

const (
	KindAction ErrorKind = iota
	KindNotFound
	KindPrecondition
	KindCycle
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindPrecondition:
		return "precondition failed"
	case KindCycle:
		return "cycle"
	default:
		return "failed"
	}
}

// TaskError is returned by RunTask and Validate. Task names the task that failed
// (or the name that could not be resolved).
type TaskError struct {
	Task string
	Kind ErrorKind
	Err  error
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("task %s not found", e.Task)
	case KindCycle:
		return fmt.Sprintf("task %s: %s", e.Task, e.Err.Error())
	default:
		return fmt.Sprintf("task %s %s: %s", e.Task, e.Kind, e.Err.Error())
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// PreconditionError is returned by guard actions that refuse to continue,
// e.g. because the repository is dirty.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// Precondition builds a PreconditionError with a formatted reason.
func Precondition(format string, args ...interface{}) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

func kindOf(err error) ErrorKind {
	var precondition *PreconditionError
	if errors.As(err, &precondition) {
		return KindPrecondition
	}
	return KindAction
}

func hasKind(err error, kind ErrorKind) bool {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.Kind == kind
	}
	return false
}

// IsNotFound reports whether err was caused by an unregistered task name.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsPrecondition reports whether err was caused by a failing guard task.
func IsPrecondition(err error) bool {
	return hasKind(err, KindPrecondition)
}

// IsCycle reports whether err was caused by a dependency cycle.
func IsCycle(err error) bool {
	return hasKind(err, KindCycle)
}
