package buildsys

import (
	"context"
	"sync"
)

// TaskState is the state of a task within one RunTask call.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	default:
		return "pending"
	}
}

type taskRun struct {
	state TaskState
	err   error
	done  chan struct{}
}

// execRecord tracks every task reached during a single RunTask call. It is owned
// by that call and discarded afterwards.
type execRecord struct {
	lock     sync.Mutex
	runs     map[string]*taskRun
	aborted  bool
	firstErr error
}

func newExecRecord() *execRecord {
	return &execRecord{
		runs: make(map[string]*taskRun),
	}
}

// claim returns the entry for name. owner is true if the caller moved the task from
// Pending to Running and is now responsible for executing it.
func (r *execRecord) claim(name string) (run *taskRun, owner bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	run, ok := r.runs[name]
	if ok {
		return run, false
	}

	run = &taskRun{
		state: TaskRunning,
		done:  make(chan struct{}),
	}
	r.runs[name] = run
	return run, true
}

func (r *execRecord) finish(run *taskRun, err error) {
	r.lock.Lock()
	if err == nil {
		run.state = TaskCompleted
	} else {
		run.state = TaskFailed
		run.err = err
	}
	r.lock.Unlock()

	close(run.done)
}

// wait blocks until a task claimed by somebody else reaches a terminal state.
func (r *execRecord) wait(ctx context.Context, run *taskRun) error {
	select {
	case <-run.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	return run.err
}

// abort stores the first failure. Later failures are discarded.
func (r *execRecord) abort(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.aborted {
		r.aborted = true
		r.firstErr = err
	}
}

func (r *execRecord) isAborted() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.aborted
}

func (r *execRecord) failure() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.firstErr
}

// State returns the state of the named task. Tasks that were never reached are pending.
func (r *execRecord) State(name string) TaskState {
	r.lock.Lock()
	defer r.lock.Unlock()

	run, ok := r.runs[name]
	if !ok {
		return TaskPending
	}
	return run.state
}
