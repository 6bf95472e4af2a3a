package buildsys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

type actionRecorder struct {
	lock   sync.Mutex
	events []string
	counts map[string]int
}

func newActionRecorder() *actionRecorder {
	return &actionRecorder{counts: make(map[string]int)}
}

func (r *actionRecorder) record(event string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, event)
}

func (r *actionRecorder) action(name string, delay time.Duration, err error) Action {
	return func(ctx context.Context) error {
		r.record("start:" + name)
		r.lock.Lock()
		r.counts[name]++
		r.lock.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		r.record("end:" + name)
		return err
	}
}

func (r *actionRecorder) count(name string) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.counts[name]
}

func (r *actionRecorder) index(event string) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	for idx, item := range r.events {
		if item == event {
			return idx
		}
	}
	return -1
}

func runTask(t *testing.T, tasks TaskList, name string) error {
	t.Helper()
	return RunTask(context.Background(), t.TempDir(), name, tasks, false, false)
}

func TestRunTaskSharedDependencyRunsOnce(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, nil))
	tasks.Register("B", Seq("A"), rec.action("B", 0, nil))
	tasks.Register("C", Seq("A"), rec.action("C", 0, nil))
	tasks.Register("D", []Group{Par("B", "C")}, rec.action("D", 0, nil))

	require.NoError(t, runTask(t, tasks, "D"))

	require.Equal(t, 1, rec.count("A"))
	require.Equal(t, 1, rec.count("B"))
	require.Equal(t, 1, rec.count("C"))
	require.Equal(t, 1, rec.count("D"))

	require.Less(t, rec.index("end:A"), rec.index("start:B"))
	require.Less(t, rec.index("end:A"), rec.index("start:C"))
	require.Greater(t, rec.index("start:D"), rec.index("end:B"))
	require.Greater(t, rec.index("start:D"), rec.index("end:C"))
}

func TestRunTaskConcurrentReachWaitsForRunningDependency(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 30*time.Millisecond, nil))
	tasks.Register("B", Seq("A"), rec.action("B", 0, nil))
	tasks.Register("C", Seq("A"), rec.action("C", 0, nil))
	tasks.Register("root", []Group{Par("B", "C")}, nil)

	require.NoError(t, runTask(t, tasks, "root"))

	require.Equal(t, 1, rec.count("A"))
	require.Less(t, rec.index("end:A"), rec.index("start:B"))
	require.Less(t, rec.index("end:A"), rec.index("start:C"))
}

func TestRunTaskGroupMembersRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)

	rendezvous := func(ctx context.Context) error {
		started.Done()

		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()

		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return eris.New("group members did not run concurrently")
		}
	}

	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("B", nil, rendezvous)
	tasks.Register("C", nil, rendezvous)
	tasks.Register("D", nil, rec.action("D", 0, nil))
	tasks.Register("A", []Group{Par("B", "C"), {"D"}}, nil)

	require.NoError(t, runTask(t, tasks, "A"))
	require.Equal(t, 1, rec.count("D"))
}

func TestRunTaskNextGroupWaitsForWholeGroup(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("B", nil, rec.action("B", 40*time.Millisecond, nil))
	tasks.Register("C", nil, rec.action("C", 5*time.Millisecond, nil))
	tasks.Register("D", nil, rec.action("D", 0, nil))
	tasks.Register("A", []Group{Par("B", "C"), {"D"}}, rec.action("A", 0, nil))

	require.NoError(t, runTask(t, tasks, "A"))

	require.Greater(t, rec.index("start:D"), rec.index("end:B"))
	require.Greater(t, rec.index("start:D"), rec.index("end:C"))
	require.Greater(t, rec.index("start:A"), rec.index("end:D"))
}

func TestRunTaskDependencyFailureSkipsOwnAction(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, eris.New("boom")))
	tasks.Register("B", Seq("A"), rec.action("B", 0, nil))

	err := runTask(t, tasks, "B")
	require.Error(t, err)

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "A", taskErr.Task)
	require.Equal(t, KindAction, taskErr.Kind)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, 0, rec.count("B"))
}

func TestRunTaskGuardFailureAbortsLaterGroups(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("guard1", nil, func(ctx context.Context) error {
		return Precondition("Branch is not %s", "master")
	})
	tasks.Register("guard2", nil, rec.action("guard2", 50*time.Millisecond, nil))
	tasks.Register("step3", nil, rec.action("step3", 0, nil))
	tasks.Register("step4", nil, rec.action("step4", 0, nil))
	tasks.Register("release", append([]Group{Par("guard1", "guard2")}, Seq("step3", "step4")...), rec.action("release", 0, nil))

	err := runTask(t, tasks, "release")
	require.Error(t, err)
	require.True(t, IsPrecondition(err))
	require.Contains(t, err.Error(), "Branch is not master")

	// the sibling was allowed to finish
	require.Equal(t, 1, rec.count("guard2"))
	require.NotEqual(t, -1, rec.index("end:guard2"))

	require.Equal(t, 0, rec.count("step3"))
	require.Equal(t, 0, rec.count("step4"))
	require.Equal(t, 0, rec.count("release"))
}

func TestRunTaskAbortStopsSiblingBranches(t *testing.T) {
	rec := newActionRecorder()
	slowStarted := make(chan struct{})
	slow := rec.action("slow", 50*time.Millisecond, nil)

	tasks := TaskList{}
	tasks.Register("fail", nil, func(ctx context.Context) error {
		<-slowStarted
		return eris.New("fail")
	})
	tasks.Register("slow", nil, func(ctx context.Context) error {
		close(slowStarted)
		return slow(ctx)
	})
	tasks.Register("q2", nil, rec.action("q2", 0, nil))
	tasks.Register("P", Seq("fail"), rec.action("P", 0, nil))
	tasks.Register("Q", Seq("slow", "q2"), rec.action("Q", 0, nil))
	tasks.Register("R", nil, rec.action("R", 0, nil))
	tasks.Register("root", []Group{Par("P", "Q"), {"R"}}, nil)

	err := runTask(t, tasks, "root")
	require.Error(t, err)

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "fail", taskErr.Task)

	require.Equal(t, 1, rec.count("slow"))
	require.Equal(t, 0, rec.count("q2"))
	require.Equal(t, 0, rec.count("Q"))
	require.Equal(t, 0, rec.count("R"))
}

func TestRunTaskAbortSkipsActionAfterLastGroup(t *testing.T) {
	rec := newActionRecorder()
	slowStarted := make(chan struct{})

	tasks := TaskList{}
	tasks.Register("fail", nil, func(ctx context.Context) error {
		<-slowStarted
		return eris.New("fail")
	})
	tasks.Register("slow", nil, func(ctx context.Context) error {
		close(slowStarted)

		// keep running until the sibling failure was recorded
		deadline := time.Now().Add(2 * time.Second)
		for !getRuntimeCtx(ctx).record.isAborted() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return rec.action("slow", 0, nil)(ctx)
	})
	tasks.Register("Q", Seq("slow"), rec.action("Q", 0, nil))
	tasks.Register("root", []Group{Par("fail", "Q")}, nil)

	err := runTask(t, tasks, "root")
	require.Error(t, err)

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "fail", taskErr.Task)

	require.Equal(t, 1, rec.count("slow"))
	require.Equal(t, 0, rec.count("Q"))
}

func TestRunTaskReportsFirstFailure(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("first", nil, rec.action("first", 0, eris.New("first failure")))
	tasks.Register("second", nil, rec.action("second", 40*time.Millisecond, eris.New("second failure")))
	tasks.Register("root", []Group{Par("first", "second")}, nil)

	err := runTask(t, tasks, "root")
	require.Error(t, err)
	require.Contains(t, err.Error(), "first failure")
	require.NotContains(t, err.Error(), "second failure")
	require.Equal(t, 1, rec.count("second"))
}

func TestRunTaskUnknownTask(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, nil))

	err := runTask(t, tasks, "missing")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.Equal(t, 0, rec.count("A"))
}

func TestRunTaskUnknownDependencyFailsBeforeAnyAction(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, nil))
	tasks.Register("B", Seq("A", "missing"), rec.action("B", 0, nil))

	err := runTask(t, tasks, "B")
	require.True(t, IsNotFound(err))

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "missing", taskErr.Task)
	require.Equal(t, 0, rec.count("A"))
}

func TestRunTaskCycle(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", Seq("B"), rec.action("A", 0, nil))
	tasks.Register("B", Seq("C"), rec.action("B", 0, nil))
	tasks.Register("C", Seq("A"), rec.action("C", 0, nil))

	err := runTask(t, tasks, "A")
	require.True(t, IsCycle(err))
	require.Contains(t, err.Error(), "A -> B -> C -> A")
	require.Equal(t, 0, rec.count("C"))
}

func TestRunTaskEmptyTaskSucceeds(t *testing.T) {
	tasks := TaskList{}
	tasks.Register("noop", nil, nil)

	require.NoError(t, runTask(t, tasks, "noop"))
}

func TestRunTaskDryRunSkipsActions(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, nil))
	tasks.Register("B", Seq("A"), rec.action("B", 0, nil))

	err := RunTask(context.Background(), t.TempDir(), "B", tasks, true, false)
	require.NoError(t, err)
	require.Equal(t, 0, rec.count("A"))
	require.Equal(t, 0, rec.count("B"))
}

func TestRunTaskFreshRecordPerInvocation(t *testing.T) {
	rec := newActionRecorder()
	tasks := TaskList{}
	tasks.Register("A", nil, rec.action("A", 0, nil))

	require.NoError(t, runTask(t, tasks, "A"))
	require.NoError(t, runTask(t, tasks, "A"))
	require.Equal(t, 2, rec.count("A"))
}

func TestRunTaskShellCommandFailure(t *testing.T) {
	tasks := TaskList{}
	tasks.Add(&Task{
		Short: "script",
		Base:  t.TempDir(),
		Cmds:  []Step{{Script: "true"}, {Script: "exit 3"}},
	})

	err := runTask(t, tasks, "script")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	require.Equal(t, 3, cmdErr.ExitCode)
}

func TestRunTaskInlineTaskReference(t *testing.T) {
	rec := newActionRecorder()
	inline := &Task{Short: "inline#1", Hidden: true, Action: rec.action("inline", 0, nil)}

	tasks := TaskList{}
	tasks.Add(&Task{
		Short: "outer",
		Base:  t.TempDir(),
		Cmds:  []Step{{Task: inline}, {Task: inline}},
	})

	require.NoError(t, runTask(t, tasks, "outer"))
	require.Equal(t, 1, rec.count("inline"))
}

func TestRunTaskSkipIfExists(t *testing.T) {
	base := t.TempDir()
	rec := newActionRecorder()

	tasks := TaskList{}
	task := tasks.Register("fetch", nil, rec.action("fetch", 0, nil))
	task.Base = base
	task.SkipIfExists = []string{"marker"}

	require.NoError(t, runTask(t, tasks, "fetch"))
	require.Equal(t, 1, rec.count("fetch"))

	require.NoError(t, os.WriteFile(filepath.Join(base, "marker"), []byte("ok"), 0o644))
	require.NoError(t, runTask(t, tasks, "fetch"))
	require.Equal(t, 1, rec.count("fetch"))

	require.NoError(t, RunTask(context.Background(), base, "fetch", tasks, false, true))
	require.Equal(t, 2, rec.count("fetch"))
}

func TestExecRecordStates(t *testing.T) {
	record := newExecRecord()
	require.Equal(t, TaskPending, record.State("A"))

	run, owner := record.claim("A")
	require.True(t, owner)
	require.Equal(t, TaskRunning, record.State("A"))

	_, owner = record.claim("A")
	require.False(t, owner)

	record.finish(run, eris.New("failed"))
	require.Equal(t, TaskFailed, record.State("A"))
	require.Error(t, record.wait(context.Background(), run))
}
