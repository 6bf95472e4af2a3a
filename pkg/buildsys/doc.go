// Package buildsys implements the task runner behind the needle build tools.
//
// Tasks live in a TaskList and declare their dependencies as an ordered list of
// groups. A group with a single name is a sequential step; a group with several
// names runs its members concurrently and waits for all of them before the next
// group starts. RunTask executes the closure of a task at most once per task and
// aborts on the first failure.
//
// Tasks are either registered from Go (with an Action) or declared in a Starlark
// tasks.star script whose commands run on the mvdan.cc/sh shell runtime.
package buildsys
