package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// CommandResult is the observable outcome of a shell script.
type CommandResult struct {
	ExitCode int
	Output   string
}

// CommandError is returned when a script exits with a non-zero status.
type CommandError struct {
	Script   string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Script, e.ExitCode)

	detail := strings.TrimSpace(e.Output)
	if detail != "" {
		lines := strings.Split(detail, "\n")
		if len(lines) > 3 {
			lines = lines[len(lines)-3:]
		}
		msg += ": " + strings.Join(lines, " | ")
	}
	return msg
}

// Shell runs scripts on the mvdan.cc/sh interpreter. It implements the command
// executor used by task actions.
type Shell struct {
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// NewShell returns a Shell that runs scripts in dir. Output is captured and, if
// stdout or stderr are not nil, copied to them as well.
func NewShell(dir string, env map[string]string, stdout, stderr io.Writer) *Shell {
	return &Shell{
		Dir:    dir,
		Env:    env,
		Stdout: stdout,
		Stderr: stderr,
	}
}

// Exec parses and runs script with "set -e" semantics. Any non-zero exit status
// is returned as *CommandError together with the captured output.
func (s *Shell) Exec(ctx context.Context, script string) (CommandResult, error) {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), "exec")
	if err != nil {
		return CommandResult{}, eris.Wrapf(err, "failed to parse command %s", script)
	}

	var output bytes.Buffer
	stdout := io.Writer(&output)
	stderr := io.Writer(&output)
	if s.Stdout != nil {
		stdout = io.MultiWriter(&output, s.Stdout)
	}
	if s.Stderr != nil {
		stderr = io.MultiWriter(&output, s.Stderr)
	}

	runner, err := newInterp(s.Dir, envList(s.Env), stdout, stderr)
	if err != nil {
		return CommandResult{}, err
	}

	log(ctx).Debug().Str("dir", s.Dir).Bool("command", true).Msg(script)

	err = runner.Run(ctx, file)
	result := CommandResult{Output: output.String()}
	if err != nil {
		if status, ok := exitStatus(err); ok {
			result.ExitCode = status
			return result, &CommandError{Script: script, ExitCode: status, Output: result.Output}
		}

		return result, eris.Wrapf(err, "failed to run %s", script)
	}

	return result, nil
}

func exitStatus(err error) (int, bool) {
	status, ok := interp.IsExitStatus(err)
	return int(status), ok
}

func envList(env map[string]string) expand.Environ {
	envVars := os.Environ()

	for name, value := range env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

func getTaskEnv(task *Task) expand.Environ {
	return envList(task.Env)
}

func newInterp(dir string, env expand.Environ, stdout, stderr io.Writer) (*interp.Runner, error) {
	if dir == "" {
		dir = "."
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(env),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}
	return runner, nil
}

var defaultExecHandler = interp.DefaultExecHandler(2)

// PosixHelper is the executable providing the mv, rm, mkdir and cp subcommands.
// If empty, the commands found in PATH are used.
var PosixHelper string

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir", "cp":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			if PosixHelper != "" {
				args = append([]string{PosixHelper}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

var (
	plainWord       = regexp.MustCompile(`^[A-Za-z0-9_./:=@%+,-]+$`)
	dblQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
)

func quoteWord(value string) *syntax.Word {
	var part syntax.WordPart
	switch {
	case plainWord.MatchString(value):
		part = &syntax.Lit{Value: value}
	case strings.Contains(value, "'"):
		part = &syntax.DblQuoted{Parts: []syntax.WordPart{
			&syntax.Lit{Value: dblQuoteEscaper.Replace(value)},
		}}
	default:
		part = &syntax.SglQuoted{Value: value}
	}

	return &syntax.Word{Parts: []syntax.WordPart{part}}
}

// Command formats args as a single shell command. Every argument is quoted as needed
// so it reaches the program unchanged.
func Command(args ...string) string {
	call := &syntax.CallExpr{Args: make([]*syntax.Word, len(args))}
	for idx, arg := range args {
		call.Args[idx] = quoteWord(arg)
	}

	var buffer strings.Builder
	err := syntax.NewPrinter().Print(&buffer, call)
	if err != nil {
		// writing to a strings.Builder never fails
		panic(err)
	}
	return buffer.String()
}
