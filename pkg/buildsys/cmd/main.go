// Package cmd implements a simple CLI for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
)

// ScriptName is the optional task script looked up in the project root.
const ScriptName = "tasks.star"

// Setup registers the built-in tasks of a project. It runs before the task script is
// loaded so that script tasks can depend on (or replace) built-in ones.
type Setup func(ctx context.Context, projectRoot string, options map[string]string, tasks buildsys.TaskList) error

// Project describes how the task command finds and loads a project.
type Project struct {
	// Markers are the file names identifying the project root next to tasks.star.
	// The first directory containing one of them wins.
	Markers []string
	// Logging returns the configured log level and whether events are printed as JSON.
	Logging func(projectRoot string) (zerolog.Level, bool, error)
	Setup   Setup
}

// NewTaskCommand returns the "task" command for the given project.
func NewTaskCommand(project Project) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task [task...] [option=value...]",
		Short: "Runs build tasks",
		Long: `This command registers the project tasks, loads the optional tasks.star file
and executes the given tasks. Without task names, the available tasks are listed.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			dryRun, err := flags.GetBool("dry")
			if err != nil {
				return err
			}

			force, err := flags.GetBool("force")
			if err != nil {
				return err
			}

			jsonOutput, err := flags.GetBool("json")
			if err != nil {
				return err
			}

			verbose, err := flags.GetBool("verbose")
			if err != nil {
				return err
			}

			taskArgs, options := splitArgs(args)
			if flags.Changed("type") {
				options["type"], err = flags.GetString("type")
				if err != nil {
					return err
				}
			}

			logger := newLogger(zerolog.InfoLevel, jsonOutput, verbose)

			wd, err := os.Getwd()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve the current working directory")
			}

			markers := append([]string{ScriptName}, project.Markers...)
			projectRoot, err := FindProjectRoot(wd, markers...)
			if err != nil {
				logger.Error().Err(err).Msg("No project found")
				return err
			}

			if project.Logging != nil {
				level, configJSON, err := project.Logging(projectRoot)
				if err != nil {
					logger.Error().Err(err).Msg("Failed to load the config")
					return err
				}

				if !flags.Changed("json") {
					jsonOutput = configJSON
				}
				logger = newLogger(level, jsonOutput, verbose)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = buildsys.WithLogger(ctx, &logger)

			taskList, err := LoadTaskList(ctx, projectRoot, options, project.Setup)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to load tasks")
				return err
			}

			for _, name := range taskArgs {
				err = buildsys.RunTask(ctx, projectRoot, name, taskList, dryRun, force)
				if err != nil {
					logger.Error().Err(err).Msgf("Failed task %s:", name)
					return err
				}
			}

			if len(taskArgs) == 0 {
				PrintTaskList(cmd.OutOrStdout(), taskList)
			}

			return nil
		},
	}

	taskCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	taskCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	taskCmd.Flags().String("type", "patch", "release increment: major, minor or patch")
	taskCmd.Flags().Bool("json", false, "print log events as JSON")
	taskCmd.Flags().BoolP("verbose", "v", false, "print debug messages")

	return taskCmd
}

func newLogger(level zerolog.Level, jsonOutput, verbose bool) zerolog.Logger {
	var logger zerolog.Logger
	if jsonOutput {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter())
	}

	if verbose {
		level = zerolog.DebugLevel
	}
	return logger.Level(level)
}

func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0)
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

// FindProjectRoot walks up from dir until it finds a directory containing one of markers.
func FindProjectRoot(dir string, markers ...string) (string, error) {
	path := dir
	for {
		for _, marker := range markers {
			_, err := os.Stat(filepath.Join(path, marker))
			if err == nil {
				return path, nil
			}
			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrapf(err, "failed to check %s", filepath.Join(path, marker))
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("none of %s found in %s or its parents", strings.Join(markers, ", "), dir)
		}

		path = parent
	}
}

// LoadTaskList registers the built-in tasks and merges the tasks declared by the
// project's task script, if there is one.
func LoadTaskList(ctx context.Context, projectRoot string, options map[string]string, setup Setup) (buildsys.TaskList, error) {
	taskList := buildsys.TaskList{}
	if setup != nil {
		err := setup(ctx, projectRoot, options, taskList)
		if err != nil {
			return nil, err
		}
	}

	scriptPath := filepath.Join(projectRoot, ScriptName)
	_, err := os.Stat(scriptPath)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return taskList, nil
		}
		return nil, eris.Wrapf(err, "failed to check %s", scriptPath)
	}

	scriptTasks, err := buildsys.LoadTasks(ctx, scriptPath, projectRoot, options)
	if err != nil {
		return nil, err
	}

	taskList.Merge(scriptTasks)
	return taskList, nil
}

// PrintTaskList prints the visible tasks and their descriptions.
func PrintTaskList(out io.Writer, taskList buildsys.TaskList) {
	fmt.Fprintln(out, "Available tasks:")
	maxNameLen := 0
	sortedNames := taskList.Names()
	for _, name := range sortedNames {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		fmt.Fprintf(out, lineFmt, name+":", taskList[name].Desc)
	}
}
