package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaysalvat/needle/build-tools/pkg/buildsys"
	taskcmd "github.com/jaysalvat/needle/build-tools/pkg/buildsys/cmd"
	"github.com/jaysalvat/needle/build-tools/pkg/config"
	"github.com/jaysalvat/needle/build-tools/pkg/release"
)

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build tools for Needle",
	Long: `This command bundles the tools that are used to build and release Needle.
This includes the task runner, cross-platform file helpers and archive packers.`,
}

func init() {
	rootCmd.AddCommand(taskcmd.NewTaskCommand(taskcmd.Project{
		Markers: []string{config.FileName, "package.json"},
		Logging: config.Logging,
		Setup:   release.Setup,
	}))
}

func Execute() {
	// scripts run mv, rm, mkdir and cp through this binary
	exe, err := os.Executable()
	if err == nil {
		buildsys.PosixHelper = exe
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
