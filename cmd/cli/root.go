package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"paratest/cmd/cli/runcmd"
	"paratest/internal/exitcode"
)

var RootCmd = &cobra.Command{
	Use:   "paratest",
	Short: "paratest - Run tests in parallel, slowest last",
	Long: `paratest discovers the tests of a source tree through a plugin and runs them on a pool of
parallel workers, each in its own workspace. Tests are ordered by their average duration over the
last executions, so new and fast tests run first.

Hooks can be configured around the whole run, every workspace and every test.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(runcmd.ServeCommand)
	RootCmd.AddCommand(pluginsCmd)
	RootCmd.AddCommand(showCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(exitcode.Error)
	}
}
