package cli

import (
	"github.com/spf13/cobra"
	"paratest/cmd/cli/runcmd"
	"paratest/internal/config"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the available plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)
		runcmd.SetupLogger(cmd, conf)

		return runcmd.NewCoordinator(conf, nil).ListPlugins(cmd.OutOrStdout())
	},
}
