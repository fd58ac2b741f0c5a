package cli

import (
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"paratest/cmd/cli/runcmd"
	"paratest/internal/config"
	"paratest/internal/persistence"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the average duration of every recorded test",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)
		runcmd.SetupLogger(cmd, conf)

		db := runcmd.MustDatabase(conf)
		defer func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close db cleanly")
			}
		}()

		report, err := runcmd.NewCoordinator(conf, persistence.New(db)).Show(cmd.Context())
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.OutOrStdout(), report)
		return err
	},
}
