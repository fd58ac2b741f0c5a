package runcmd

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"paratest/internal/api"
	"paratest/internal/config"
	"paratest/internal/persistence"
)

var ServeCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded timings and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := config.FromCobraCmd(cmd)
		SetupLogger(cmd, conf)

		if cmd.Flags().Changed("host") {
			conf.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			conf.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		db := MustDatabase(conf)
		defer func() {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store := persistence.New(db)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		return api.New(store).ListenAndServe(ctx, conf.Server.Addr())
	},
}

func init() {
	ServeCommand.Flags().String("host", "127.0.0.1", "address to listen on")
	ServeCommand.Flags().Int("port", 8080, "port to listen on")
}
