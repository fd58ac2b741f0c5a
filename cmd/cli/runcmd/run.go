package runcmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"paratest/internal/api"
	"paratest/internal/config"
	"paratest/internal/exitcode"
	"paratest/internal/persistence"
	"paratest/internal/scheduler"
)

var Command = &cobra.Command{
	Use:   "run",
	Short: "Run the tests of a source tree",
	Long: `Discovers the tests of the source tree with the selected plugin and runs them on a pool of
workers. With --schedule the run repeats on a cron expression until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if code := run(cmd); code != exitcode.OK {
			os.Exit(code)
		}
	},
}

func init() {
	Command.Flags().String("path", ".", "source tree holding the tests")
	Command.Flags().String("pattern", "", "discovery pattern passed to the plugin")
	Command.Flags().IntP("workers", "n", 5, "number of parallel workers")
	Command.Flags().String("workspace", "workspaces", "directory holding one workspace per worker")
	Command.Flags().String("output", "output", "directory for test output")
	Command.Flags().StringP("plugin", "p", "", "plugin discovering and executing the tests")
	Command.Flags().String("schedule", "", "cron expression repeating the run, e.g. \"@every 1h\"")
	Command.Flags().String("listen", "", "serve timings and metrics on this address while running")
}

func run(cmd *cobra.Command) int {
	conf := config.FromCobraCmd(cmd)
	SetupLogger(cmd, conf)

	if conf.Plugin == "" {
		coordinator := NewCoordinator(conf, nil)
		_ = coordinator.ListPlugins(cmd.ErrOrStderr())
		log.Error().Msg("No plugin selected, use --plugin")
		return exitcode.Error
	}

	if err := os.MkdirAll(conf.OutputPath, 0o755); err != nil {
		log.Error().Err(err).Str("path", conf.OutputPath).Msg("Could not create output directory")
		return exitcode.Error
	}

	db := MustDatabase(conf)
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close db cleanly on shutdown")
		}
	}()
	store := persistence.New(db)
	coordinator := NewCoordinator(conf, store)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := api.New(store).ListenAndServe(serveCtx, listen); err != nil {
				log.Error().Err(err).Msg("Server stopped")
			}
		}()
	}

	var err error
	if conf.Schedule != "" {
		err = runScheduled(ctx, coordinator, conf)
	} else {
		err = logReport(coordinator.Run(ctx, conf.Plugin))
	}
	return exitCode(err)
}

func runScheduled(ctx context.Context, coordinator *scheduler.Coordinator, conf *config.PTConfig) error {
	sch, err := scheduler.NewSchedule(coordinator, conf.Plugin, conf.Schedule)
	if err != nil {
		return err
	}
	sch.OnReport = func(report *scheduler.RunReport, err error) {
		_ = logReport(report, err)
	}
	return sch.Start(ctx)
}

func logReport(report *scheduler.RunReport, err error) error {
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return err
	}
	for id, werr := range report.WorkerErrors {
		log.Warn().Err(werr).Str("worker_id", id).Msg("Worker aborted")
	}
	log.Info().
		Str("run_id", report.RunID).
		Int("tests", report.Tests).
		Int("executed", report.Executed).
		Int("failed", report.Failed).
		Str("duration", report.Duration.String()).
		Msgf("Finished %d tests on %d workers", report.Tests, report.Workers)
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcode.OK
	case errors.Is(err, scheduler.ErrRunAborted):
		return exitcode.RunAborted
	default:
		return exitcode.Error
	}
}
