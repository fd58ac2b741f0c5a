package runcmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"paratest/internal/config"
	"paratest/internal/database"
	"paratest/internal/hook"
	"paratest/internal/persistence"
	"paratest/internal/plugin"
	"paratest/internal/queue"
	"paratest/internal/scheduler"
)

// SetupLogger writes human readable logs to stderr. The level comes from the config and is raised
// by every -v flag.
func SetupLogger(cmd *cobra.Command, conf *config.PTConfig) {
	level := conf.Level()
	verbose, _ := cmd.Flags().GetCount("verbose")
	switch {
	case verbose >= 2:
		level = min(level, zerolog.TraceLevel)
	case verbose == 1:
		level = min(level, zerolog.DebugLevel)
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func MustDatabase(conf *config.PTConfig) *sqlx.DB {
	db, err := database.New(conf)
	if err != nil {
		log.Fatal().Err(err).Str("driver", conf.Database.Driver).Msg("Could not connect to database")
	}

	return db
}

// queueFactory returns a factory creating one queue per run on the configured backend
func queueFactory(conf *config.PTConfig) scheduler.QueueFactory {
	if conf.Queue.Backend != config.QueueRedis {
		return scheduler.MemoryQueue
	}
	return func(runID string) (queue.Client, error) {
		return queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, runID)
	}
}

// NewRegistry registers every plugin the config allows
func NewRegistry(conf *config.PTConfig, runner hook.Runner) *plugin.Registry {
	registry := plugin.NewRegistry()
	registry.Register("dummy", plugin.NewDummy())
	registry.Register("gotest", plugin.NewGoTest(conf.GoTest.Binary, conf.Source.Path, conf.GoTest.Timeout))
	if conf.Command.Discover != "" && conf.Command.Execute != "" {
		registry.Register("command", plugin.NewCommand(conf.Source.Path, conf.Command.Discover, conf.Command.Execute, runner))
	}
	return registry
}

// NewCoordinator wires a Coordinator from the config. store may be nil for commands that never run.
func NewCoordinator(conf *config.PTConfig, store *persistence.Store) *scheduler.Coordinator {
	if abs, err := filepath.Abs(conf.Source.Path); err == nil {
		conf.Source.Path = abs
	}

	runner := &hook.ShellRunner{}
	return scheduler.NewCoordinator(scheduler.Options{
		Source:        conf.Source.Path,
		Pattern:       conf.Source.Pattern,
		Workers:       conf.Workers,
		WorkspacePath: conf.WorkspacePath,
		OutputPath:    conf.OutputPath,
		Hooks: hook.Set{
			Setup:             conf.Hooks.Setup,
			Teardown:          conf.Hooks.Teardown,
			SetupWorkspace:    conf.Hooks.SetupWorkspace,
			TeardownWorkspace: conf.Hooks.TeardownWorkspace,
			SetupTest:         conf.Hooks.SetupTest,
			TeardownTest:      conf.Hooks.TeardownTest,
		},
	}, store, NewRegistry(conf, runner), runner, queueFactory(conf))
}
