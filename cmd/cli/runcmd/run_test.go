package runcmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paratest/internal/config"
	"paratest/internal/exitcode"
	"paratest/internal/hook"
	"paratest/internal/queue"
	"paratest/internal/scheduler"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitcode.OK},
		{"aborted", fmt.Errorf("%w: queue was not drained", scheduler.ErrRunAborted), exitcode.RunAborted},
		{"other", errors.New("database is gone"), exitcode.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestNewRegistry(t *testing.T) {
	conf := &config.PTConfig{}
	assert.Equal(t, []string{"dummy", "gotest"}, NewRegistry(conf, &hook.ShellRunner{}).Names())

	conf.Command.Discover = "ls"
	conf.Command.Execute = "true"
	assert.Equal(t, []string{"command", "dummy", "gotest"}, NewRegistry(conf, &hook.ShellRunner{}).Names())
}

func TestQueueFactory_Memory(t *testing.T) {
	conf := &config.PTConfig{}
	conf.Queue.Backend = config.QueueMemory

	q, err := queueFactory(conf)("run")
	require.NoError(t, err)
	assert.IsType(t, &queue.Heap{}, q)
	assert.NoError(t, q.Close())
}

func TestSetupLogger(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		name     string
		logLevel string
		args     []string
		want     zerolog.Level
	}{
		{"config level", "warn", nil, zerolog.WarnLevel},
		{"one v", "info", []string{"-v"}, zerolog.DebugLevel},
		{"two v", "info", []string{"-vv"}, zerolog.TraceLevel},
		{"config already lower", "trace", []string{"-v"}, zerolog.TraceLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().CountP("verbose", "v", "")
			require.NoError(t, cmd.ParseFlags(tt.args))

			SetupLogger(cmd, &config.PTConfig{LogLevel: tt.logLevel})
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}
