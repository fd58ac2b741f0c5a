package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"paratest/internal/hook"
	"paratest/internal/metrics"
	"paratest/internal/plugin"
	"paratest/internal/queue"
)

// ErrAborted is wrapped by the error Start returns when one of the worker's hooks failed. The
// worker leaves whatever it had not popped yet in the queue.
var ErrAborted = errors.New("worker aborted")

// TimingRecorder stores how long a test took, in seconds, against an execution.
type TimingRecorder interface {
	Record(ctx context.Context, execution int64, source, test string, duration float64) error
}

// Options describes the environment of one worker
type Options struct {
	ID        string
	Execution int64
	Workspace string
	Source    string
	Output    string
	Hooks     hook.Set
}

type Stats struct {
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
}

// Worker pops tests from the shared queue and runs them inside its own workspace until it gets a
// sentinel.
type Worker struct {
	ID string

	opts   Options
	queue  queue.Client
	store  TimingRecorder
	plugin plugin.Plugin
	hooks  hook.Runner

	mu    sync.Mutex
	stats Stats
}

func New(opts Options, q queue.Client, store TimingRecorder, p plugin.Plugin, hooks hook.Runner) *Worker {
	return &Worker{
		ID:     opts.ID,
		opts:   opts,
		queue:  q,
		store:  store,
		plugin: p,
		hooks:  hooks,
	}
}

// Start is a blocking function. It runs the workspace setup hook, then processes queue items until
// it pops a sentinel, then runs the workspace teardown hook. A failing hook ends the worker at once
// with an error wrapping ErrAborted; a failing test does not.
func (w *Worker) Start(ctx context.Context) error {
	logger := log.With().Str("worker_id", w.ID).Logger()
	logger.Debug().Str("workspace", w.opts.Workspace).Msg("Worker starting")

	if err := os.MkdirAll(w.opts.Workspace, 0o755); err != nil {
		return w.abort(fmt.Errorf("create workspace: %w", err))
	}

	if err := w.runHook(ctx, "setup_workspace", w.opts.Hooks.SetupWorkspace); err != nil {
		return err
	}

	for {
		if err := w.runHook(ctx, "setup_test", w.opts.Hooks.SetupTest); err != nil {
			return err
		}

		item, err := w.queue.Pop(ctx)
		if err != nil {
			return w.abort(fmt.Errorf("pop from queue: %w", err))
		}
		metrics.QueueItems.Dec()

		if item.IsSentinel() {
			// pairs with the setup_test that ran before the pop
			if err := w.runHook(ctx, "teardown_test", w.opts.Hooks.TeardownTest); err != nil {
				return err
			}
			break
		}

		w.process(ctx, item)

		if err := w.runHook(ctx, "teardown_test", w.opts.Hooks.TeardownTest); err != nil {
			return err
		}
	}

	if err := w.runHook(ctx, "teardown_workspace", w.opts.Hooks.TeardownWorkspace); err != nil {
		return err
	}

	stats := w.Stats()
	logger.Debug().Int("executed", stats.Executed).Int("failed", stats.Failed).Msg("Worker finished")
	return nil
}

// process executes one test and records its duration when it succeeded
func (w *Worker) process(ctx context.Context, item queue.Item) {
	logger := log.With().Str("worker_id", w.ID).Str("tid", item.TID).Logger()
	logger.Info().Float64("priority", item.Priority).Msg("Executing test")

	start := time.Now()
	err := w.execute(ctx, item.TID)
	duration := time.Since(start).Seconds()

	w.mu.Lock()
	w.stats.Executed++
	if err != nil {
		w.stats.Failed++
	}
	w.mu.Unlock()

	if err != nil {
		metrics.TestsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		logger.Error().Err(err).Float64("duration", duration).Msg("Test failed")
		return
	}

	metrics.TestsTotal.WithLabelValues(metrics.ResultPassed).Inc()
	metrics.TestDuration.Observe(duration)
	logger.Info().Float64("duration", duration).Msg("Test passed")

	if err := w.store.Record(ctx, w.opts.Execution, w.opts.Source, item.TID, duration); err != nil {
		logger.Error().Err(err).Msg("Could not record test duration")
	}
}

// execute runs the plugin, turning a panic into a test failure
func (w *Worker) execute(ctx context.Context, tid string) (err error) {
	defer func() {
		if rcv := recover(); rcv != nil {
			err = fmt.Errorf("plugin panicked: %v", rcv)
		}
	}()
	return w.plugin.Execute(ctx, w.ID, tid, w.opts.Workspace, w.opts.Output)
}

func (w *Worker) runHook(ctx context.Context, name, template string) error {
	err := hook.Check(ctx, w.hooks, name, template, hook.Vars{
		hook.VarPath:      w.opts.Workspace,
		hook.VarID:        w.ID,
		hook.VarWorkspace: w.opts.Workspace,
		hook.VarSource:    w.opts.Source,
		hook.VarOutput:    w.opts.Output,
	})
	if err != nil {
		return w.abort(err)
	}
	return nil
}

func (w *Worker) abort(err error) error {
	metrics.WorkerAborts.Inc()
	log.Error().Err(err).Str("worker_id", w.ID).Msg("Worker aborted")
	return fmt.Errorf("%w: %s: %w", ErrAborted, w.ID, err)
}

// Stats returns how many tests the worker ran so far and how many of them failed.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
