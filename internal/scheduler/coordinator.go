package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"paratest/internal/hook"
	"paratest/internal/metrics"
	"paratest/internal/persistence"
	"paratest/internal/plugin"
	"paratest/internal/queue"
	"paratest/internal/worker"
)

// ErrRunAborted is wrapped by every run-fatal error: a failing run-wide hook or a queue that still
// holds items after all workers stopped.
var ErrRunAborted = errors.New("run aborted")

// QueueFactory creates the shared queue of one run.
type QueueFactory func(runID string) (queue.Client, error)

// MemoryQueue is the default QueueFactory.
func MemoryQueue(string) (queue.Client, error) {
	return queue.NewHeap(), nil
}

// Options configures the runs of a Coordinator
type Options struct {
	Source        string
	Pattern       string
	Workers       int
	WorkspacePath string
	OutputPath    string
	Hooks         hook.Set
}

// RunReport summarises one run.
type RunReport struct {
	RunID        string           `json:"run_id"`
	Source       string           `json:"source"`
	Plugin       string           `json:"plugin"`
	Execution    int64            `json:"execution"`
	Tests        int              `json:"tests"`
	Workers      int              `json:"workers"`
	Executed     int              `json:"executed"`
	Failed       int              `json:"failed"`
	WorkerErrors map[string]error `json:"-"`
	Duration     time.Duration    `json:"duration"`
}

// Coordinator seeds the shared queue with the discovered tests, runs them on a pool of workers and
// checks that the queue was drained.
type Coordinator struct {
	opts     Options
	store    *persistence.Store
	registry *plugin.Registry
	hooks    hook.Runner
	newQueue QueueFactory
}

func NewCoordinator(opts Options, store *persistence.Store, registry *plugin.Registry, hooks hook.Runner, newQueue QueueFactory) *Coordinator {
	if newQueue == nil {
		newQueue = MemoryQueue
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Coordinator{
		opts:     opts,
		store:    store,
		registry: registry,
		hooks:    hooks,
		newQueue: newQueue,
	}
}

// ListPlugins prints the names of the available plugins.
func (c *Coordinator) ListPlugins(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Available plugins are:\n")
	for _, name := range c.registry.Names() {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Show returns the timing report of the store.
func (c *Coordinator) Show(ctx context.Context) (string, error) {
	return c.store.Show(ctx)
}

// Run executes every test the named plugin discovers. The returned error wraps ErrRunAborted when
// the run must be considered fatal; a worker that aborted on its own only makes the run fatal if it
// left items in the queue.
func (c *Coordinator) Run(ctx context.Context, pluginName string) (report *RunReport, err error) {
	p, err := c.registry.Get(pluginName)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report = &RunReport{
		RunID:        uuid.NewString(),
		Source:       c.opts.Source,
		Plugin:       pluginName,
		WorkerErrors: make(map[string]error),
	}
	logger := log.With().Str("run_id", report.RunID).Str("source", c.opts.Source).Logger()
	defer func() {
		report.Duration = time.Since(start)
		status := metrics.RunCompleted
		if errors.Is(err, ErrRunAborted) {
			status = metrics.RunAborted
		}
		metrics.RunsTotal.WithLabelValues(status).Inc()
	}()

	runVars := hook.Vars{
		hook.VarPath:      c.opts.Source,
		hook.VarID:        report.RunID,
		hook.VarWorkspace: c.opts.WorkspacePath,
		hook.VarSource:    c.opts.Source,
		hook.VarOutput:    c.opts.OutputPath,
	}
	if err := hook.Check(ctx, c.hooks, "setup", c.opts.Hooks.Setup, runVars); err != nil {
		return report, fmt.Errorf("%w: %w", ErrRunAborted, err)
	}

	if report.Execution, err = c.store.Initialize(ctx, c.opts.Source); err != nil {
		return report, fmt.Errorf("initialize timing store: %w", err)
	}

	q, err := c.newQueue(report.RunID)
	if err != nil {
		return report, fmt.Errorf("create queue: %w", err)
	}
	var closeOnce sync.Once
	closeQueue := func() {
		closeOnce.Do(func() { c.closeQueue(ctx, q) })
	}
	defer closeQueue()

	if report.Tests, err = c.enqueue(ctx, q, p); err != nil {
		return report, err
	}
	report.Workers = min(c.opts.Workers, report.Tests)
	logger.Info().Str("plugin", pluginName).Int("tests", report.Tests).Int("workers", report.Workers).Msg("Starting run")

	workers := make([]*worker.Worker, report.Workers)
	for i := range workers {
		id := strconv.Itoa(i)
		workers[i] = worker.New(worker.Options{
			ID:        id,
			Execution: report.Execution,
			Workspace: filepath.Join(c.opts.WorkspacePath, id),
			Source:    c.opts.Source,
			Output:    c.opts.OutputPath,
			Hooks:     c.opts.Hooks,
		}, q, c.store, p, c.hooks)
	}

	var mu sync.Mutex
	var wg conc.WaitGroup
	logger.Debug().Msg("Start workers")
	for _, w := range workers {
		wg.Go(func() {
			if err := w.Start(ctx); err != nil {
				mu.Lock()
				report.WorkerErrors[w.ID] = err
				mu.Unlock()
			}
		})
	}

	var pushErr error
	for range workers {
		if pushErr = q.Push(ctx, queue.Sentinel()); pushErr != nil {
			// workers without a sentinel would wait forever, closing the queue stops them
			logger.Error().Err(pushErr).Msg("Could not push sentinel, stopping workers")
			closeQueue()
			break
		}
		metrics.QueueItems.Inc()
	}

	logger.Debug().Msg("Wait for all workers")
	if rcv := wg.WaitAndRecover(); rcv != nil {
		logger.Error().Str("panic", rcv.String()).Msg("Worker panicked")
		report.WorkerErrors["panic"] = rcv.AsError()
	}

	for _, w := range workers {
		stats := w.Stats()
		report.Executed += stats.Executed
		report.Failed += stats.Failed
	}

	if pushErr != nil {
		return report, fmt.Errorf("%w: push sentinel: %w", ErrRunAborted, pushErr)
	}

	var drainErr error
	empty, err := q.IsEmpty(ctx)
	switch {
	case err != nil:
		drainErr = fmt.Errorf("check queue: %w", err)
	case !empty:
		drainErr = fmt.Errorf("%w: queue was not drained, aborted workers: %s", ErrRunAborted, describe(report.WorkerErrors))
	}

	if err := hook.Check(ctx, c.hooks, "teardown", c.opts.Hooks.Teardown, runVars); err != nil {
		return report, errors.Join(drainErr, fmt.Errorf("%w: %w", ErrRunAborted, err))
	}
	if drainErr != nil {
		return report, drainErr
	}

	logger.Info().
		Int("executed", report.Executed).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("Run complete")
	return report, nil
}

// closeQueue drops whatever is left in the queue from the queue gauge and closes it
func (c *Coordinator) closeQueue(ctx context.Context, q queue.Client) {
	ctx = context.WithoutCancel(ctx)
	if n, err := q.Count(ctx); err != nil {
		log.Error().Err(err).Msg("Could not count queue items")
	} else {
		metrics.QueueItems.Sub(float64(n))
	}
	if err := q.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close queue")
	}
}

// enqueue discovers the tests and pushes each of them with its historical priority
func (c *Coordinator) enqueue(ctx context.Context, q queue.Client, p plugin.Plugin) (int, error) {
	tids, err := p.Discover(ctx, c.opts.Source, c.opts.Pattern)
	if err != nil {
		return 0, fmt.Errorf("discover tests: %w", err)
	}

	for _, tid := range tids {
		priority, err := c.store.GetPriority(ctx, c.opts.Source, tid)
		if err != nil {
			return 0, err
		}
		if err := q.Push(ctx, queue.Item{Priority: priority, TID: tid}); err != nil {
			return 0, fmt.Errorf("push %s: %w", tid, err)
		}
		metrics.QueueItems.Inc()
		log.Debug().Str("tid", tid).Float64("priority", priority).Msg("Queued test")
	}
	return len(tids), nil
}

func describe(errs map[string]error) string {
	if len(errs) == 0 {
		return "none"
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, errs[id].Error())
	}
	return strings.Join(parts, "; ")
}
