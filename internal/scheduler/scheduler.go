package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Schedule repeats a run on a cron expression until its context ends or a run aborts.
type Schedule struct {
	coordinator *Coordinator
	plugin      string
	expr        string
	cron        *cron.Cron

	// OnReport, when set, is called after every run
	OnReport func(report *RunReport, err error)
}

// NewSchedule validates expr and prepares a schedule running plugin through coordinator. The
// expression accepts an optional seconds field, descriptors such as @every 10m and a CRON_TZ= prefix.
func NewSchedule(coordinator *Coordinator, plugin, expr string) (*Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(expr); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	logger := cronLogger{log.With().Str("component", "cron").Logger()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.Local),
		cron.WithLogger(logger),
		// a run still going when the next one is due makes the next one skip
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)

	return &Schedule{
		coordinator: coordinator,
		plugin:      plugin,
		expr:        expr,
		cron:        c,
	}, nil
}

// Start is a blocking function. It returns nil once ctx is done, or the error of the first run that
// aborted, after waiting for the run in progress to finish.
func (s *Schedule) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	abortCh := make(chan error, 1)
	entryID, err := s.cron.AddFunc(s.expr, func() {
		report, err := s.coordinator.Run(ctx, s.plugin)
		if s.OnReport != nil {
			s.OnReport(report, err)
		}
		switch {
		case err == nil:
		case errors.Is(err, ErrRunAborted):
			select {
			case abortCh <- err:
			default:
			}
		default:
			log.Error().Err(err).Str("plugin", s.plugin).Msg("Scheduled run failed")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Str("schedule", s.expr).Time("next", s.cron.Entry(entryID).Next).Msg("Scheduled runs")

	var result error
	select {
	case <-ctx.Done():
	case result = <-abortCh:
	}

	stopped := s.cron.Stop()
	<-stopped.Done()
	return result
}

// cronLogger forwards the cron library logs to zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
