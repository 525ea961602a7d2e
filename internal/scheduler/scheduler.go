// Package scheduler runs refreshes on a cron schedule and records each run
// on a status board.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/refresh"
	"marketrefresh/internal/status"
)

// ErrBusy is returned by RunNow while a run is in progress
var ErrBusy = errors.New("refresh already running")

// RunFunc performs one refresh
type RunFunc func(ctx context.Context) (map[refresh.Kind]refresh.Result, error)

// Scheduler triggers RunFunc on a cron schedule. A trigger that fires while
// the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	run     RunFunc
	board   *status.Board
	clock   clock.Clock
	log     zerolog.Logger
	ctx     context.Context
	running atomic.Bool
	// inflight tracks runs started by Trigger, which cron does not see
	inflight sync.WaitGroup
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithClock sets the time source for run timestamps
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler's logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New registers run on the standard five-field cron spec. Runs use ctx, so
// canceling it interrupts an in-progress refresh.
func New(ctx context.Context, spec string, run RunFunc, board *status.Board, opts ...Option) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("scheduler: run function is required")
	}
	if board == nil {
		board = &status.Board{}
	}

	s := &Scheduler{
		run:   run,
		board: board,
		clock: clock.System{},
		log:   zerolog.Nop(),
		ctx:   ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "scheduler").Logger()

	logger := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	id, err := s.cron.AddFunc(spec, s.trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	s.log.Info().Str("schedule", spec).Msg("refresh registered")
	return s, nil
}

// Board returns the status board runs are recorded on
func (s *Scheduler) Board() *status.Board {
	return s.board
}

// Start starts the cron loop in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.updateNext()
	s.log.Info().Msg("scheduler started")
}

// Stop stops scheduling and waits for running refreshes, scheduled or
// triggered, to return or ctx to end
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	idle := make(chan struct{})
	go func() {
		<-done.Done()
		s.inflight.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a refresh in the background, outside the schedule.
// Stop waits for it; failures are logged.
func (s *Scheduler) Trigger() {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.trigger()
	}()
}

// Next returns when the refresh fires next; zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) trigger() {
	if err := s.RunNow(); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Error().Err(err).Msg("refresh failed")
	}
}

// RunNow runs a refresh immediately, outside the schedule
func (s *Scheduler) RunNow() error {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("refresh skipped, previous run still in progress")
		return ErrBusy
	}
	defer s.running.Store(false)

	id := s.board.Start(s.clock.Now().UTC())
	log := s.log.With().Str("run_id", id.String()).Logger()
	log.Info().Msg("refresh started")

	results, err := s.run(s.ctx)

	s.board.Finish(s.clock.Now().UTC(), results, err)
	s.updateNext()

	failed := 0
	for _, r := range results {
		failed += r.Failed
	}
	log.Info().Int("kinds", len(results)).Int("failed", failed).Err(err).Msg("refresh finished")
	return err
}

func (s *Scheduler) updateNext() {
	if next := s.Next(); !next.IsZero() {
		s.board.SetNext(next)
	}
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
