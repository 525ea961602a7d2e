package refresh

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketrefresh/internal/clock"
)

// Entity is one unit of work
type Entity interface {
	Key() string
}

// Task processes one entity. A returned error is recorded as a failure.
type Task[E Entity] func(ctx context.Context, e E) (Outcome, error)

// Orchestrator runs tasks over entities in paced, bounded batches
type Orchestrator struct {
	opts    Options
	clock   clock.Clock
	log     zerolog.Logger
	metrics Recorder
}

// NewOrchestrator creates an orchestrator; zero option fields take their defaults
func NewOrchestrator(opts Options, o ...OrchestratorOption) (*Orchestrator, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		opts:    opts,
		clock:   clock.System{},
		log:     zerolog.Nop(),
		metrics: nopRecorder{},
	}
	for _, opt := range o {
		opt(orch)
	}
	orch.log = orch.log.With().Str("component", "orchestrator").Logger()
	return orch, nil
}

// Options returns the effective options
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run applies task to every entity and aggregates the outcomes.
//
// Entities are split into contiguous batches processed in order, with at
// most MaxWorkers tasks in flight and BatchDelay between batches. A failing
// or panicking task only fails its own entity. Canceling ctx stops dispatch;
// tasks already started finish on a context detached from ctx and are
// counted, and the result is marked Interrupted.
func Run[E Entity](ctx context.Context, o *Orchestrator, kind Kind, entities []E, task Task[E]) Result {
	log := o.log.With().Str("kind", string(kind)).Logger()

	if task == nil {
		log.Error().Msg("task not configured")
		res := Result{Kind: kind, Failed: 1, Errors: []string{fmt.Sprintf("%s: task not configured", kind)}}
		o.metrics.RecordResult(res)
		return res
	}

	res := Result{Kind: kind}
	start := o.clock.Now()

	// Single collector: the only writer of res until Run returns.
	outcomes := make(chan entityOutcome, o.opts.MaxWorkers)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for oc := range outcomes {
			res.record(oc.Key, oc.Outcome)
			o.metrics.RecordOutcome(kind, oc.Outcome.Status)
			if oc.Outcome.Status == StatusFailed {
				log.Error().Str("entity", oc.Key).Err(oc.Outcome.Err).Msg("task failed")
			}
		}
	}()

	taskCtx := context.WithoutCancel(ctx)
	slots := make(chan struct{}, o.opts.MaxWorkers)
	size := o.opts.BatchSize
	batches := (len(entities) + size - 1) / size
	interrupted := false

	for b := 0; b < batches && !interrupted; b++ {
		if b > 0 && o.opts.BatchDelay > 0 {
			if err := o.clock.Sleep(ctx, o.opts.BatchDelay); err != nil {
				interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		lo, hi := b*size, min((b+1)*size, len(entities))
		batch := entities[lo:hi]
		log.Info().Msgf("Processing %s batch %d/%d (%d entities)", kind, b+1, batches, len(batch))
		batchStart := o.clock.Now()

		var g errgroup.Group
		for _, e := range batch {
			if !acquire(ctx, slots) {
				interrupted = true
				break
			}
			g.Go(func() error {
				defer func() { <-slots }()
				outcomes <- entityOutcome{Key: e.Key(), Outcome: runTask(taskCtx, e, task)}
				return nil
			})
		}
		_ = g.Wait() // errors are captured in outcomes

		o.metrics.RecordBatch(kind, len(batch), o.clock.Now().Sub(batchStart))
	}

	close(outcomes)
	<-collected

	res.Duration = o.clock.Now().Sub(start)
	res.Interrupted = interrupted
	if interrupted {
		log.Warn().Int("processed", res.Total).Int("entities", len(entities)).Msg("run interrupted")
	}
	o.metrics.RecordResult(res)
	return res
}

// acquire takes a worker slot, giving up as soon as ctx is done.
// A slot won in a race with cancellation is handed back.
func acquire(ctx context.Context, slots chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case slots <- struct{}{}:
		if ctx.Err() != nil {
			<-slots
			return false
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// runTask converts every way a task can end into an Outcome
func runTask[E Entity](ctx context.Context, e E, task Task[E]) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Failed(fmt.Errorf("panic: %v", p))
		}
	}()

	out, err := task(ctx, e)
	if err != nil {
		return Failed(err)
	}
	switch out.Status {
	case StatusSuccess, StatusSkipped:
		return out
	case StatusFailed:
		return Failed(out.Err)
	default:
		return Failed(fmt.Errorf("task returned no outcome"))
	}
}
