package refresh

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"marketrefresh/internal/clock"
)

// Options bounds one orchestrated run
type Options struct {
	MaxWorkers int `default:"10" validate:"gte=1,lte=256"`
	BatchSize  int `default:"50" validate:"gte=1"`
	// BatchDelay is the pause between batches. A negative value disables it.
	BatchDelay time.Duration `default:"1s"`
}

var validate = validator.New()

// normalize fills unset fields with their defaults and validates the result
func (o Options) normalize() (Options, error) {
	if err := defaults.Set(&o); err != nil {
		return o, fmt.Errorf("failed to apply orchestrator defaults: %w", err)
	}
	if err := validate.Struct(o); err != nil {
		return o, fmt.Errorf("invalid orchestrator options: %w", err)
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	return o, nil
}

// Recorder observes orchestrator activity
type Recorder interface {
	RecordOutcome(kind Kind, status Status)
	RecordBatch(kind Kind, size int, elapsed time.Duration)
	RecordResult(r Result)
}

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(Kind, Status)           {}
func (nopRecorder) RecordBatch(Kind, int, time.Duration) {}
func (nopRecorder) RecordResult(Result)                  {}

// OrchestratorOption customizes an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithClock sets the time source for batch delays and durations
func WithClock(c clock.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the orchestrator's logger
func WithLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}
