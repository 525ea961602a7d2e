package refresh

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	// MaxErrorSamples bounds the error strings kept per result
	MaxErrorSamples = 10
	// maxErrorLength bounds each sample's message
	maxErrorLength = 100
)

// Result aggregates the outcomes of one kind's run.
// Success+Failed+Skipped == Total once Run returns.
type Result struct {
	Kind           Kind
	Total          int
	Success        int
	Failed         int
	Skipped        int
	Errors         []string
	Duration       time.Duration
	RecordsCreated int
	Interrupted    bool
}

// SuccessRate returns the percentage of successful entities, 0 when nothing ran
func (r Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Success) / float64(r.Total) * 100
}

// record accounts one entity's outcome
func (r *Result) record(key string, o Outcome) {
	r.Total++
	switch o.Status {
	case StatusSuccess:
		r.Success++
		r.RecordsCreated += o.Records
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		r.addError(fmt.Sprintf("%s: %s", key, truncate(msg, maxErrorLength)))
	}
}

func (r *Result) addError(msg string) {
	if len(r.Errors) < MaxErrorSamples {
		r.Errors = append(r.Errors, msg)
	}
}

// resultView is the serialized form of a Result
type resultView struct {
	DataKind           Kind     `json:"dataKind" yaml:"dataKind"`
	Total              int      `json:"total" yaml:"total"`
	Success            int      `json:"success" yaml:"success"`
	Failed             int      `json:"failed" yaml:"failed"`
	Skipped            int      `json:"skipped" yaml:"skipped"`
	SuccessRatePercent float64  `json:"successRatePercent" yaml:"successRatePercent"`
	DurationSeconds    float64  `json:"durationSeconds" yaml:"durationSeconds"`
	RecordsCreated     int      `json:"recordsCreated" yaml:"recordsCreated"`
	Errors             []string `json:"errors" yaml:"errors"`
	Interrupted        bool     `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

func (r Result) view() resultView {
	errs := r.Errors
	if len(errs) > MaxErrorSamples {
		errs = errs[:MaxErrorSamples]
	}
	if errs == nil {
		errs = []string{}
	}
	return resultView{
		DataKind:           r.Kind,
		Total:              r.Total,
		Success:            r.Success,
		Failed:             r.Failed,
		Skipped:            r.Skipped,
		SuccessRatePercent: round(r.SuccessRate(), 1),
		DurationSeconds:    round(r.Duration.Seconds(), 2),
		RecordsCreated:     r.RecordsCreated,
		Errors:             errs,
		Interrupted:        r.Interrupted,
	}
}

// MarshalJSON implements json.Marshaler
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.view())
}

// MarshalYAML implements yaml.Marshaler
func (r Result) MarshalYAML() (any, error) {
	return r.view(), nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
