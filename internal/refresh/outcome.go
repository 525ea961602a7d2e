package refresh

import "errors"

// Status is the disposition of one entity's task
type Status int

const (
	StatusSuccess Status = iota + 1
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one entity's task
type Outcome struct {
	Status  Status
	Records int
	Reason  string
	Err     error
}

// Success reports that records were written for the entity
func Success(records int) Outcome {
	return Outcome{Status: StatusSuccess, Records: records}
}

// Skipped reports that the entity needed no work
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

// Failed reports that the entity's task failed
func Failed(err error) Outcome {
	if err == nil {
		err = errors.New("unknown error")
	}
	return Outcome{Status: StatusFailed, Err: err}
}

// entityOutcome is sent from workers to the collector
type entityOutcome struct {
	Key     string
	Outcome Outcome
}
