package payment

import "fmt"

// Step identifies where a session sits in the fixed collection sequence.
type Step string

const (
	StepName         Step = "awaiting_name"
	StepCard         Step = "awaiting_card"
	StepExpiry       Step = "awaiting_expiry"
	StepCvv          Step = "awaiting_cvv"
	StepConfirmation Step = "awaiting_confirmation"
	StepCompleted    Step = "completed"
	StepCancelled    Step = "cancelled"
	StepErrored      Step = "errored"
)

// Status is the coarse lifecycle tag exposed to external consumers.
type Status string

const (
	StatusCollecting           Status = "collecting"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusComplete             Status = "complete"
	StatusCancelled            Status = "cancelled"
	StatusError                Status = "error"
)

// forward is the only legal advancing order; terminal jumps are handled separately.
var forward = map[Step]Step{
	StepName:   StepCard,
	StepCard:   StepExpiry,
	StepExpiry: StepCvv,
	StepCvv:    StepConfirmation,
}

// ParseStep rejects unknown step values rather than defaulting.
func ParseStep(raw string) (Step, error) {
	s := Step(raw)
	switch s {
	case StepName, StepCard, StepExpiry, StepCvv, StepConfirmation,
		StepCompleted, StepCancelled, StepErrored:
		return s, nil
	}
	return "", fmt.Errorf("unknown payment step %q", raw)
}

// Next returns the following collection step. ok is false when the step does
// not advance through the collection order (confirmation and terminal steps).
func (s Step) Next() (Step, bool) {
	next, ok := forward[s]
	return next, ok
}

// Terminal reports whether the session accepts no further transitions.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepCancelled
}

// Status maps the step onto the external lifecycle tag.
func (s Step) Status() Status {
	switch s {
	case StepConfirmation:
		return StatusAwaitingConfirmation
	case StepCompleted:
		return StatusComplete
	case StepCancelled:
		return StatusCancelled
	case StepErrored:
		return StatusError
	default:
		return StatusCollecting
	}
}
