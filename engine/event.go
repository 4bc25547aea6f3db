package engine

import "fmt"

// EventType discriminates Event variants.
type EventType string

const (
	EventStart            EventType = "start"
	EventStepStart        EventType = "step_start"
	EventStabilizingStart EventType = "stabilizing_start"
	EventStabilizing      EventType = "stabilizing"
	EventDwellStart       EventType = "dwell_start"
	EventDwellTick        EventType = "dwell_tick"
	EventAwaitContinue    EventType = "await_continue"
	EventDone             EventType = "done"
	EventCancelled        EventType = "cancelled"
	EventError            EventType = "error"
)

// Event is one entry of the progress stream. Only the fields relevant to
// Type are set; Step is 1-based.
type Event struct {
	Type EventType `json:"type"`

	Step       int `json:"step,omitempty"`
	TotalSteps int `json:"totalSteps,omitempty"`

	TargetTemp   int `json:"targetTemp,omitempty"`
	RampRate     int `json:"rampRate,omitempty"`
	StirSpeed    int `json:"stirSpeed,omitempty"`
	DwellSeconds int `json:"dwellSeconds,omitempty"`

	Temp             int `json:"temp,omitempty"`
	RemainingSeconds int `json:"remainingSeconds"`

	Message string `json:"message,omitempty"`
}

// Terminal reports whether no further events follow e.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventCancelled, EventError:
		return true
	}
	return false
}

func (e Event) String() string {
	switch e.Type {
	case EventStart:
		return fmt.Sprintf("start: %d steps", e.TotalSteps)
	case EventStepStart:
		return fmt.Sprintf("step %d/%d: target=%d°C ramp=%d°C/hr stir=%dRPM dwell=%ds",
			e.Step, e.TotalSteps, e.TargetTemp, e.RampRate, e.StirSpeed, e.DwellSeconds)
	case EventStabilizingStart:
		return fmt.Sprintf("step %d: stabilizing", e.Step)
	case EventStabilizing:
		return fmt.Sprintf("step %d: stabilizing at %d°C", e.Step, e.Temp)
	case EventDwellStart:
		return fmt.Sprintf("step %d: dwell %ds", e.Step, e.DwellSeconds)
	case EventDwellTick:
		return fmt.Sprintf("step %d: %ds remaining", e.Step, e.RemainingSeconds)
	case EventAwaitContinue:
		return fmt.Sprintf("step %d: waiting for continue", e.Step)
	case EventError:
		return "error: " + e.Message
	}
	return string(e.Type)
}
