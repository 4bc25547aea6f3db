package recipe

import "strconv"

// StabilizeMode selects how a step decides it has reached its target.
type StabilizeMode int

const (
	// Loose accepts a single sample within the loose band of the target.
	Loose StabilizeMode = 0

	// Strict requires a full window of samples that agree with each other and the target.
	Strict StabilizeMode = 1
)

// IsStrict reports whether the mode uses the rolling-window check.
//
// Only Loose is treated as loose; any other value behaves as Strict.
func (m StabilizeMode) IsStrict() bool { return m != Loose }

func (m StabilizeMode) String() string {
	switch m {
	case Loose:
		return "loose"
	case Strict:
		return "strict"
	}
	return "strict(" + strconv.Itoa(int(m)) + ")"
}

// Step is a single line of a recipe.
type Step struct {
	TargetTemperature int           `json:"targetTemperature"`
	RampRate          int           `json:"rampRate"`
	StirSpeed         int           `json:"stirSpeed"`
	DwellSeconds      int           `json:"dwellSeconds"`
	Mode              StabilizeMode `json:"stabilizeMode"`
}

// Manual reports whether the step waits for an external continue
// instead of a timed dwell. Manual steps also skip stabilization.
func (s Step) Manual() bool { return s.DwellSeconds < 0 }

// Recipe is an ordered, immutable list of steps.
type Recipe struct {
	name  string
	steps []Step
}

// New creates a Recipe from already-validated steps.
func New(name string, steps []Step) *Recipe {
	s := make([]Step, len(steps))
	copy(s, steps)
	return &Recipe{name: name, steps: s}
}

func (r *Recipe) Name() string { return r.name }
func (r *Recipe) Len() int     { return len(r.steps) }

// Step returns the i'th (0-based) step.
func (r *Recipe) Step(i int) Step { return r.steps[i] }

// Steps returns a copy of all steps.
func (r *Recipe) Steps() []Step {
	s := make([]Step, len(r.steps))
	copy(s, r.steps)
	return s
}
