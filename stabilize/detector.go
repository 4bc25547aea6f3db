// Package stabilize decides when a hotplate has arrived at a step's target
// temperature from a stream of polled samples.
package stabilize

import "github.com/mastercactapus/hotplate/recipe"

const (
	// DefaultEvery is how many polled samples pass between evaluations.
	DefaultEvery = 5

	// WindowSize is the number of evaluated samples kept for Strict mode.
	WindowSize = 5

	// LooseBand is the +/- tolerance around the target in Loose mode.
	LooseBand = 2

	// StrictBand is the +/- tolerance used for both the peer and target checks in Strict mode.
	StrictBand = 1
)

// Verdict is the result of feeding a sample to a Detector.
type Verdict int

const (
	NotYet Verdict = iota
	Stable
)

func (v Verdict) String() string {
	if v == Stable {
		return "stable"
	}
	return "not-yet"
}

// Detector reduces a sample stream for one step to a Verdict.
type Detector struct {
	target int
	mode   recipe.StabilizeMode
	every  int

	ticks  int
	window []int
}

// New creates a Detector for a target. Samples are only evaluated every
// `every` observations; values < 1 mean DefaultEvery.
func New(target int, mode recipe.StabilizeMode, every int) *Detector {
	if every < 1 {
		every = DefaultEvery
	}
	return &Detector{
		target: target,
		mode:   mode,
		every:  every,
		window: make([]int, 0, WindowSize+1),
	}
}

// ForStep creates a Detector for a recipe step.
func ForStep(st recipe.Step, every int) *Detector {
	return New(st.TargetTemperature, st.Mode, every)
}

// Observe records one polled sample. Every `every`-th sample is evaluated;
// evaluated reports whether this was one of them.
func (d *Detector) Observe(sample int) (v Verdict, evaluated bool) {
	d.ticks++
	if d.ticks < d.every {
		return NotYet, false
	}
	d.ticks = 0
	return d.Evaluate(sample), true
}

// Evaluate applies the stabilization rule to an already sub-sampled value.
func (d *Detector) Evaluate(sample int) Verdict {
	if !d.mode.IsStrict() {
		if within(sample, d.target, LooseBand) {
			return Stable
		}
		return NotYet
	}

	d.window = append(d.window, sample)
	if len(d.window) > WindowSize {
		d.window = d.window[1:]
	}
	if len(d.window) < WindowSize {
		return NotYet
	}

	// the oldest retained sample is the one being certified
	first := d.window[0]
	if !within(first, d.target, StrictBand) {
		return NotYet
	}
	for _, s := range d.window {
		if !within(s, first, StrictBand) {
			return NotYet
		}
	}
	return Stable
}

// Window returns a copy of the evaluated samples kept for Strict mode.
func (d *Detector) Window() []int {
	w := make([]int, len(d.window))
	copy(w, d.window)
	return w
}

func within(v, center, band int) bool {
	return v >= center-band && v <= center+band
}
