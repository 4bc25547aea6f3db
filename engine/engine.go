// Package engine runs hotplate recipes step by step.
//
// A run moves each step through SettingPoint, Stabilizing, and then
// Dwelling or AwaitingContinue, reporting progress as a stream of Events.
// Stop is checked at every tick and phase boundary; once it is observed the
// run emits EventCancelled and makes no further transport calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/recipe"
	"github.com/mastercactapus/hotplate/stabilize"
)

// Phase is the state of a run.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseSettingPoint
	PhaseStabilizing
	PhaseAwaitingContinue
	PhaseDwelling
	PhaseDone
	PhaseCancelled
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseStarting:         "starting",
	PhaseSettingPoint:     "setting-point",
	PhaseStabilizing:      "stabilizing",
	PhaseAwaitingContinue: "awaiting-continue",
	PhaseDwelling:         "dwelling",
	PhaseDone:             "done",
	PhaseCancelled:        "cancelled",
	PhaseFailed:           "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(data []byte) error {
	for i, name := range phaseNames {
		if name == string(data) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", data)
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled || p == PhaseFailed
}

// ErrStabilizeTimeout is returned when a step does not stabilize within Config.MaxStabilize.
var ErrStabilizeTimeout = errors.New("stabilization timed out")

var errCancelled = errors.New("cancelled")

// Config holds the engine's timing.
type Config struct {
	// PollInterval is the delay between temperature reads while stabilizing.
	PollInterval time.Duration

	// SampleEvery is how many reads pass between stabilization checks.
	SampleEvery int

	// DwellTick is the dwell countdown unit; one tick per dwell second.
	DwellTick time.Duration

	// ContinuePoll bounds how long an await-continue check blocks.
	ContinuePoll time.Duration

	// MaxStabilize fails a step that has not stabilized in time. Zero means no limit.
	MaxStabilize time.Duration

	Clock Clock
}

// DefaultConfig returns the standard timing.
func DefaultConfig() Config {
	return Config{
		PollInterval: 200 * time.Millisecond,
		SampleEvery:  stabilize.DefaultEvery,
		DwellTick:    time.Second,
		ContinuePoll: 200 * time.Millisecond,
	}
}

// Controls connect a run to its host.
type Controls struct {
	// Events receives progress in order. Sends block, so the host must keep reading.
	Events chan<- Event

	Stop     *Signal
	Continue *Signal

	// OnPhase, if set, is called on every phase change.
	OnPhase func(step int, p Phase)
}

// Result is the outcome of a run.
type Result struct {
	Phase Phase
	Step  int
	Err   error
}

// Engine runs recipes against a Transport.
type Engine struct {
	cfg Config
}

// New creates an Engine, filling unset Config fields with defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = def.SampleEvery
	}
	if cfg.DwellTick <= 0 {
		cfg.DwellTick = def.DwellTick
	}
	if cfg.ContinuePoll <= 0 {
		cfg.ContinuePoll = def.ContinuePoll
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

type run struct {
	cfg Config
	ctx context.Context
	t   hotplate.Transport
	r   *recipe.Recipe
	ctl Controls

	step int
}

// Run executes r to completion, cancellation or failure. Failures are
// reported both as an EventError and in the Result; cancelling ctx has the
// same effect as raising Stop.
func (e *Engine) Run(ctx context.Context, t hotplate.Transport, r *recipe.Recipe, ctl Controls) Result {
	if ctl.Stop == nil {
		ctl.Stop = &Signal{}
	}
	if ctl.Continue == nil {
		ctl.Continue = &Signal{}
	}
	x := &run{cfg: e.cfg, ctx: ctx, t: t, r: r, ctl: ctl}
	return x.run()
}

func (x *run) setPhase(p Phase) {
	if x.ctl.OnPhase != nil {
		x.ctl.OnPhase(x.step, p)
	}
}

func (x *run) emit(ev Event) {
	if x.ctl.Events == nil {
		return
	}
	select {
	case x.ctl.Events <- ev:
	case <-x.ctx.Done():
		select {
		case x.ctl.Events <- ev:
		default:
		}
	}
}

func (x *run) stopped() bool {
	return x.ctx.Err() != nil || x.ctl.Stop.IsSet()
}

// sleep waits for d and returns false if the run was stopped meanwhile.
func (x *run) sleep(d time.Duration) bool {
	select {
	case <-x.cfg.Clock.After(d):
		return !x.stopped()
	case <-x.ctl.Stop.Done():
		return false
	case <-x.ctx.Done():
		return false
	}
}

func (x *run) run() Result {
	total := x.r.Len()
	x.setPhase(PhaseStarting)
	x.emit(Event{Type: EventStart, TotalSteps: total})

	for i := 0; i < total; i++ {
		x.step = i + 1
		err := x.runStep(x.r.Step(i))
		if errors.Is(err, errCancelled) {
			x.setPhase(PhaseCancelled)
			x.emit(Event{Type: EventCancelled, Step: x.step})
			return Result{Phase: PhaseCancelled, Step: x.step}
		}
		if err != nil {
			err = fmt.Errorf("step %d: %w", x.step, err)
			x.setPhase(PhaseFailed)
			x.emit(Event{Type: EventError, Step: x.step, Message: err.Error()})
			return Result{Phase: PhaseFailed, Step: x.step, Err: err}
		}
	}

	x.setPhase(PhaseDone)
	x.emit(Event{Type: EventDone})
	return Result{Phase: PhaseDone, Step: total}
}

func (x *run) runStep(st recipe.Step) error {
	if x.stopped() {
		return errCancelled
	}

	x.setPhase(PhaseSettingPoint)
	err := hotplate.ApplySetpoint(x.t, hotplate.Setpoint{
		Temperature: st.TargetTemperature,
		RampRate:    st.RampRate,
		StirSpeed:   st.StirSpeed,
	})
	if err != nil {
		return err
	}
	x.emit(Event{
		Type:         EventStepStart,
		Step:         x.step,
		TotalSteps:   x.r.Len(),
		TargetTemp:   st.TargetTemperature,
		RampRate:     st.RampRate,
		StirSpeed:    st.StirSpeed,
		DwellSeconds: st.DwellSeconds,
	})

	err = x.stabilize(st)
	if err != nil {
		return err
	}

	if st.Manual() {
		return x.awaitContinue()
	}
	return x.dwell(st.DwellSeconds)
}

func (x *run) stabilize(st recipe.Step) error {
	if x.stopped() {
		return errCancelled
	}
	x.setPhase(PhaseStabilizing)
	x.emit(Event{Type: EventStabilizingStart, Step: x.step})

	// manual steps do not wait for the temperature
	if st.Manual() {
		return nil
	}

	det := stabilize.ForStep(st, x.cfg.SampleEvery)
	start := x.cfg.Clock.Now()
	for {
		if x.stopped() {
			return errCancelled
		}
		temp, err := x.t.ReadTemperature()
		if err != nil {
			return fmt.Errorf("read temperature: %w", err)
		}
		v, evaluated := det.Observe(temp)
		if evaluated {
			x.emit(Event{Type: EventStabilizing, Step: x.step, Temp: temp})
		}
		if v == stabilize.Stable {
			return nil
		}
		if x.cfg.MaxStabilize > 0 && x.cfg.Clock.Now().Sub(start) >= x.cfg.MaxStabilize {
			return ErrStabilizeTimeout
		}
		if !x.sleep(x.cfg.PollInterval) {
			return errCancelled
		}
	}
}

func (x *run) dwell(seconds int) error {
	if x.stopped() {
		return errCancelled
	}
	x.setPhase(PhaseDwelling)
	x.emit(Event{Type: EventDwellStart, Step: x.step, DwellSeconds: seconds})

	tick := x.cfg.DwellTick
	total := time.Duration(seconds) * tick
	start := x.cfg.Clock.Now()
	for x.cfg.Clock.Now().Sub(start) < total {
		if !x.sleep(tick) {
			return errCancelled
		}
		remaining := seconds - int(x.cfg.Clock.Now().Sub(start)/tick)
		if remaining < 0 {
			remaining = 0
		}
		x.emit(Event{Type: EventDwellTick, Step: x.step, RemainingSeconds: remaining})
	}
	return nil
}

func (x *run) awaitContinue() error {
	if x.stopped() {
		return errCancelled
	}
	// a continue raised before this point belongs to no step, one raised
	// after OnPhase reports AwaitingContinue belongs to this one
	x.ctl.Continue.Clear()
	x.setPhase(PhaseAwaitingContinue)
	x.emit(Event{Type: EventAwaitContinue, Step: x.step})

	for {
		if x.stopped() {
			return errCancelled
		}
		if x.ctl.Continue.Consume() {
			return nil
		}
		select {
		case <-x.ctl.Continue.Done():
		case <-x.ctl.Stop.Done():
		case <-x.ctx.Done():
		case <-x.cfg.Clock.After(x.cfg.ContinuePoll):
		}
	}
}
