// Package sim provides a simulated hotplate for testing and dry runs.
package sim

import (
	"sync"

	"github.com/mastercactapus/hotplate/hotplate"
)

// Plate is an in-memory hotplate. The zero value is an instant plate at 0 °C;
// use New for a plate that starts at ambient.
type Plate struct {
	// Ambient is the temperature the plate drifts back to when the heater is off.
	Ambient int

	// Step is how far the temperature moves toward its goal per read.
	// Zero means the plate reaches its goal instantly.
	Step int

	// FailOn, if set, is consulted before every operation; a non-nil
	// result is returned as the operation's error.
	FailOn func(op string) error

	mx       sync.Mutex
	grp      sync.Mutex
	temp     int
	target   int
	heating  bool
	ramp     int
	stir     int
	stirring bool
	calls    []string
}

var _ hotplate.StatusReader = &Plate{}
var _ hotplate.Exclusive = &Plate{}

// New returns a Plate resting at ambient temperature.
func New(ambient, step int) *Plate {
	return &Plate{Ambient: ambient, Step: step, temp: ambient, target: ambient}
}

func (p *Plate) call(op string) error {
	p.calls = append(p.calls, op)
	if p.FailOn != nil {
		if err := p.FailOn(op); err != nil {
			return &hotplate.OpError{Op: op, Err: err}
		}
	}
	return nil
}

// Calls returns the operations performed so far, in order.
func (p *Plate) Calls() []string {
	p.mx.Lock()
	defer p.mx.Unlock()
	c := make([]string, len(p.calls))
	copy(c, p.calls)
	return c
}

func (p *Plate) goal() int {
	if p.heating {
		return p.target
	}
	return p.Ambient
}

func (p *Plate) Exclusive(fn func() error) error {
	p.grp.Lock()
	defer p.grp.Unlock()
	return fn()
}

func (p *Plate) ReadTemperature() (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("read_temperature"); err != nil {
		return 0, err
	}
	goal := p.goal()
	switch {
	case p.Step <= 0:
		p.temp = goal
	case p.temp < goal:
		p.temp = min(p.temp+p.Step, goal)
	case p.temp > goal:
		p.temp = max(p.temp-p.Step, goal)
	}
	return p.temp, nil
}

func (p *Plate) SetTargetTemperature(celsius int) error {
	if hotplate.RedirectsToHeaterOff(celsius) {
		return p.HeaterOff()
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("set_temperature"); err != nil {
		return err
	}
	p.target = celsius
	p.heating = true
	return nil
}

func (p *Plate) SetRampRate(celsiusPerHour int) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("set_ramp"); err != nil {
		return err
	}
	p.ramp = celsiusPerHour
	return nil
}

func (p *Plate) SetStirSpeed(rpm int) error {
	if hotplate.RedirectsToStirOff(rpm) {
		return p.StirrerOff()
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("set_stir"); err != nil {
		return err
	}
	p.stir = rpm
	p.stirring = true
	return nil
}

func (p *Plate) HeaterOff() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("heater_off"); err != nil {
		return err
	}
	p.heating = false
	return nil
}

func (p *Plate) StirrerOff() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("stirrer_off"); err != nil {
		return err
	}
	p.stirring = false
	return nil
}

func (p *Plate) ReadTargetTemperature() (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("read_setpoint"); err != nil {
		return 0, err
	}
	if !p.heating {
		return 0, nil
	}
	return p.target, nil
}

func (p *Plate) ReadRampRate() (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("read_ramp"); err != nil {
		return 0, err
	}
	return p.ramp, nil
}

func (p *Plate) ReadStirSpeed() (int, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if err := p.call("read_stir"); err != nil {
		return 0, err
	}
	if !p.stirring {
		return 0, nil
	}
	return p.stir, nil
}
