package hotplate

import (
	"errors"
	"fmt"
)

// A Transport represents the minimal hotplate/stirrer interface.
//
// Implementations must be safe for concurrent use; each call is a
// single exchange with the device.
type Transport interface {
	ReadTemperature() (int, error)

	SetTargetTemperature(celsius int) error
	SetRampRate(celsiusPerHour int) error
	SetStirSpeed(rpm int) error

	HeaterOff() error
	StirrerOff() error
}

// A StatusReader can report the device's current set values.
type StatusReader interface {
	Transport

	ReadTargetTemperature() (int, error)
	ReadRampRate() (int, error)
	ReadStirSpeed() (int, error)
}

// An Exclusive transport can run a group of calls without other
// callers' commands interleaving.
type Exclusive interface {
	Exclusive(func() error) error
}

// ErrRejected is returned when the device does not acknowledge a command.
var ErrRejected = errors.New("command not acknowledged")

// OpError records a failed transport operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *OpError) Unwrap() error { return e.Err }

// Setpoint is the group of values written at the start of a recipe step.
type Setpoint struct {
	Temperature int `json:"temperature"`
	RampRate    int `json:"rampRate"`
	StirSpeed   int `json:"stirSpeed"`
}

// ApplySetpoint writes temperature, ramp and stir in that order, stopping
// at the first failure. If t is Exclusive the writes are grouped.
func ApplySetpoint(t Transport, sp Setpoint) error {
	apply := func() error {
		if err := t.SetTargetTemperature(sp.Temperature); err != nil {
			return fmt.Errorf("set temperature %d: %w", sp.Temperature, err)
		}
		if err := t.SetRampRate(sp.RampRate); err != nil {
			return fmt.Errorf("set ramp %d: %w", sp.RampRate, err)
		}
		if err := t.SetStirSpeed(sp.StirSpeed); err != nil {
			return fmt.Errorf("set stir %d: %w", sp.StirSpeed, err)
		}
		return nil
	}
	if ex, ok := t.(Exclusive); ok {
		return ex.Exclusive(apply)
	}
	return apply()
}

// Off turns both the heater and the stirrer off, attempting both even if
// the first fails.
func Off(t Transport) error {
	return errors.Join(t.HeaterOff(), t.StirrerOff())
}
