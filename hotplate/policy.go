package hotplate

// Set-commands at or below these values are sent as an "off" command instead.
const (
	HeaterOffAtOrBelow = 25 // °C
	StirOffAtOrBelow   = 1  // RPM
)

// RedirectsToHeaterOff reports whether setting celsius turns the heater off.
func RedirectsToHeaterOff(celsius int) bool { return celsius <= HeaterOffAtOrBelow }

// RedirectsToStirOff reports whether setting rpm turns the stirrer off.
func RedirectsToStirOff(rpm int) bool { return rpm <= StirOffAtOrBelow }
