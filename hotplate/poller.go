package hotplate

import (
	"context"
	"log"
	"sync"
	"time"
)

// Status is a snapshot of the device.
type Status struct {
	Temperature int       `json:"temperature"`
	Setpoint    int       `json:"setpoint"`
	RampRate    int       `json:"rampRate"`
	StirSpeed   int       `json:"stirSpeed"`
	Time        time.Time `json:"time"`
}

// PollerOptions configure a Poller.
type PollerOptions struct {
	// Interval between polls, default 1s.
	Interval time.Duration

	// ErrorBackoff is an additional wait after a failed poll, default 500ms.
	ErrorBackoff time.Duration

	OnStatus func(Status)
	OnError  func(error)
}

// Poller periodically reads device status in the background for live display.
//
// It shares the Transport with any running recipe; the transport's own
// locking keeps exchanges from interleaving.
type Poller struct {
	t   Transport
	opt PollerOptions

	mx    sync.Mutex
	last  Status
	valid bool
	state chan Status
}

func NewPoller(t Transport, opt PollerOptions) *Poller {
	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}
	if opt.ErrorBackoff <= 0 {
		opt.ErrorBackoff = 500 * time.Millisecond
	}
	return &Poller{
		t:     t,
		opt:   opt,
		state: make(chan Status),
	}
}

// State returns a channel of status updates. Updates are dropped if nobody is receiving.
func (p *Poller) State() chan Status { return p.state }

// CurrentState returns the last successful poll, and false if there has been none.
func (p *Poller) CurrentState() (Status, bool) {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.last, p.valid
}

func (p *Poller) setState(s Status) {
	p.mx.Lock()
	p.last = s
	p.valid = true
	p.mx.Unlock()
	select {
	case p.state <- s:
	default:
	}
	if p.opt.OnStatus != nil {
		p.opt.OnStatus(s)
	}
}

// Poll reads one status snapshot. Only the temperature is read if the
// transport is not a StatusReader.
func (p *Poller) Poll() (s Status, err error) {
	s.Time = time.Now()
	s.Temperature, err = p.t.ReadTemperature()
	if err != nil {
		return s, err
	}
	sr, ok := p.t.(StatusReader)
	if !ok {
		return s, nil
	}
	s.Setpoint, err = sr.ReadTargetTemperature()
	if err != nil {
		return s, err
	}
	s.RampRate, err = sr.ReadRampRate()
	if err != nil {
		return s, err
	}
	s.StirSpeed, err = sr.ReadStirSpeed()
	if err != nil {
		return s, err
	}
	return s, nil
}

// Run polls until ctx is done. Errors are logged and polling continues after a back-off.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.opt.Interval)
	defer t.Stop()
	for {
		s, err := p.Poll()
		if err != nil {
			log.Println("ERROR: poll status:", err)
			if p.opt.OnError != nil {
				p.opt.OnError(err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.opt.ErrorBackoff):
			}
		} else {
			p.setState(s)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
