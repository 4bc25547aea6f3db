// Package runner hosts at most one recipe run at a time and distributes its
// progress to history, metrics and live subscribers.
package runner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/history"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/metrics"
	"github.com/mastercactapus/hotplate/recipe"
)

var (
	// ErrBusy is returned when a run is already active.
	ErrBusy = errors.New("a recipe is already running")

	// ErrNotRunning is returned when no run is active.
	ErrNotRunning = errors.New("no recipe is running")
)

// Options configure a Runner. Only Engine and Transport are required.
type Options struct {
	Engine    *engine.Engine
	Transport hotplate.Transport

	History *history.Store
	Metrics *metrics.Collector

	// OffOnCancel turns the heater and stirrer off after a cancelled run.
	OffOnCancel bool

	// SubscriberBuffer is the channel size handed to subscribers, default 64.
	SubscriberBuffer int

	// TerminalTimeout bounds how long a full subscriber may delay the final
	// event of a run before it is disconnected, default 1s.
	TerminalTimeout time.Duration
}

// Status describes the active (or most recent) run.
type Status struct {
	Active     bool         `json:"active"`
	RunID      string       `json:"runId,omitempty"`
	Recipe     string       `json:"recipe,omitempty"`
	Phase      engine.Phase `json:"phase"`
	Step       int          `json:"step"`
	TotalSteps int          `json:"totalSteps"`
	Error      string       `json:"error,omitempty"`

	// TurnedOff is set once the heater and stirrer were switched off after
	// a cancelled run; OffError holds the failure if that did not work.
	TurnedOff bool   `json:"turnedOff,omitempty"`
	OffError  string `json:"offError,omitempty"`
}

type session struct {
	id     string
	recipe *recipe.Recipe
	cancel context.CancelFunc
	stop   engine.Signal
	cont   engine.Signal
	done   chan struct{}

	mx     sync.Mutex
	phase  engine.Phase
	step   int
	res    engine.Result
	off    bool
	offErr error
}

func (s *session) setPhase(step int, p engine.Phase) {
	s.mx.Lock()
	s.step = step
	s.phase = p
	s.mx.Unlock()
}

func (s *session) status(active bool) Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	st := Status{
		Active:     active,
		RunID:      s.id,
		Recipe:     s.recipe.Name(),
		Phase:      s.phase,
		Step:       s.step,
		TotalSteps: s.recipe.Len(),
	}
	if s.res.Err != nil {
		st.Error = s.res.Err.Error()
	}
	if s.offErr != nil {
		st.OffError = s.offErr.Error()
	} else {
		st.TurnedOff = s.off
	}
	return st
}

// Runner serializes recipe runs against one Transport.
type Runner struct {
	opt Options

	ctx    context.Context
	cancel context.CancelFunc

	mx     sync.Mutex
	active *session
	last   *session

	subMx sync.Mutex
	subs  map[chan engine.Event]struct{}
}

func New(opt Options) *Runner {
	if opt.SubscriberBuffer <= 0 {
		opt.SubscriberBuffer = 64
	}
	if opt.TerminalTimeout <= 0 {
		opt.TerminalTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opt:    opt,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[chan engine.Event]struct{}),
	}
}

// Subscribe returns a channel of progress events from every run, in order,
// and a function that unsubscribes and closes the channel.
//
// Intermediate events are dropped for a subscriber whose buffer is full.
// Terminal events are never dropped: if one cannot be delivered within
// TerminalTimeout the subscriber is disconnected and its channel closed.
func (r *Runner) Subscribe() (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, r.opt.SubscriberBuffer)
	r.subMx.Lock()
	r.subs[ch] = struct{}{}
	r.subMx.Unlock()

	return ch, func() {
		r.subMx.Lock()
		r.disconnect(ch)
		r.subMx.Unlock()
	}
}

// disconnect must be called with subMx held.
func (r *Runner) disconnect(ch chan engine.Event) {
	if _, ok := r.subs[ch]; !ok {
		return
	}
	delete(r.subs, ch)
	close(ch)
}

func (r *Runner) publish(ev engine.Event) {
	r.subMx.Lock()
	defer r.subMx.Unlock()

	var slow []chan engine.Event
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
			if !ev.Terminal() {
				log.Println("WARN: dropped event for slow subscriber:", ev.Type)
				continue
			}
			slow = append(slow, ch)
		}
	}
	if len(slow) == 0 {
		return
	}

	t := time.NewTimer(r.opt.TerminalTimeout)
	defer t.Stop()
	for _, ch := range slow {
		select {
		case ch <- ev:
			continue
		case <-t.C:
		}
		log.Println("ERROR: disconnecting slow subscriber, could not deliver:", ev.Type)
		r.disconnect(ch)
	}
}

// Start begins running rec in the background and returns the run ID.
func (r *Runner) Start(rec *recipe.Recipe) (string, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.active != nil {
		return "", ErrBusy
	}
	if r.ctx.Err() != nil {
		return "", context.Canceled
	}

	id := uuid.NewString()
	if r.opt.History != nil {
		run, err := r.opt.History.Begin(r.ctx, rec.Name(), rec.Len())
		if err != nil {
			return "", err
		}
		id = run.ID
	}

	ctx, cancel := context.WithCancel(r.ctx)
	s := &session{
		id:     id,
		recipe: rec,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.active = s
	r.last = s

	go r.execute(ctx, s)
	return id, nil
}

func (r *Runner) execute(ctx context.Context, s *session) {
	defer s.cancel()

	events := make(chan engine.Event)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		seq := 0
		for ev := range events {
			r.record(s.id, seq, ev)
			seq++
			r.publish(ev)
		}
	}()

	res := r.opt.Engine.Run(ctx, r.opt.Transport, s.recipe, engine.Controls{
		Events:   events,
		Stop:     &s.stop,
		Continue: &s.cont,
		OnPhase:  s.setPhase,
	})
	close(events)
	<-dispatched

	var offErr error
	turnOff := res.Phase == engine.PhaseCancelled && r.opt.OffOnCancel
	if turnOff {
		offErr = hotplate.Off(r.opt.Transport)
		if offErr != nil {
			log.Println("ERROR: turn off after cancel:", offErr)
			r.transportError(offErr)
		}
	}
	if res.Err != nil {
		r.transportError(res.Err)
	}
	if r.opt.History != nil {
		// the run context is already cancelled at this point
		if err := r.opt.History.Finish(context.Background(), s.id, res); err != nil {
			log.Println("ERROR: record run result:", err)
		}
	}

	s.mx.Lock()
	s.res = res
	s.phase = res.Phase
	s.off = turnOff
	s.offErr = offErr
	s.mx.Unlock()

	r.mx.Lock()
	r.active = nil
	r.mx.Unlock()
	close(s.done)
}

func (r *Runner) record(id string, seq int, ev engine.Event) {
	if r.opt.Metrics != nil {
		r.opt.Metrics.ObserveEvent(ev)
	}
	if r.opt.History == nil {
		return
	}
	if err := r.opt.History.Append(context.Background(), id, seq, ev); err != nil {
		log.Printf("ERROR: journal event %d of %s: %v", seq, id, err)
	}
}

func (r *Runner) transportError(err error) {
	if r.opt.Metrics == nil {
		return
	}
	var opErr *hotplate.OpError
	if errors.As(err, &opErr) {
		r.opt.Metrics.TransportError(err)
	}
}

// Stop requests cancellation of the active run.
func (r *Runner) Stop() error {
	r.mx.Lock()
	s := r.active
	r.mx.Unlock()
	if s == nil {
		return ErrNotRunning
	}
	s.stop.Set()
	return nil
}

// Continue releases a step waiting for the operator. It does nothing unless
// the active run is awaiting continue.
func (r *Runner) Continue() error {
	r.mx.Lock()
	s := r.active
	r.mx.Unlock()
	if s == nil {
		return ErrNotRunning
	}
	s.mx.Lock()
	awaiting := s.phase == engine.PhaseAwaitingContinue
	s.mx.Unlock()
	if awaiting {
		s.cont.Set()
	}
	return nil
}

// Active reports whether a run is in progress.
func (r *Runner) Active() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.active != nil
}

// Status returns the active run, or the last finished one.
func (r *Runner) Status() Status {
	r.mx.Lock()
	s, active := r.last, r.active != nil
	r.mx.Unlock()
	if s == nil {
		return Status{}
	}
	return s.status(active)
}

// Wait blocks until the run with the given ID finishes, or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (engine.Result, error) {
	r.mx.Lock()
	s := r.last
	r.mx.Unlock()
	if s == nil || s.id != id {
		return engine.Result{}, ErrNotRunning
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.res, nil
}

// Close cancels any active run and waits for it to finish.
func (r *Runner) Close() {
	r.cancel()
	r.mx.Lock()
	s := r.active
	r.mx.Unlock()
	if s != nil {
		<-s.done
	}
}
