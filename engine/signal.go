package engine

import (
	"sync"
	"time"
)

// Signal is a resettable flag that can be waited on. The zero value is unset
// and ready to use.
type Signal struct {
	mx  sync.Mutex
	set bool
	ch  chan struct{}
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
}

// Set raises the signal. Setting a raised signal does nothing.
func (s *Signal) Set() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.init()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear lowers the signal.
func (s *Signal) Clear() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.clear()
}

func (s *Signal) clear() {
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

func (s *Signal) IsSet() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.set
}

// Consume lowers the signal and reports whether it was raised.
func (s *Signal) Consume() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	was := s.set
	s.clear()
	return was
}

// Done returns a channel that is closed while the signal is raised.
func (s *Signal) Done() <-chan struct{} {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.init()
	return s.ch
}

// Wait blocks until the signal is raised or d elapses, and reports whether it was raised.
func (s *Signal) Wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.Done():
		return true
	case <-t.C:
		return s.IsSet()
	}
}
