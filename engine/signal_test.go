package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignal(t *testing.T) {
	var s Signal
	assert.False(t, s.IsSet())
	assert.False(t, s.Wait(time.Millisecond))

	s.Set()
	s.Set()
	assert.True(t, s.IsSet())
	assert.True(t, s.Wait(time.Hour))
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed while set")
	}

	s.Clear()
	assert.False(t, s.IsSet())
	select {
	case <-s.Done():
		t.Fatal("Done closed after clear")
	default:
	}
}

func TestSignal_Consume(t *testing.T) {
	var s Signal
	assert.False(t, s.Consume())
	s.Set()
	assert.True(t, s.Consume())
	assert.False(t, s.Consume())
	assert.False(t, s.IsSet())
}

func TestSignal_WaitWakes(t *testing.T) {
	var s Signal
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Set()
	}()
	assert.True(t, s.Wait(5*time.Second))
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "step 2: 3s remaining", Event{Type: EventDwellTick, Step: 2, RemainingSeconds: 3}.String())
	assert.Equal(t, "done", Event{Type: EventDone}.String())
	assert.True(t, Event{Type: EventError}.Terminal())
	assert.False(t, Event{Type: EventDwellTick}.Terminal())
}
