package rs232

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// device answers each written command from a table; unknown commands get no reply.
type device struct {
	mx      sync.Mutex
	replies map[string]string
	written []string
	out     bytes.Buffer
	chunk   int
}

func (d *device) Write(p []byte) (int, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	cmd := strings.TrimSuffix(string(p), "\r")
	d.written = append(d.written, cmd)
	d.out.WriteString(d.replies[cmd])
	return len(p), nil
}

func (d *device) Read(p []byte) (int, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.out.Len() == 0 {
		return 0, io.EOF
	}
	if d.chunk > 0 && len(p) > d.chunk {
		p = p[:d.chunk]
	}
	return d.out.Read(p)
}

func TestConn_Commands(t *testing.T) {
	d := &device{replies: map[string]string{
		"A100": "OK\r\n",
		"D50":  "OK\r\n",
		"E200": "OK\r\n",
		"F":    "OK\r\n",
		"G":    "OK\r\n",
	}}
	c := NewConn(d)

	require.NoError(t, hotplate.ApplySetpoint(c, hotplate.Setpoint{Temperature: 100, RampRate: 50, StirSpeed: 200}))
	require.NoError(t, hotplate.Off(c))
	assert.Equal(t, []string{"A100", "D50", "E200", "G", "F"}, d.written)
}

func TestConn_Redirects(t *testing.T) {
	d := &device{replies: map[string]string{"F": "OK\r", "G": "OK\r"}}
	c := NewConn(d)

	require.NoError(t, c.SetTargetTemperature(25))
	require.NoError(t, c.SetStirSpeed(1))
	require.NoError(t, c.SetTargetTemperature(-5))
	assert.Equal(t, []string{"G", "F", "G"}, d.written)
}

func TestConn_Rejected(t *testing.T) {
	d := &device{replies: map[string]string{"A100": "ERR\r"}}
	c := NewConn(d)

	err := c.SetTargetTemperature(100)
	assert.True(t, errors.Is(err, hotplate.ErrRejected))
	var opErr *hotplate.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "set_temperature", opErr.Op)
}

func TestConn_NoReply(t *testing.T) {
	c := NewConn(&device{})
	_, err := c.ReadTemperature()
	assert.True(t, errors.Is(err, ErrNoReply))
}

type brokenPort struct{ err error }

func (b brokenPort) Write(p []byte) (int, error) { return len(p), nil }
func (b brokenPort) Read(p []byte) (int, error)  { return 0, b.err }

func TestConn_ReadError(t *testing.T) {
	closed := errors.New("port closed")
	c := NewConn(brokenPort{err: closed})
	_, err := c.ReadTemperature()
	assert.True(t, errors.Is(err, closed))
	assert.False(t, errors.Is(err, ErrNoReply))
	var opErr *hotplate.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "read_temperature", opErr.Op)
}

func TestConn_Queries(t *testing.T) {
	d := &device{
		replies: map[string]string{
			"a": "T 97C\r\n",
			"e": "-5\r\n",
			"d": "50 C/hr\r\n",
			"g": "stir ???\r\n",
		},
		chunk: 2,
	}
	c := NewConn(d)

	v, err := c.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 97, v)

	v, err = c.ReadTargetTemperature()
	require.NoError(t, err)
	assert.Equal(t, -5, v)

	v, err = c.ReadRampRate()
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = c.ReadStirSpeed()
	assert.Error(t, err)
}

func TestConn_PendingAfterTerminator(t *testing.T) {
	// two replies arriving in one read must not be merged
	d := &device{replies: map[string]string{"a": "81\r\n82\r\n"}}
	c := NewConn(d)

	v, err := c.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 81, v)

	d.replies["a"] = ""
	v, err = c.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 82, v)
}

func TestConn_Concurrent(t *testing.T) {
	d := &device{replies: map[string]string{"a": "50\r", "A100": "OK\r", "D5": "OK\r", "E300": "OK\r"}}
	c := NewConn(d)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, err := c.ReadTemperature()
			assert.NoError(t, err)
			assert.Equal(t, 50, v)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, hotplate.ApplySetpoint(c, hotplate.Setpoint{Temperature: 100, RampRate: 5, StirSpeed: 300}))
		}()
	}
	wg.Wait()
}

func TestOpen_Locked(t *testing.T) {
	dir := t.TempDir()
	l := flock.New(LockPath(dir, "/dev/ttyUSB0"))
	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer l.Unlock()

	_, err = Open(Options{Name: "/dev/ttyUSB0", LockDir: dir})
	assert.True(t, errors.Is(err, ErrPortLocked))
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, "/var/lock/hotplate-ttyUSB0.lock", LockPath("/var/lock", "/dev/ttyUSB0"))
	assert.Equal(t, "/var/lock/hotplate-COM3.lock", LockPath("/var/lock", "COM3"))
}
