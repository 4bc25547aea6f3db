package rs232

import (
	"bytes"
	"errors"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mastercactapus/hotplate/hotplate"
)

// ErrNoReply is returned when the device sends nothing before the read times out.
var ErrNoReply = errors.New("no reply from device")

// maxReply mirrors the device's longest response.
const maxReply = 100

var rxNumber = regexp.MustCompile(`-?[0-9]+`)

// Conn represents a direct connection to a hotplate controller.
//
// Every command is a single write followed by a single reply; mx is held
// for the whole exchange so concurrent callers never interleave on the wire.
type Conn struct {
	rw io.ReadWriter

	mx      sync.Mutex
	wMx     sync.Mutex
	pending []byte
}

var _ hotplate.StatusReader = &Conn{}
var _ hotplate.Exclusive = &Conn{}

// NewConn creates a new Conn using the provided ReadWriter for data.
//
// Reads on rw are expected to time out, returning 0 bytes or io.EOF.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// Close will close the underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Exclusive runs fn while holding the write-group lock. Other Exclusive
// callers wait; single exchanges from other goroutines may still run
// between the commands fn issues.
func (c *Conn) Exclusive(fn func() error) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()
	return fn()
}

// readReply reads one reply, stopping at a line terminator or a read timeout.
func (c *Conn) readReply() (string, error) {
	var reply []byte
	buf := make([]byte, maxReply)
	for len(reply) < maxReply {
		var chunk []byte
		if len(c.pending) > 0 {
			chunk, c.pending = c.pending, nil
		} else {
			n, err := c.rw.Read(buf)
			if err != nil && err != io.EOF {
				return "", err
			}
			if n == 0 {
				break
			}
			chunk = buf[:n]
		}

		if len(reply) == 0 {
			chunk = bytes.TrimLeft(chunk, "\r\n")
		}
		if i := bytes.IndexAny(chunk, "\r\n"); i >= 0 {
			reply = append(reply, chunk[:i]...)
			if rest := bytes.TrimLeft(chunk[i:], "\r\n"); len(rest) > 0 {
				c.pending = append([]byte(nil), rest...)
			}
			break
		}
		reply = append(reply, chunk...)
	}
	if len(reply) == 0 {
		return "", ErrNoReply
	}
	return string(reply), nil
}

func (c *Conn) exchange(op, cmd string) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	_, err := io.WriteString(c.rw, cmd+"\r")
	if err != nil {
		return "", &hotplate.OpError{Op: op, Err: err}
	}
	reply, err := c.readReply()
	if err != nil {
		return "", &hotplate.OpError{Op: op, Err: err}
	}
	return reply, nil
}

func (c *Conn) command(op, cmd string) error {
	reply, err := c.exchange(op, cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, "OK") {
		return &hotplate.OpError{Op: op, Err: hotplate.ErrRejected}
	}
	return nil
}

func (c *Conn) query(op, cmd string) (int, error) {
	reply, err := c.exchange(op, cmd)
	if err != nil {
		return 0, err
	}
	s := rxNumber.FindString(reply)
	if s == "" {
		return 0, &hotplate.OpError{Op: op, Err: errors.New("unexpected reply: " + strconv.Quote(reply))}
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, &hotplate.OpError{Op: op, Err: err}
	}
	return val, nil
}

func (c *Conn) SetTargetTemperature(celsius int) error {
	if hotplate.RedirectsToHeaterOff(celsius) {
		log.Printf("target %d°C at or below %d°C, turning heater off", celsius, hotplate.HeaterOffAtOrBelow)
		return c.HeaterOff()
	}
	return c.command("set_temperature", "A"+strconv.Itoa(celsius))
}

func (c *Conn) SetRampRate(celsiusPerHour int) error {
	return c.command("set_ramp", "D"+strconv.Itoa(celsiusPerHour))
}

func (c *Conn) SetStirSpeed(rpm int) error {
	if hotplate.RedirectsToStirOff(rpm) {
		log.Printf("stir %d RPM at or below %d RPM, turning stirrer off", rpm, hotplate.StirOffAtOrBelow)
		return c.StirrerOff()
	}
	return c.command("set_stir", "E"+strconv.Itoa(rpm))
}

func (c *Conn) StirrerOff() error { return c.command("stirrer_off", "F") }
func (c *Conn) HeaterOff() error  { return c.command("heater_off", "G") }

func (c *Conn) ReadTemperature() (int, error)       { return c.query("read_temperature", "a") }
func (c *Conn) ReadTargetTemperature() (int, error) { return c.query("read_setpoint", "e") }
func (c *Conn) ReadRampRate() (int, error)          { return c.query("read_ramp", "d") }
func (c *Conn) ReadStirSpeed() (int, error)         { return c.query("read_stir", "g") }
