package rs232

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/tarm/serial"
)

// ErrPortLocked is returned when another process already holds the port.
var ErrPortLocked = errors.New("serial port in use by another process")

// Options configure a serial port connection.
type Options struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration

	// LockDir holds the per-port lock file; defaults to os.TempDir().
	LockDir string
}

// Port is a Conn bound to an open serial device.
type Port struct {
	*Conn

	lock *flock.Flock
}

// LockPath returns the lock file used for a port name.
func LockPath(dir, name string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	base := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimPrefix(name, "/dev/"))
	return filepath.Join(dir, "hotplate-"+base+".lock")
}

// Open locks and opens the serial port described by opt.
func Open(opt Options) (*Port, error) {
	if opt.Baud == 0 {
		opt.Baud = 2400
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = time.Second
	}

	lock := flock.New(LockPath(opt.LockDir, opt.Name))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPortLocked, opt.Name)
	}

	sp, err := serial.OpenPort(&serial.Config{Name: opt.Name, Baud: opt.Baud, ReadTimeout: opt.ReadTimeout})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", opt.Name, err)
	}

	return &Port{Conn: NewConn(sp), lock: lock}, nil
}

// Close closes the serial port and releases its lock.
func (p *Port) Close() error {
	err := p.Conn.Close()
	return errors.Join(err, p.lock.Unlock())
}
