// Package config loads hotplate settings from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/hotplate"
	"github.com/mastercactapus/hotplate/hotplate/rs232"
)

// Serial configures the RS-232 connection.
type Serial struct {
	Port          string `toml:"port" yaml:"port"`
	Baud          int    `toml:"baud" yaml:"baud"`
	ReadTimeoutMS int    `toml:"read_timeout_ms" yaml:"read_timeout_ms"`
	LockDir       string `toml:"lock_dir" yaml:"lock_dir"`
}

// Server configures the HTTP API.
type Server struct {
	Addr    string `toml:"addr" yaml:"addr"`
	DataDir string `toml:"data_dir" yaml:"data_dir"`
}

// Engine holds recipe timing, all in milliseconds.
type Engine struct {
	PollIntervalMS int `toml:"poll_interval_ms" yaml:"poll_interval_ms"`
	SampleEvery    int `toml:"sample_every" yaml:"sample_every"`
	DwellTickMS    int `toml:"dwell_tick_ms" yaml:"dwell_tick_ms"`
	ContinuePollMS int `toml:"continue_poll_ms" yaml:"continue_poll_ms"`
	MaxStabilizeMS int `toml:"max_stabilize_ms" yaml:"max_stabilize_ms"`
}

// Poller configures background status polling.
type Poller struct {
	IntervalMS     int `toml:"interval_ms" yaml:"interval_ms"`
	ErrorBackoffMS int `toml:"error_backoff_ms" yaml:"error_backoff_ms"`
}

// History configures the run journal.
type History struct {
	Path string `toml:"path" yaml:"path"`
}

// Config is the full hotplate configuration.
type Config struct {
	Serial  Serial  `toml:"serial" yaml:"serial"`
	Server  Server  `toml:"server" yaml:"server"`
	Engine  Engine  `toml:"engine" yaml:"engine"`
	Poller  Poller  `toml:"poller" yaml:"poller"`
	History History `toml:"history" yaml:"history"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Serial: Serial{
			Port:          "/dev/ttyUSB0",
			Baud:          2400,
			ReadTimeoutMS: 1000,
		},
		Server: Server{
			Addr:    ":9091",
			DataDir: "./data",
		},
		Engine: Engine{
			PollIntervalMS: 200,
			SampleEvery:    5,
			DwellTickMS:    1000,
			ContinuePollMS: 200,
		},
		Poller: Poller{
			IntervalMS:     1000,
			ErrorBackoffMS: 500,
		},
		History: History{
			Path: "./data/history.db",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// An empty path, or one that does not exist, yields the defaults.
// Files ending in .yaml or .yml are decoded as YAML, anything else as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Serial.Baud <= 0 {
		errs = append(errs, errors.New("serial.baud must be positive"))
	}
	if c.Serial.ReadTimeoutMS <= 0 {
		errs = append(errs, errors.New("serial.read_timeout_ms must be positive"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must be set"))
	}
	if c.Server.DataDir == "" {
		errs = append(errs, errors.New("server.data_dir must be set"))
	}
	if c.Engine.PollIntervalMS <= 0 {
		errs = append(errs, errors.New("engine.poll_interval_ms must be positive"))
	}
	if c.Engine.SampleEvery <= 0 {
		errs = append(errs, errors.New("engine.sample_every must be positive"))
	}
	if c.Engine.DwellTickMS <= 0 {
		errs = append(errs, errors.New("engine.dwell_tick_ms must be positive"))
	}
	if c.Engine.ContinuePollMS <= 0 {
		errs = append(errs, errors.New("engine.continue_poll_ms must be positive"))
	}
	if c.Engine.MaxStabilizeMS < 0 {
		errs = append(errs, errors.New("engine.max_stabilize_ms must not be negative"))
	}
	if c.Poller.IntervalMS <= 0 {
		errs = append(errs, errors.New("poller.interval_ms must be positive"))
	}
	if c.Poller.ErrorBackoffMS < 0 {
		errs = append(errs, errors.New("poller.error_backoff_ms must not be negative"))
	}
	if c.History.Path == "" {
		errs = append(errs, errors.New("history.path must be set"))
	}
	return errors.Join(errs...)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		PollInterval: ms(c.Engine.PollIntervalMS),
		SampleEvery:  c.Engine.SampleEvery,
		DwellTick:    ms(c.Engine.DwellTickMS),
		ContinuePoll: ms(c.Engine.ContinuePollMS),
		MaxStabilize: ms(c.Engine.MaxStabilizeMS),
	}
}

// PollerOptions converts the poller section.
func (c *Config) PollerOptions() hotplate.PollerOptions {
	return hotplate.PollerOptions{
		Interval:     ms(c.Poller.IntervalMS),
		ErrorBackoff: ms(c.Poller.ErrorBackoffMS),
	}
}

// SerialOptions converts the serial section.
func (c *Config) SerialOptions() rs232.Options {
	return rs232.Options{
		Name:        c.Serial.Port,
		Baud:        c.Serial.Baud,
		ReadTimeout: ms(c.Serial.ReadTimeoutMS),
		LockDir:     c.Serial.LockDir,
	}
}
