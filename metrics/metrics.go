// Package metrics exposes hotplate and recipe state to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastercactapus/hotplate/engine"
	"github.com/mastercactapus/hotplate/hotplate"
)

// Collector holds the metrics for one hotplate.
type Collector struct {
	registry *prometheus.Registry

	temperature prometheus.Gauge
	setpoint    prometheus.Gauge
	rampRate    prometheus.Gauge
	stirSpeed   prometheus.Gauge

	transportErrors *prometheus.CounterVec
	runs            *prometheus.CounterVec
	step            prometheus.Gauge
	dwellRemaining  prometheus.Gauge
	awaiting        prometheus.Gauge
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_temperature_celsius",
			Help: "Last polled plate temperature",
		}),
		setpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_setpoint_celsius",
			Help: "Last polled target temperature",
		}),
		rampRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_ramp_rate_celsius_per_hour",
			Help: "Last polled ramp rate",
		}),
		stirSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_stir_speed_rpm",
			Help: "Last polled stirrer speed",
		}),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotplate_transport_errors_total",
				Help: "Failed device operations",
			},
			[]string{"op"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotplate_recipe_runs_total",
				Help: "Finished recipe runs by outcome",
			},
			[]string{"result"},
		),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_recipe_step",
			Help: "Current recipe step (1-based), 0 when idle",
		}),
		dwellRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_recipe_dwell_remaining_seconds",
			Help: "Remaining dwell time of the current step",
		}),
		awaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hotplate_recipe_awaiting_continue",
			Help: "1 while the recipe waits for a continue signal",
		}),
	}
	c.registry.MustRegister(
		c.temperature, c.setpoint, c.rampRate, c.stirSpeed,
		c.transportErrors, c.runs, c.step, c.dwellRemaining, c.awaiting,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStatus records a polled status.
func (c *Collector) ObserveStatus(s hotplate.Status) {
	c.temperature.Set(float64(s.Temperature))
	c.setpoint.Set(float64(s.Setpoint))
	c.rampRate.Set(float64(s.RampRate))
	c.stirSpeed.Set(float64(s.StirSpeed))
}

// TransportError counts a failed device operation.
func (c *Collector) TransportError(err error) {
	op := "unknown"
	var opErr *hotplate.OpError
	if errors.As(err, &opErr) {
		op = opErr.Op
	}
	c.transportErrors.WithLabelValues(op).Inc()
}

// ObserveEvent updates recipe progress from an engine event.
func (c *Collector) ObserveEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventStepStart:
		c.step.Set(float64(ev.Step))
		c.awaiting.Set(0)
		c.dwellRemaining.Set(0)
	case engine.EventStabilizing:
		c.temperature.Set(float64(ev.Temp))
	case engine.EventDwellStart:
		c.dwellRemaining.Set(float64(ev.DwellSeconds))
	case engine.EventDwellTick:
		c.dwellRemaining.Set(float64(ev.RemainingSeconds))
	case engine.EventAwaitContinue:
		c.awaiting.Set(1)
	case engine.EventDone, engine.EventCancelled, engine.EventError:
		c.step.Set(0)
		c.awaiting.Set(0)
		c.dwellRemaining.Set(0)
		c.runs.WithLabelValues(string(ev.Type)).Inc()
	}
}
