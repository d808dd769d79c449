// Package metrics exports allocation results to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlie0129/dualbatt/pkg/controller"
)

type Metrics struct {
	registry *prometheus.Registry

	current     *prometheus.GaugeVec
	allowCharge *prometheus.GaugeVec
	percent     *prometheus.GaugeVec
	estimate    *prometheus.GaugeVec
	ac          prometheus.Gauge
	ticks       prometheus.Counter
	failures    prometheus.Counter
	branches    *prometheus.CounterVec
	tickTime    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualbatt_current_milliamps",
			Help: "Applied current by side; negative when the side sources power.",
		}, []string{"side"}),
		allowCharge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualbatt_charge_allowed",
			Help: "Whether the side's battery is allowed to charge (0 or 1).",
		}, []string{"side"}),
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualbatt_battery_percent",
			Help: "State of charge by side; -1 when unknown.",
		}, []string{"side"}),
		estimate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dualbatt_power_estimate_milliwatts",
			Help: "Smoothed power estimates used by the allocator.",
		}, []string{"estimate"}),
		ac: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dualbatt_ac_present",
			Help: "Corrected AC flag (0 or 1).",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dualbatt_ticks_total",
			Help: "Total control ticks run.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dualbatt_actuation_failures_total",
			Help: "Total ticks aborted by a device command failure.",
		}),
		branches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dualbatt_branch_total",
			Help: "Total ticks by allocation branch.",
		}, []string{"branch"}),
		tickTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dualbatt_tick_duration_seconds",
			Help:    "Histogram of control tick durations.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.current,
		m.allowCharge,
		m.percent,
		m.estimate,
		m.ac,
		m.ticks,
		m.failures,
		m.branches,
		m.tickTime,
	)

	return m
}

// ObserveTick records one tick and how long it took.
func (m *Metrics) ObserveTick(r controller.Result, err error, took time.Duration) {
	m.ticks.Inc()
	m.tickTime.Observe(took.Seconds())
	m.ac.Set(boolGauge(r.AC))
	m.percent.WithLabelValues("lid").Set(float64(r.LidPercent))
	m.percent.WithLabelValues("base").Set(float64(r.BasePercent))

	if err != nil {
		m.failures.Inc()
		return
	}
	d := r.Decision
	m.branches.WithLabelValues(string(d.Branch)).Inc()
	if d.Hold {
		return
	}
	m.current.WithLabelValues("base").Set(float64(d.BaseCurrentMA))
	m.current.WithLabelValues("lid").Set(float64(d.LidCurrentMA))
	m.allowCharge.WithLabelValues("base").Set(boolGauge(d.AllowChargeBase))
	m.allowCharge.WithLabelValues("lid").Set(boolGauge(d.AllowChargeLid))
	if d.Split != nil {
		m.estimate.WithLabelValues("lid_system").Set(float64(d.Split.LidSystemMW))
		m.estimate.WithLabelValues("lid_battery").Set(float64(d.Split.LidBatteryMW))
		m.estimate.WithLabelValues("base_battery").Set(float64(d.Split.BaseBatteryMW))
	}
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
