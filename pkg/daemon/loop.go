package daemon

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/metrics"
)

// missedTickWindow is how many loop intervals are looked at when checking
// for missed ticks.
const missedTickWindow = 8

// TimeSeriesRecorder records the last N tick times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	// Interval is the expected time between two records.
	Interval      time.Duration
	LastTickTimes []time.Time
	mu            *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		LastTickTimes:  make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TimeSeriesRecorder) AddRecordNow() {
	r.AddRecord(time.Now())
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	// This will prevent time.Since from returning values that are not accurate (especially when the system is in sleep mode).
	t = t.Round(0)

	if len(r.LastTickTimes) >= r.MaxRecordCount {
		r.LastTickTimes = r.LastTickTimes[1:]
	}
	r.LastTickTimes = append(r.LastTickTimes, t)
}

// SetInterval changes the expected interval and drops the records taken
// with the old one.
func (r *TimeSeriesRecorder) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Interval = d
	r.LastTickTimes = make([]time.Time, 0)
}

// Len returns the number of records.
func (r *TimeSeriesRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.LastTickTimes)
}

// GetRecordsIn returns the number of continuous records in the last duration.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := r.Interval + r.Interval/2

	// The last record must be within the last duration.
	if len(r.LastTickTimes) > 0 && time.Since(r.LastTickTimes[len(r.LastTickTimes)-1]) >= gap {
		return 0
	}

	// Find continuous records from the end of the list.
	// Continuous records are defined as the time difference between
	// two adjacent records is less than 1.5 intervals.
	count := 0
	for i := len(r.LastTickTimes) - 1; i >= 0; i-- {
		record := r.LastTickTimes[i]
		if time.Since(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastTickTimes) {
			theRecordAfter = r.LastTickTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= gap {
			break
		}
		count++
	}

	return count
}

// GetLastRecords returns the records taken in the last duration, newest
// first.
func (r *TimeSeriesRecorder) GetLastRecords(last time.Duration) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	var records []time.Time
	for i := len(r.LastTickTimes) - 1; i >= 0; i-- {
		record := r.LastTickTimes[i]
		if time.Since(record) > last {
			break
		}
		records = append(records, record)
	}

	return records
}

func formatRelativeTimes(times []time.Time) []string {
	var timesString []string
	for _, t := range times {
		timesString = append(timesString, time.Since(t).Round(time.Millisecond).String())
	}
	return timesString
}

// Loop runs controller ticks: periodically, when an edge is seen, and on
// request. Ticks never overlap.
type Loop struct {
	ctrl     *controller.Controller
	conf     config.Config
	metrics  *metrics.Metrics
	host     device.Host
	gauge    device.LidGauge
	port     device.BasePort
	recorder *TimeSeriesRecorder
	trigger  chan struct{}

	lastStatus    loopStatus
	lastPrintTime time.Time
}

func NewLoop(ctrl *controller.Controller, conf config.Config, m *metrics.Metrics, host device.Host, gauge device.LidGauge, port device.BasePort) *Loop {
	return &Loop{
		ctrl:     ctrl,
		conf:     conf,
		metrics:  m,
		host:     host,
		gauge:    gauge,
		port:     port,
		recorder: NewTimeSeriesRecorder(2*missedTickWindow, conf.LoopInterval()),
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-cycle tick. It never blocks, and requests made
// while one is pending are merged.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	interval := l.conf.LoopInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	go l.watchEdges(ctx)

	l.tick()
	for {
		select {
		case <-ctx.Done():
			logrus.Debug("control loop stopped")
			return
		case <-ticker.C:
		case <-l.trigger:
			logrus.Trace("out-of-cycle tick")
		}

		if d := l.conf.LoopInterval(); d != interval {
			logrus.WithFields(logrus.Fields{
				"old": interval,
				"new": d,
			}).Info("loop interval changed")
			interval = d
			ticker.Reset(d)
			l.recorder.SetInterval(d)
		}

		l.tick()
	}
}

// tick runs one tick and records it.
func (l *Loop) tick() (controller.Result, error) {
	start := time.Now()
	r, err := l.ctrl.Tick(false)
	took := time.Since(start)

	if l.metrics != nil {
		l.metrics.ObserveTick(r, err, took)
	}
	l.recorder.AddRecordNow()
	l.checkMissedTicks()

	if err != nil {
		logrus.WithError(err).Error("tick failed")
		return r, err
	}

	l.printStatus(r)

	if r.ACChanged || r.ChargeChanged {
		logrus.WithFields(logrus.Fields{
			"ac":            r.AC,
			"acChanged":     r.ACChanged,
			"chargeChanged": r.ChargeChanged,
		}).Debug("edge seen during tick, recomputing")
		l.Trigger()
	}
	return r, nil
}

// watchEdges polls the cheap inputs and triggers a tick when one changes.
func (l *Loop) watchEdges(ctx context.Context) {
	interval := l.conf.EdgePollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := l.sampleEdges()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if d := l.conf.EdgePollInterval(); d != interval {
			interval = d
			ticker.Reset(d)
		}

		cur := l.sampleEdges()
		if cur != prev {
			logrus.WithFields(logrus.Fields{
				"ac":           cur.ac,
				"lidPercent":   cur.lidPercent,
				"baseAttached": cur.baseAttached,
			}).Debug("edge detected")
			l.Trigger()
		}
		prev = cur
	}
}

type edgeSample struct {
	ac           bool
	lidPercent   int
	baseAttached bool
}

func (l *Loop) sampleEdges() edgeSample {
	s := edgeSample{
		ac:         l.host.ExtPowerPresent(),
		lidPercent: -1,
	}
	if pct, ok := l.gauge.Battery().Percent(); ok {
		s.lidPercent = pct
	}
	if l.port != nil {
		s.baseAttached = l.port.Attached()
	}
	return s
}

func (l *Loop) checkMissedTicks() bool {
	window := missedTickWindow * l.recorder.Interval
	// Not enough history yet.
	if l.recorder.Len() < missedTickWindow {
		return false
	}

	tickCount := l.recorder.GetRecordsIn(window)
	minTickCount := missedTickWindow - 1

	if tickCount < minTickCount {
		logrus.WithFields(logrus.Fields{
			"tickCount":     tickCount,
			"minTickCount":  minTickCount,
			"recentRecords": formatRelativeTimes(l.recorder.GetLastRecords(window)),
		}).Infof("Possibly missed ticks")
		return true
	}
	return false
}

type loopStatus struct {
	ac          bool
	lidPercent  int
	basePercent int
	branch      allocator.Branch
	baseCurrent int
	lidCurrent  int
	hold        bool
}

func (l *Loop) printStatus(r controller.Result) {
	currentStatus := loopStatus{
		ac:          r.AC,
		lidPercent:  r.LidPercent,
		basePercent: r.BasePercent,
		branch:      r.Decision.Branch,
		baseCurrent: r.Decision.BaseCurrentMA,
		lidCurrent:  r.Decision.LidCurrentMA,
		hold:        r.Decision.Hold,
	}

	fields := logrus.Fields{
		"ac":          r.AC,
		"lidPercent":  r.LidPercent,
		"basePercent": r.BasePercent,
		"branch":      r.Decision.Branch,
		"baseCurrent": r.Decision.BaseCurrentMA,
		"lidCurrent":  r.Decision.LidCurrentMA,
		"hold":        r.Decision.Hold,
	}

	defer func() { l.lastPrintTime = time.Now() }()

	// Skip printing if the last print was recent and everything is the same.
	if time.Since(l.lastPrintTime) < l.conf.LoopInterval()+time.Second && reflect.DeepEqual(l.lastStatus, currentStatus) {
		logrus.WithFields(fields).Trace("loop status")
		return
	}

	logrus.WithFields(fields).Debug("loop status")

	l.lastStatus = currentStatus
}
