// Package controller runs the dual-battery allocation tick: it gathers
// telemetry, tracks the base, computes an allocation and applies it. All
// ticks are serialised; the allocation state is never shared.
package controller

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/actuator"
	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
	"github.com/charlie0129/dualbatt/pkg/tracker"
)

// Options are the collaborators of a Controller. Base and Port may be nil
// on boards without a detachable base.
type Options struct {
	Policy      policy.Policy
	BaseSupport bool

	Charger   device.Charger
	Base      device.Base
	Port      device.BasePort
	Host      device.Host
	LidGauge  device.LidGauge
	Adapter   device.AdapterSource
	Publisher device.Publisher
}

// Result describes one tick.
type Result struct {
	Decision allocator.Decision `json:"decision"`
	AC       bool               `json:"ac"`
	// ACChanged and ChargeChanged report edges the caller may want to react
	// to with an immediate recomputation.
	ACChanged     bool `json:"acChanged"`
	ChargeChanged bool `json:"chargeChanged"`
	LidPercent    int  `json:"lidPercent"`
	BasePercent   int  `json:"basePercent"`
}

// Controller owns the allocation state.
type Controller struct {
	mu sync.Mutex

	policy    policy.Policy
	engine    *allocator.Engine
	seq       *actuator.Sequencer
	tracker   *tracker.Tracker
	charger   device.Charger
	host      device.Host
	gauge     device.LidGauge
	adapter   device.AdapterSource
	publisher device.Publisher

	st          *allocator.State
	ac          bool
	lidPercent  int
	last        *allocator.Decision
	lastApplied *allocator.Decision
	lastErr     error
	lastTick    time.Time
	ticks       uint64
}

// New validates the policy and builds a controller.
func New(opts Options) (*Controller, error) {
	if opts.Charger == nil || opts.Host == nil || opts.LidGauge == nil || opts.Adapter == nil {
		return nil, pkgerrors.New("charger, host, lid gauge and adapter are required")
	}

	engine, err := allocator.NewEngine(opts.Policy)
	if err != nil {
		return nil, err
	}

	presence := tracker.NewPresence(opts.BaseSupport, opts.Port)

	c := &Controller{
		policy:     opts.Policy,
		engine:     engine,
		seq:        actuator.New(opts.Charger, opts.Base, opts.Port, presence, opts.Policy.OTGVoltage),
		tracker:    tracker.New(presence, opts.Base, opts.Port, opts.Host, opts.Publisher),
		charger:    opts.Charger,
		host:       opts.Host,
		gauge:      opts.LidGauge,
		adapter:    opts.Adapter,
		publisher:  opts.Publisher,
		st:         allocator.NewState(),
		lidPercent: -1,
	}

	logrus.WithFields(opts.Policy.LogrusFields()).Debug("policy loaded")

	return c, nil
}

// BaseConnected reports whether a base is attached.
func (c *Controller) BaseConnected() bool {
	return c.tracker.Connected()
}

// CheckExtPower returns the corrected AC flag.
func (c *Controller) CheckExtPower(ac, prevAC bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.CheckExtPower(ac, prevAC, c.st)
}

// AllocateAndApply runs the allocation on fresh telemetry and applies it.
// With debug, the estimates and the power split are logged.
func (c *Controller) AllocateAndApply(isFull, debug bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.allocateAndApply(c.gauge.Battery(), isFull, debug)
	return err
}

// Tick runs a complete control cycle.
func (c *Controller) Tick(debug bool) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevAC := c.ac
	c.ac = c.tracker.CheckExtPower(c.host.ExtPowerPresent(), prevAC, c.st)

	prevBase := c.st.ChargeBase
	c.tracker.UpdateBatteryInfo(c.st)

	lid := c.gauge.Battery()
	lidPercent := -1
	if pct, ok := lid.Percent(); ok {
		lidPercent = pct
	}
	prevLid := c.lidPercent
	c.lidPercent = lidPercent

	d, err := c.allocateAndApply(lid, lid.IsFull(), debug)

	return Result{
		Decision:      d,
		AC:            c.ac,
		ACChanged:     c.ac != prevAC,
		ChargeChanged: lidPercent != prevLid || c.st.ChargeBase != prevBase,
		LidPercent:    lidPercent,
		BasePercent:   c.st.ChargeBase,
	}, err
}

func (c *Controller) allocateAndApply(lid telemetry.Battery, isFull, debug bool) (allocator.Decision, error) {
	c.ticks++
	c.lastTick = time.Now()

	adapter := telemetry.Adapter{}
	if c.ac {
		adapter = c.adapter.Adapter()
	}

	in := allocator.Inputs{
		Adapter:       adapter,
		Lid:           lid,
		Base:          c.tracker.Base(),
		BaseAttached:  c.tracker.Connected(),
		Chipset:       c.host.Chipset(),
		SystemPowerMW: c.systemPower(),
	}

	d := c.engine.Allocate(in, c.st)
	c.last = &d

	if debug {
		c.logDebug(in, d)
	}

	if d.Hold {
		logrus.WithField("chipset", in.Chipset).Trace("holding previous currents")
		c.lastErr = nil
		return d, nil
	}

	if err := c.seq.Apply(d, isFull, c.st); err != nil {
		c.lastErr = err
		return d, pkgerrors.Wrap(err, "failed to apply allocation")
	}
	c.lastErr = nil

	if c.lastApplied == nil || !sameCurrents(*c.lastApplied, d) {
		c.publish(d)
	}
	c.lastApplied = &d

	return d, nil
}

// systemPower reads the lid system power. A failed read reuses the current
// estimate so that the history is not disturbed.
func (c *Controller) systemPower() int {
	p, err := c.charger.SystemPower()
	if err == nil {
		return p
	}
	logrus.WithError(err).Warn("failed to read system power")
	if v, ok := c.st.LidSystemPower.Value(); ok {
		return v
	}
	return 0
}

func (c *Controller) logDebug(in allocator.Inputs, d allocator.Decision) {
	fields := logrus.Fields{
		"branch":           d.Branch,
		"chipset":          in.Chipset,
		"desiredInput":     in.Adapter.DesiredInputCurrentMA,
		"inputVoltage":     in.Adapter.InputVoltageMV,
		"systemPower":      in.SystemPowerMW,
		"lidSystemPower":   c.st.LidSystemPower,
		"lidBatteryPower":  c.st.LidBatteryPower,
		"baseBatteryPower": c.st.BaseBatteryPower,
		"chargeBase":       c.st.ChargeBase,
	}
	if d.Split != nil {
		fields["totalPower"] = d.Split.TotalMW
		fields["powerBase"] = d.Split.PowerBaseMW
		fields["powerLid"] = d.Split.PowerLidMW
	}
	logrus.WithFields(fields).Info("allocation")
}

func (c *Controller) publish(d allocator.Decision) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(events.AllocationChanged, events.AllocationChangedEvent{
		Branch:          string(d.Branch),
		BaseCurrent:     d.BaseCurrentMA,
		AllowChargeBase: d.AllowChargeBase,
		LidCurrent:      d.LidCurrentMA,
		AllowChargeLid:  d.AllowChargeLid,
		Ts:              time.Now().Unix(),
	})
}

func sameCurrents(a, b allocator.Decision) bool {
	return a.BaseCurrentMA == b.BaseCurrentMA &&
		a.AllowChargeBase == b.AllowChargeBase &&
		a.LidCurrentMA == b.LidCurrentMA &&
		a.AllowChargeLid == b.AllowChargeLid
}

// Release puts the hardware in a safe state before the controller stops: no
// current to or from the base, and the whole input to the lid.
func (c *Controller) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := allocator.Decision{Branch: allocator.BranchRelease, AllowChargeLid: true}
	if c.ac {
		d.LidCurrentMA = c.adapter.Adapter().DesiredInputCurrentMA
	}
	lid := c.gauge.Battery()
	if err := c.seq.Apply(d, lid.IsFull(), c.st); err != nil {
		return pkgerrors.Wrap(err, "failed to release")
	}
	c.last = &d
	c.lastApplied = &d
	return nil
}
