// Package tracker follows the base connection: it keeps the cached base
// battery information up to date, raises battery notifications on edges and
// corrects the AC flag while the base is sourcing power.
package tracker

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// Tracker is owned by the controller and is only used from its tick.
type Tracker struct {
	presence  Presence
	base      device.Base
	port      device.BasePort
	host      device.Host
	publisher device.Publisher

	info          telemetry.Battery
	static        *telemetry.StaticInfo
	staticFetched bool
}

// New returns a tracker. base, port, host and publisher may be nil when the
// board has no such collaborator.
func New(presence Presence, base device.Base, port device.BasePort, host device.Host, publisher device.Publisher) *Tracker {
	if presence == nil {
		presence = NoBase{}
	}
	return &Tracker{
		presence:  presence,
		base:      base,
		port:      port,
		host:      host,
		publisher: publisher,
		info:      telemetry.Invalid(),
	}
}

// Connected reports whether a base is attached.
func (t *Tracker) Connected() bool {
	return t.presence.Connected()
}

// Presence returns the presence capability in use.
func (t *Tracker) Presence() Presence {
	return t.presence
}

// Base returns the cached base snapshot, or nil when no base is connected.
func (t *Tracker) Base() *telemetry.Battery {
	if !t.Connected() {
		return nil
	}
	b := t.info
	return &b
}

// Static returns the cached static information of the base battery.
func (t *Tracker) Static() *telemetry.StaticInfo {
	if t.static == nil {
		return nil
	}
	s := *t.static
	return &s
}

// UpdateBatteryInfo refreshes the cached base battery information.
func (t *Tracker) UpdateBatteryInfo(st *allocator.State) {
	if !t.Connected() {
		if t.info.Flags != telemetry.InvalidData {
			t.info = telemetry.Invalid()
			t.static = nil
			t.staticFetched = false
			t.publish(events.BatteryChanged)
			t.publish(events.BatteryStatus)
		}
		st.ResetBase()
		return
	}

	if !st.Link.Seen() || t.base == nil {
		return
	}

	old := t.info
	info, err := t.base.DynamicInfo()
	if err != nil {
		logrus.WithError(err).Error("failed to get base dynamic info")
		st.Link = allocator.LinkUnresponsive
		return
	}
	t.info = info

	flagsChanged := old.Flags != info.Flags
	// Static info only changes when a battery comes or goes.
	const identity = telemetry.InvalidData | telemetry.Present
	if old.Flags&identity != info.Flags&identity || !t.staticFetched {
		t.fetchStatic(st)
	}

	// Newly connected battery, or change in capacity.
	if old.Flags.Has(telemetry.InvalidData) ||
		old.Flags&telemetry.Present != info.Flags&telemetry.Present ||
		old.FullCapacityMAh != info.FullCapacityMAh {
		t.publish(events.BatteryChanged)
	}
	if flagsChanged {
		t.publish(events.BatteryStatus)
	}

	charge := t.chargePercent()
	if charge != st.ChargeBase {
		logrus.WithFields(logrus.Fields{
			"from": st.ChargeBase,
			"to":   charge,
		}).Debug("base charge changed")
		st.ChargeBase = charge
		t.publish(events.BatteryChanged)
	}
}

func (t *Tracker) fetchStatic(st *allocator.State) {
	static, err := t.base.StaticInfo()
	if err != nil {
		logrus.WithError(err).Error("failed to get base static info")
		st.Link = allocator.LinkUnresponsive
		return
	}
	t.static = &static
	t.staticFetched = true
	logrus.WithFields(logrus.Fields{
		"manufacturer": static.Manufacturer,
		"model":        static.Model,
		"serial":       static.Serial,
	}).Debug("base static info updated")
}

// chargePercent is the base state of charge, falling back to the design
// capacity when the full capacity is unknown.
func (t *Tracker) chargePercent() int {
	if t.info.Flags.Has(telemetry.InvalidData | telemetry.BadRemainingCapacity) {
		return allocator.ChargeUnknown
	}
	full := t.info.FullCapacityMAh
	if full <= 0 || t.info.Flags.Has(telemetry.BadFullCapacity) {
		full = 0
		if t.static != nil {
			full = t.static.DesignCapacityMAh
		}
	}
	if full <= 0 {
		return 100
	}
	pct := 100 * t.info.RemainingCapacityMAh / full
	return min(max(pct, 0), 100)
}

// CheckExtPower returns the corrected AC flag. While the base sources power
// the lid sees voltage on its input, which is not an adapter.
func (t *Tracker) CheckExtPower(ac, prevAC bool, st *allocator.State) bool {
	if st.PrevCurrentBase < 0 {
		ac = false
	}

	if t.host != nil && t.host.Chipset() == device.ChipsetOff && !prevAC && ac && t.port != nil {
		// The base was hibernated when the system went off; wake it up.
		if err := t.port.Reset(); err != nil {
			logrus.WithError(err).Error("failed to reset base")
		} else {
			logrus.Info("base reset on AC connect")
		}
	}

	return ac
}

func (t *Tracker) publish(name string) {
	if t.publisher == nil {
		return
	}
	pct := -1
	if p, ok := t.info.Percent(); ok {
		pct = p
	}
	t.publisher.Publish(name, events.BatteryChangedEvent{
		Side:    "base",
		Present: t.info.Flags.Has(telemetry.Present),
		Percent: pct,
		Flags:   uint16(t.info.Flags),
		Ts:      time.Now().Unix(),
	})
}
