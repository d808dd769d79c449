package sim

import (
	"time"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// baseSystemPowerMW is what the simulated base consumes on its own.
const baseSystemPowerMW = 600

// Board wires the simulated devices together and moves charge between the
// two batteries according to the currents last applied.
type Board struct {
	Log     *Log
	Charger *Charger
	Base    *Base
	Port    *Port
	Host    *Host
	Gauge   *Gauge
	Adapter *AdapterSource

	// OTGVoltageMV is the voltage of the power path between lid and base.
	OTGVoltageMV int

	// Sub-mAh charge carried over between steps.
	lidCharge, baseCharge float64
}

// NewBoard returns a board with both batteries half full, an attached base and
// a 60 W adapter plugged in.
func NewBoard() *Board {
	log := &Log{}
	b := &Board{
		Log:     log,
		Charger: NewCharger(log),
		Base:    NewBase(log),
		Port:    NewPort(log, true),
		Host:    NewHost(device.ChipsetOn, true),
		Gauge: NewGauge(telemetry.Battery{
			VoltageMV:            11400,
			DesiredVoltageMV:     13050,
			DesiredCurrentMA:     3000,
			RemainingCapacityMAh: 2500,
			FullCapacityMAh:      5000,
			Flags:                telemetry.Present,
		}),
		Adapter: NewAdapterSource(telemetry.Adapter{
			DesiredInputCurrentMA: 3000,
			InputVoltageMV:        20000,
		}),
		OTGVoltageMV: 12000,
	}
	b.Charger.SystemPowerMW = 8000
	return b
}

// Unplug removes the adapter.
func (b *Board) Unplug() {
	b.Host.SetExtPower(false)
	b.Adapter.SetAdapter(telemetry.Adapter{})
}

// Plug connects an adapter.
func (b *Board) Plug(a telemetry.Adapter) {
	b.Host.SetExtPower(true)
	b.Adapter.SetAdapter(a)
}

// Step advances the simulation by dt.
func (b *Board) Step(dt time.Duration) {
	hours := dt.Hours()
	adapter := b.Adapter.Adapter()
	attached := b.Port.Attached()

	b.Charger.mu.Lock()
	inputLimit := b.Charger.InputLimitMA
	otgCurrent := b.Charger.OutputCurrentMA
	charging := b.Charger.Charging
	systemMW := b.Charger.SystemPowerMW
	b.Charger.mu.Unlock()

	b.Base.mu.Lock()
	baseCurrent := b.Base.CurrentMA
	baseAllow := b.Base.AllowCharge
	hibernated := b.Base.Hibernated
	b.Base.mu.Unlock()

	// Power flowing into the lid from outside, and out of it to the base.
	var lidInMW, lidOutMW, baseInMW int
	switch {
	case adapter.TotalPowerMW() > 0:
		lidInMW = min(inputLimit, adapter.DesiredInputCurrentMA) * adapter.InputVoltageMV / 1000
		if attached && baseCurrent > 0 {
			baseInMW = baseCurrent * adapter.InputVoltageMV / 1000
		}
	case attached && baseCurrent < 0:
		lidInMW = min(-baseCurrent, inputLimit) * b.OTGVoltageMV / 1000
		baseInMW = baseCurrent * b.OTGVoltageMV / 1000
	case attached && otgCurrent > 0:
		lidOutMW = otgCurrent * b.OTGVoltageMV / 1000
		baseInMW = lidOutMW
	}

	lid := b.Gauge.Battery()
	net := lidInMW - lidOutMW - systemMW
	if net > 0 && !charging {
		net = 0
	}
	lid = drain(lid, net, hours, &b.lidCharge)
	b.Gauge.SetBattery(lid)

	if !attached || hibernated {
		return
	}
	info, err := b.Base.DynamicInfo()
	if err != nil {
		return
	}
	baseNet := baseInMW - baseSystemPowerMW
	if baseNet > 0 && !baseAllow {
		baseNet = 0
	}
	b.Base.SetInfo(drain(info, baseNet, hours, &b.baseCharge))
}

// drain applies a net battery power for the given duration.
func drain(bat telemetry.Battery, netMW int, hours float64, carry *float64) telemetry.Battery {
	if bat.VoltageMV <= 0 {
		return bat
	}
	current := netMW * 1000 / bat.VoltageMV
	if current > 0 && bat.DesiredCurrentMA > 0 {
		current = min(current, bat.DesiredCurrentMA)
	}
	bat.CurrentMA = current
	*carry += float64(current) * hours
	whole := int(*carry)
	*carry -= float64(whole)
	remaining := bat.RemainingCapacityMAh + whole
	bat.RemainingCapacityMAh = min(max(remaining, 0), bat.FullCapacityMAh)
	if bat.RemainingCapacityMAh >= bat.FullCapacityMAh {
		bat.Flags |= telemetry.FullyCharged
		bat.CurrentMA = min(bat.CurrentMA, 0)
	} else {
		bat.Flags &^= telemetry.FullyCharged
	}
	return bat
}
