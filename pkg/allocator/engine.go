// Package allocator decides, every control tick, how the adapter input
// current is split between the lid and the detachable base, and in which
// direction power flows between the two batteries when there is no AC.
package allocator

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/dualbatt/internal/mathx"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/smoothing"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// Branch names the rule that produced a Decision.
type Branch string

// Branches a Decision can come from. BranchRelease is only produced by the
// controller when it hands the hardware back on shutdown.
const (
	BranchNoBase     Branch = "no-base"
	BranchManualNoAC Branch = "manual-no-ac"
	BranchOff        Branch = "system-off"
	BranchSuspend    Branch = "system-suspend"
	BranchBaseToLid  Branch = "base-to-lid"
	BranchLidToBase  Branch = "lid-to-base"
	BranchManualAC   Branch = "manual-ac"
	BranchBudget     Branch = "budget"
	BranchHold       Branch = "hold"
	BranchRelease    Branch = "release"
)

// Inputs is the telemetry snapshot of one tick.
type Inputs struct {
	Adapter telemetry.Adapter
	Lid     telemetry.Battery
	// Base is nil when there is no data from the base this tick.
	Base          *telemetry.Battery
	BaseAttached  bool
	Chipset       device.ChipsetState
	SystemPowerMW int
}

// Split is the power budget breakdown of the charging regime.
type Split struct {
	TotalMW       int `json:"total"`
	LidSystemMW   int `json:"lidSystem"`
	LidBatteryMW  int `json:"lidBattery"`
	BaseBatteryMW int `json:"baseBattery"`
	PowerBaseMW   int `json:"powerBase"`
	PowerLidMW    int `json:"powerLid"`
}

// Decision is what the allocator wants applied. Positive currents are drawn
// by that side, negative currents are sourced by it.
type Decision struct {
	BaseCurrentMA   int  `json:"baseCurrent"`
	AllowChargeBase bool `json:"allowChargeBase"`
	LidCurrentMA    int  `json:"lidCurrent"`
	AllowChargeLid  bool `json:"allowChargeLid"`
	Hibernate       bool `json:"hibernate,omitempty"`
	// BasePowerOff switches the power path to the base off after the
	// currents are applied.
	BasePowerOff bool   `json:"basePowerOff,omitempty"`
	Hold         bool   `json:"hold,omitempty"`
	Branch       Branch `json:"branch"`
	Split        *Split `json:"split,omitempty"`
}

// Engine is the allocation algorithm. It holds no state of its own.
type Engine struct {
	policy policy.Policy
}

// NewEngine returns an engine for a validated policy.
func NewEngine(p policy.Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid policy")
	}
	return &Engine{policy: p}, nil
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

// Allocate computes the decision of one tick. It updates the smoothing
// history in st but never the previously applied currents, which only the
// sequencer advances.
func (e *Engine) Allocate(in Inputs, st *State) Decision {
	if !in.BaseAttached {
		st.BaseBatteryPower.Reset()
		return Decision{
			Branch:         BranchNoBase,
			LidCurrentMA:   in.Adapter.DesiredInputCurrentMA,
			AllowChargeLid: true,
		}
	}

	// Without adapter power, including while an adapter is being detected.
	if in.Adapter.TotalPowerMW() <= 0 {
		st.ResetPower()
		return e.discharging(in, st)
	}

	return e.charging(in, st)
}

func (e *Engine) discharging(in Inputs, st *State) Decision {
	p := e.policy
	critical := st.BaseCritical(p.MaxChargeBaseBattToBatt)

	if st.ManualNoAC != nil {
		transfer := *st.ManualNoAC
		if transfer > 0 {
			return Decision{
				Branch:        BranchManualNoAC,
				BaseCurrentMA: transfer,
				LidCurrentMA:  -smoothing.AddMargin(transfer, p.MarginOTGCurrent),
			}
		}
		return Decision{
			Branch:        BranchManualNoAC,
			BaseCurrentMA: -smoothing.AddMargin(-transfer, p.MarginOTGCurrent),
			LidCurrentMA:  -transfer,
		}
	}

	switch in.Chipset {
	case device.ChipsetOff:
		// Cut power to the base; it is reset again when the system restarts
		// or AC is plugged. A critically low base is still kept alive.
		if !critical {
			return Decision{Branch: BranchOff, Hibernate: st.Link.Seen(), BasePowerOff: true}
		}
	case device.ChipsetSuspend:
		// Let both sides idle on their own battery unless the base could not
		// recover on its own.
		if !critical {
			return Decision{Branch: BranchSuspend}
		}
	case device.ChipsetOn:
	default:
		return Decision{Branch: BranchHold, Hold: true}
	}

	if st.ChargeBase != ChargeUnknown && st.ChargeBase > p.MinChargeBaseOTG {
		lid := p.MaxBaseToLidCurrent
		lidPct, known := in.Lid.Percent()
		return Decision{
			Branch:         BranchBaseToLid,
			BaseCurrentMA:  -smoothing.AddMargin(lid, p.MarginOTGCurrent),
			LidCurrentMA:   lid,
			AllowChargeLid: known && lidPct < p.MaxChargeLidBattToBatt,
		}
	}

	// Base battery too low to help: keep the base system powered from the
	// lid and let it charge only when critical.
	base := p.BaseSupplyCurrent()
	return Decision{
		Branch:          BranchLidToBase,
		BaseCurrentMA:   base,
		AllowChargeBase: critical,
		LidCurrentMA:    -smoothing.AddMargin(base, p.MarginOTGCurrent),
	}
}

func (e *Engine) charging(in Inputs, st *State) Decision {
	p := e.policy
	desired := in.Adapter.DesiredInputCurrentMA

	if st.ManualACCurrentBase != nil {
		base := *st.ManualACCurrentBase
		lid := desired - base
		if lid < 0 {
			base = desired
			lid = 0
		}
		return Decision{
			Branch:          BranchManualAC,
			BaseCurrentMA:   base,
			AllowChargeBase: true,
			LidCurrentMA:    lid,
			AllowChargeLid:  true,
		}
	}

	split := e.estimate(in, st)
	split.TotalMW = in.Adapter.BudgetMW()

	remaining := split.TotalMW
	take := func(size int) int {
		s := mathx.Clamp(size, 0, remaining)
		remaining -= s
		return s
	}

	split.PowerBaseMW += take(p.MinBaseSystemPower)
	split.PowerLidMW += take(split.LidSystemMW)
	split.PowerLidMW += take(smoothing.AddMargin(split.LidBatteryMW, p.MarginLidBatteryPower))
	split.PowerBaseMW += take(smoothing.AddMargin(split.BaseBatteryMW, p.MarginBaseBatteryPower))
	// Everything else goes to the lid.
	split.PowerLidMW += take(remaining)

	voltage := in.Adapter.InputVoltageMV
	base := mathx.MulDiv(1000, split.PowerBaseMW, voltage)
	lid := mathx.MulDiv(1000, split.PowerLidMW, voltage)

	if base > p.MaxLidToBaseCurrent {
		lid += base - p.MaxLidToBaseCurrent
		base = p.MaxLidToBaseCurrent
	}

	return Decision{
		Branch:          BranchBudget,
		BaseCurrentMA:   base,
		AllowChargeBase: true,
		LidCurrentMA:    lid,
		AllowChargeLid:  true,
		Split:           &split,
	}
}

// estimate updates the smoothed power estimates from this tick's readings.
func (e *Engine) estimate(in Inputs, st *State) Split {
	p := e.policy

	// System power is very spiky.
	lidSystem := smoothing.Smooth(st.LidSystemPower, in.SystemPowerMW, p.LidSystemPowerSmooth)
	st.LidSystemPower.Update(lidSystem)

	// Cap at what the battery asks for before smoothing, so a falling ceiling
	// decays like any other drop.
	lidBattery := min(in.Lid.PowerMW(), in.Lid.DesiredPowerMW())
	lidBattery = smoothing.SmoothDecreasing(st.LidBatteryPower, lidBattery, p.BatteryPowerSmooth)
	st.LidBatteryPower.Update(lidBattery)

	baseBattery, baseBatteryMax := 0, 0
	if in.Base != nil && in.Base.Valid() {
		baseBattery = in.Base.PowerMW()
		baseBatteryMax = in.Base.DesiredPowerMW()
	}
	baseBattery = smoothing.SmoothDecreasing(st.BaseBatteryPower, min(baseBattery, baseBatteryMax), p.BatteryPowerSmooth)
	st.BaseBatteryPower.Update(baseBattery)

	return Split{
		LidSystemMW:   lidSystem,
		LidBatteryMW:  lidBattery,
		BaseBatteryMW: baseBattery,
	}
}
