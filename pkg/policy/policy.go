// Package policy holds the tunable constants of the dual-battery power
// allocator. Ratios are expressed in 1/128 units, currents in mA, voltages in
// mV, powers in mW and charge levels in percent.
package policy

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RatioScale is the denominator of every ratio in Policy.
const RatioScale = 128

// Policy is the dual-battery allocation policy. It is loaded once and treated
// as immutable for the lifetime of the process.
type Policy struct {
	// OTGVoltage is the voltage applied when one side sources power to the other.
	OTGVoltage int `json:"otgVoltage"`
	// MaxBaseToLidCurrent is the current the lid draws from the base when
	// running on the base battery.
	MaxBaseToLidCurrent int `json:"maxBaseToLidCurrent"`
	// MaxLidToBaseCurrent caps the input current forwarded to the base while
	// on AC.
	MaxLidToBaseCurrent int `json:"maxLidToBaseCurrent"`
	// MarginOTGCurrent inflates the sourcing side's output current so the
	// receiving side is not starved by conversion loss.
	MarginOTGCurrent int `json:"marginOtgCurrent"`

	// MinChargeBaseOTG: only power the lid from the base above this charge.
	MinChargeBaseOTG int `json:"minChargeBaseOtg"`
	// MaxChargeBaseBattToBatt: below this charge the base battery is critical
	// and is charged from the lid battery.
	MaxChargeBaseBattToBatt int `json:"maxChargeBaseBattToBatt"`
	// MaxChargeLidBattToBatt: below this charge the lid battery charges from
	// the base battery.
	MaxChargeLidBattToBatt int `json:"maxChargeLidBattToBatt"`

	// MinBaseSystemPower is always reserved for the base while on AC.
	MinBaseSystemPower int `json:"minBaseSystemPower"`
	// LidSystemPowerSmooth is the smoothing coefficient of the lid system power.
	LidSystemPowerSmooth int `json:"lidSystemPowerSmooth"`
	// BatteryPowerSmooth smooths battery power estimates, applied only while
	// the battery's appetite is decreasing.
	BatteryPowerSmooth int `json:"batteryPowerSmooth"`
	// MarginBaseBatteryPower and MarginLidBatteryPower inflate the requested
	// battery power before it is budgeted.
	MarginBaseBatteryPower int `json:"marginBaseBatteryPower"`
	MarginLidBatteryPower  int `json:"marginLidBatteryPower"`
}

// Default returns the reference board policy.
func Default() Policy {
	return Policy{
		OTGVoltage:              12000,
		MaxBaseToLidCurrent:     1800, // about 2000 mA with margin
		MaxLidToBaseCurrent:     2000, // about 2200 mA with margin
		MarginOTGCurrent:        100,
		MinChargeBaseOTG:        5,
		MaxChargeBaseBattToBatt: 4,
		MaxChargeLidBattToBatt:  10,
		MinBaseSystemPower:      1300,
		LidSystemPowerSmooth:    32, // 0.25
		BatteryPowerSmooth:      1,
		MarginBaseBatteryPower:  32,
		MarginLidBatteryPower:   32,
	}
}

// Validate reports a configuration error. A policy that passes Validate never
// causes a run-time fault in the allocator.
func (p Policy) Validate() error {
	ratios := map[string]int{
		"marginOtgCurrent":       p.MarginOTGCurrent,
		"lidSystemPowerSmooth":   p.LidSystemPowerSmooth,
		"batteryPowerSmooth":     p.BatteryPowerSmooth,
		"marginBaseBatteryPower": p.MarginBaseBatteryPower,
		"marginLidBatteryPower":  p.MarginLidBatteryPower,
	}
	for name, v := range ratios {
		if v < 0 || v > RatioScale {
			return pkgerrors.Errorf("%s must be between 0 and %d, got %d", name, RatioScale, v)
		}
	}

	percents := map[string]int{
		"minChargeBaseOtg":        p.MinChargeBaseOTG,
		"maxChargeBaseBattToBatt": p.MaxChargeBaseBattToBatt,
		"maxChargeLidBattToBatt":  p.MaxChargeLidBattToBatt,
	}
	for name, v := range percents {
		if v < 0 || v > 100 {
			return pkgerrors.Errorf("%s must be between 0 and 100, got %d", name, v)
		}
	}

	magnitudes := map[string]int{
		"maxBaseToLidCurrent": p.MaxBaseToLidCurrent,
		"maxLidToBaseCurrent": p.MaxLidToBaseCurrent,
		"minBaseSystemPower":  p.MinBaseSystemPower,
	}
	for name, v := range magnitudes {
		if v < 0 {
			return pkgerrors.Errorf("%s must not be negative, got %d", name, v)
		}
	}

	if p.OTGVoltage <= 0 {
		return pkgerrors.Errorf("otgVoltage must be positive, got %d", p.OTGVoltage)
	}

	return nil
}

// BaseSupplyCurrent is the current the lid sources to keep a low base alive
// while discharging.
func (p Policy) BaseSupplyCurrent() int {
	return p.MinBaseSystemPower * 1000 / p.OTGVoltage
}

func (p Policy) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"otgVoltage":              p.OTGVoltage,
		"maxBaseToLidCurrent":     p.MaxBaseToLidCurrent,
		"maxLidToBaseCurrent":     p.MaxLidToBaseCurrent,
		"marginOtgCurrent":        p.MarginOTGCurrent,
		"minChargeBaseOtg":        p.MinChargeBaseOTG,
		"maxChargeBaseBattToBatt": p.MaxChargeBaseBattToBatt,
		"maxChargeLidBattToBatt":  p.MaxChargeLidBattToBatt,
		"minBaseSystemPower":      p.MinBaseSystemPower,
		"lidSystemPowerSmooth":    p.LidSystemPowerSmooth,
		"batteryPowerSmooth":      p.BatteryPowerSmooth,
		"marginBaseBatteryPower":  p.MarginBaseBatteryPower,
		"marginLidBatteryPower":   p.MarginLidBatteryPower,
	}
}
