package sbs

import (
	"errors"
	"math"

	"github.com/distatus/battery"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// HostGauge reads a battery through the operating system.
type HostGauge struct {
	index int
	get   func(int) (*battery.Battery, error)
}

var _ device.LidGauge = &HostGauge{}

// NewHostGauge returns a gauge for the OS battery with the given index.
func NewHostGauge(index int) *HostGauge {
	return &HostGauge{index: index, get: battery.Get}
}

// Battery converts the OS battery to milli-units. The OS does not report
// what the battery asks its charger for, so those fields are always flagged.
func (h *HostGauge) Battery() telemetry.Battery {
	bat, err := h.get(h.index)
	var partial battery.ErrPartial
	switch {
	case err == nil:
	case errors.As(err, &partial) && bat != nil:
	default:
		logrus.WithError(err).Debug("failed to read host battery")
		return telemetry.Invalid()
	}
	return FromHostBattery(bat, partial)
}

// FromHostBattery converts a battery reading. Fields with an error in
// partial are flagged bad.
func FromHostBattery(bat *battery.Battery, partial battery.ErrPartial) telemetry.Battery {
	b := telemetry.Battery{
		Flags: telemetry.Present | telemetry.BadDesiredVoltage | telemetry.BadDesiredCurrent,
	}

	volts := bat.Voltage
	if partial.Voltage != nil || volts <= 0 {
		b.Flags |= telemetry.BadVoltage | telemetry.BadCurrent
	} else {
		b.VoltageMV = int(math.Round(volts * 1000))
	}

	if partial.ChargeRate != nil || partial.State != nil {
		b.Flags |= telemetry.BadCurrent
	} else if volts > 0 {
		// mW / V = mA
		current := int(math.Round(bat.ChargeRate / volts))
		if bat.State == battery.Discharging {
			current = -current
		}
		b.CurrentMA = current
	}

	// Capacities are reported in mWh; convert at the design voltage.
	capVolts := bat.DesignVoltage
	if capVolts <= 0 {
		capVolts = volts
	}
	if partial.Current != nil || capVolts <= 0 {
		b.Flags |= telemetry.BadRemainingCapacity
	} else {
		b.RemainingCapacityMAh = int(math.Round(bat.Current / capVolts))
	}
	if partial.Full != nil || capVolts <= 0 {
		b.Flags |= telemetry.BadFullCapacity
	} else {
		b.FullCapacityMAh = int(math.Round(bat.Full / capVolts))
	}

	if bat.State == battery.Full {
		b.Flags |= telemetry.FullyCharged
	}
	return b
}
