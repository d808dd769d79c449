package sbs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// Smart Battery Data commands.
const (
	cmdVoltage           = 0x09
	cmdCurrent           = 0x0a
	cmdRemainingCapacity = 0x0f
	cmdFullCapacity      = 0x10
	cmdChargingCurrent   = 0x14
	cmdChargingVoltage   = 0x15
	cmdBatteryStatus     = 0x16
	cmdCycleCount        = 0x17
	cmdDesignCapacity    = 0x18
	cmdDesignVoltage     = 0x19
	cmdSerialNumber      = 0x1c
)

// BatteryStatus bits.
const (
	statusFullyCharged = 0x0020
	statusInitialized  = 0x0080
	statusErrorMask    = 0x000f
)

// Gauge is a smart battery fuel gauge.
type Gauge struct {
	bus  Bus
	addr uint8
}

var _ device.LidGauge = &Gauge{}

func NewGauge(bus Bus, addr uint8) *Gauge {
	return &Gauge{bus: bus, addr: addr}
}

func (g *Gauge) read(cmd uint8, bad telemetry.Flags, flags *telemetry.Flags) int {
	v, err := g.bus.ReadWord(g.addr, cmd)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"addr": fmt.Sprintf("0x%02x", g.addr),
			"cmd":  fmt.Sprintf("0x%02x", cmd),
		}).WithError(err).Trace("gauge read failed")
		*flags |= bad
		return 0
	}
	return int(v)
}

// Battery reads one snapshot. Registers that cannot be read are flagged, a
// battery that answers nothing is InvalidData.
func (g *Gauge) Battery() telemetry.Battery {
	status, err := g.bus.ReadWord(g.addr, cmdBatteryStatus)
	if err != nil {
		logrus.WithError(err).Debug("battery not responding")
		return telemetry.Invalid()
	}

	b := telemetry.Battery{Flags: telemetry.Present}
	if status&statusErrorMask != 0 || status&statusInitialized == 0 {
		logrus.WithField("status", fmt.Sprintf("0x%04x", status)).Debug("battery reports an error")
	}
	if status&statusFullyCharged != 0 {
		b.Flags |= telemetry.FullyCharged
	}

	b.VoltageMV = g.read(cmdVoltage, telemetry.BadVoltage, &b.Flags)
	// Current is signed, negative while discharging.
	b.CurrentMA = int(int16(uint16(g.read(cmdCurrent, telemetry.BadCurrent, &b.Flags))))
	b.DesiredVoltageMV = g.read(cmdChargingVoltage, telemetry.BadDesiredVoltage, &b.Flags)
	b.DesiredCurrentMA = g.read(cmdChargingCurrent, telemetry.BadDesiredCurrent, &b.Flags)
	b.RemainingCapacityMAh = g.read(cmdRemainingCapacity, telemetry.BadRemainingCapacity, &b.Flags)
	b.FullCapacityMAh = g.read(cmdFullCapacity, telemetry.BadFullCapacity, &b.Flags)

	// The gauge requests 0xffff when it wants the charger at its maximum.
	if b.DesiredCurrentMA == 0xffff {
		b.DesiredCurrentMA = 0
		b.Flags |= telemetry.BadDesiredCurrent
	}

	return b
}

// StaticInfo reads the pack description.
func (g *Gauge) StaticInfo() (telemetry.StaticInfo, error) {
	var info telemetry.StaticInfo
	reads := []struct {
		cmd uint8
		dst *int
	}{
		{cmdDesignCapacity, &info.DesignCapacityMAh},
		{cmdDesignVoltage, &info.DesignVoltageMV},
		{cmdCycleCount, &info.CycleCount},
	}
	for _, r := range reads {
		v, err := g.bus.ReadWord(g.addr, r.cmd)
		if err != nil {
			return telemetry.StaticInfo{}, err
		}
		*r.dst = int(v)
	}
	serial, err := g.bus.ReadWord(g.addr, cmdSerialNumber)
	if err != nil {
		return telemetry.StaticInfo{}, err
	}
	info.Serial = fmt.Sprintf("%04X", serial)
	return info, nil
}
