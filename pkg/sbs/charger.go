package sbs

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/internal/mathx"
	"github.com/charlie0129/dualbatt/pkg/device"
)

// ChargerRegisters is the register map of a smart battery charger. The
// charge registers are standard; input current, OTG and system power are
// vendor extensions.
type ChargerRegisters struct {
	ChargeOption  uint8
	ChargeCurrent uint8
	ChargeVoltage uint8
	InputCurrent  uint8
	OTGVoltage    uint8
	OTGCurrent    uint8
	SystemPower   uint8

	// Bits of ChargeOption.
	InhibitCharge uint16
	EnableOTG     uint16

	// SystemPowerLSB is the weight of one SystemPower count in mW.
	SystemPowerLSB int
}

// DefaultChargerRegisters is the map of a bq247xx-style charger.
func DefaultChargerRegisters() ChargerRegisters {
	return ChargerRegisters{
		ChargeOption:   0x12,
		ChargeCurrent:  0x14,
		ChargeVoltage:  0x15,
		InputCurrent:   0x3f,
		OTGVoltage:     0x3b,
		OTGCurrent:     0x3c,
		SystemPower:    0x3d,
		InhibitCharge:  1 << 0,
		EnableOTG:      1 << 11,
		SystemPowerLSB: 10,
	}
}

// Charger is the lid charger on the SMBus. It asks the gauge for the charge
// voltage and current the battery wants.
type Charger struct {
	bus   Bus
	addr  uint8
	regs  ChargerRegisters
	gauge device.LidGauge
}

var _ device.Charger = &Charger{}

func NewCharger(bus Bus, addr uint8, regs ChargerRegisters, gauge device.LidGauge) *Charger {
	return &Charger{bus: bus, addr: addr, regs: regs, gauge: gauge}
}

func (c *Charger) write(reg uint8, v int) error {
	v = mathx.Clamp(v, 0, 0xffff)
	if err := c.bus.WriteWord(c.addr, reg, uint16(v)); err != nil {
		return pkgerrors.Wrapf(err, "failed to write 0x%04x to charger register 0x%02x", v, reg)
	}
	return nil
}

func (c *Charger) updateOption(set, clear uint16) error {
	opt, err := c.bus.ReadWord(c.addr, c.regs.ChargeOption)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to read charge option")
	}
	next := opt&^clear | set
	if next == opt {
		return nil
	}
	return c.write(c.regs.ChargeOption, int(next))
}

func (c *Charger) SetInputCurrentLimit(currentMA int) error {
	return c.write(c.regs.InputCurrent, currentMA)
}

func (c *Charger) SetOutputCurrentLimit(currentMA, voltageMV int) error {
	if currentMA <= 0 {
		return c.updateOption(0, c.regs.EnableOTG)
	}
	if err := c.write(c.regs.OTGVoltage, voltageMV); err != nil {
		return err
	}
	if err := c.write(c.regs.OTGCurrent, currentMA); err != nil {
		return err
	}
	// No charging while sourcing.
	return c.updateOption(c.regs.EnableOTG|c.regs.InhibitCharge, 0)
}

func (c *Charger) RequestCharge(enable, isFull bool) error {
	if !enable || isFull {
		if err := c.write(c.regs.ChargeCurrent, 0); err != nil {
			return err
		}
		return c.updateOption(c.regs.InhibitCharge, 0)
	}

	bat := c.gauge.Battery()
	if !bat.Valid() {
		return pkgerrors.New("no valid battery to charge")
	}
	logrus.WithFields(logrus.Fields{
		"voltage": bat.DesiredVoltageMV,
		"current": bat.DesiredCurrentMA,
	}).Trace("charge request")

	if err := c.write(c.regs.ChargeVoltage, bat.DesiredVoltageMV); err != nil {
		return err
	}
	if err := c.write(c.regs.ChargeCurrent, bat.DesiredCurrentMA); err != nil {
		return err
	}
	return c.updateOption(0, c.regs.InhibitCharge)
}

func (c *Charger) SystemPower() (int, error) {
	v, err := c.bus.ReadWord(c.addr, c.regs.SystemPower)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to read system power")
	}
	return int(v) * c.regs.SystemPowerLSB, nil
}
