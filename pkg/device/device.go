// Package device declares the collaborators the allocator talks to: the
// charger IC, the detachable base, the base connector, the host and the
// telemetry sources. Implementations live in sbs, baselink and sim.
package device

import "github.com/charlie0129/dualbatt/pkg/telemetry"

// ChipsetState is the power state of the host processor.
type ChipsetState int

const (
	// ChipsetUnknown is reported while the host state cannot be determined.
	ChipsetUnknown ChipsetState = iota
	ChipsetOn
	ChipsetSuspend
	ChipsetOff
)

func (s ChipsetState) String() string {
	switch s {
	case ChipsetOn:
		return "on"
	case ChipsetSuspend:
		return "suspend"
	case ChipsetOff:
		return "off"
	default:
		return "unknown"
	}
}

// Charger is the lid charger IC. Calls may block on bus I/O.
type Charger interface {
	// SetInputCurrentLimit limits the current drawn from the lid's input port.
	SetInputCurrentLimit(currentMA int) error
	// SetOutputCurrentLimit enables reverse (OTG) output at the given current
	// and voltage. A zero current disables OTG.
	SetOutputCurrentLimit(currentMA, voltageMV int) error
	// RequestCharge starts or stops charging the lid battery.
	RequestCharge(enable, isFull bool) error
	// SystemPower returns the instantaneous system power in mW.
	SystemPower() (int, error)
}

// Base is the command client of the detachable base.
type Base interface {
	SetChargeControl(currentMA, voltageMV int, allowCharge bool) error
	DynamicInfo() (telemetry.Battery, error)
	StaticInfo() (telemetry.StaticInfo, error)
	Hibernate() error
}

// BasePort is the board side of the base connector.
type BasePort interface {
	// Attached reports whether a base is physically connected.
	Attached() bool
	// Reset pulses the base reset line.
	Reset() error
	// EnablePower switches the power path to the base.
	EnablePower(on bool) error
}

// Host reports system state.
type Host interface {
	Chipset() ChipsetState
	ExtPowerPresent() bool
}

// LidGauge is the fuel gauge of the lid battery. Bad fields are reported
// through telemetry flags, never as errors.
type LidGauge interface {
	Battery() telemetry.Battery
}

// AdapterSource reports the charge state manager's view of the adapter.
type AdapterSource interface {
	Adapter() telemetry.Adapter
}

// Publisher receives notifications such as "battery changed".
type Publisher interface {
	Publish(name string, payload any)
}
