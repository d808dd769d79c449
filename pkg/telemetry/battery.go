// Package telemetry normalises fuel gauge and adapter readings into the
// milli-unit quantities consumed by the allocator.
package telemetry

import "github.com/charlie0129/dualbatt/internal/mathx"

// Flags marks which fields of a Battery snapshot can be trusted.
type Flags uint16

const (
	BadVoltage Flags = 1 << iota
	BadCurrent
	BadDesiredVoltage
	BadDesiredCurrent
	BadRemainingCapacity
	BadFullCapacity
	// InvalidData means the whole snapshot is unusable: battery absent or not
	// responding.
	InvalidData
	Present
	FullyCharged
)

// Has reports whether any of the bits in f are set.
func (f Flags) Has(bits Flags) bool {
	return f&bits != 0
}

// Battery is a one-tick snapshot of a battery as reported by its fuel gauge.
type Battery struct {
	VoltageMV            int   `json:"voltage"`
	CurrentMA            int   `json:"current"` // negative while discharging
	DesiredVoltageMV     int   `json:"desiredVoltage"`
	DesiredCurrentMA     int   `json:"desiredCurrent"`
	RemainingCapacityMAh int   `json:"remainingCapacity"`
	FullCapacityMAh      int   `json:"fullCapacity"`
	Flags                Flags `json:"flags"`
}

// Invalid returns the snapshot of an absent or unresponsive battery.
func Invalid() Battery {
	return Battery{Flags: InvalidData}
}

// Valid reports whether the snapshot carries any usable data.
func (b Battery) Valid() bool {
	return !b.Flags.Has(InvalidData)
}

// PowerMW is the power currently flowing into the battery, negative while
// discharging. Unusable readings count as 0 for this tick.
func (b Battery) PowerMW() int {
	if b.Flags.Has(InvalidData | BadVoltage | BadCurrent) {
		return 0
	}
	return b.CurrentMA * b.VoltageMV / 1000
}

// DesiredPowerMW is the power the battery asks its charger for.
func (b Battery) DesiredPowerMW() int {
	if b.Flags.Has(InvalidData | BadDesiredVoltage | BadDesiredCurrent) {
		return 0
	}
	return b.DesiredCurrentMA * b.DesiredVoltageMV / 1000
}

// Percent returns the state of charge and whether it is known.
func (b Battery) Percent() (int, bool) {
	if b.Flags.Has(InvalidData | BadRemainingCapacity | BadFullCapacity) {
		return 0, false
	}
	if b.FullCapacityMAh <= 0 {
		return 0, true
	}
	return mathx.Clamp(100*b.RemainingCapacityMAh/b.FullCapacityMAh, 0, 100), true
}

// IsFull reports whether the charger should treat the battery as full.
func (b Battery) IsFull() bool {
	if b.Flags.Has(FullyCharged) {
		return true
	}
	pct, ok := b.Percent()
	return ok && pct >= 100
}

// StaticInfo is the slowly changing description of a battery pack.
type StaticInfo struct {
	Manufacturer      string `json:"manufacturer"`
	Model             string `json:"model"`
	Serial            string `json:"serial"`
	Chemistry         string `json:"chemistry"`
	DesignCapacityMAh int    `json:"designCapacity"`
	DesignVoltageMV   int    `json:"designVoltage"`
	CycleCount        int    `json:"cycleCount"`
}
