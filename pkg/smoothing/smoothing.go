// Package smoothing implements the integer low-pass filters used to damp
// noisy power readings. Coefficients and margins are in 1/128 units.
package smoothing

import (
	"encoding/json"
	"strconv"
)

const scale = 128

// Estimate is a smoothed power value that may be unset. A negative value can
// never be a power draw, so storing one leaves the estimate unset.
type Estimate struct {
	value int
	set   bool
}

// NewEstimate returns an estimate holding v (unset when v is negative).
func NewEstimate(v int) Estimate {
	var e Estimate
	e.Update(v)
	return e
}

// Update replaces the estimate with v.
func (e *Estimate) Update(v int) {
	if v < 0 {
		e.Reset()
		return
	}
	e.value = v
	e.set = true
}

// Reset forgets the history.
func (e *Estimate) Reset() {
	e.value = 0
	e.set = false
}

// Value returns the estimate and whether it is set.
func (e Estimate) Value() (int, bool) {
	return e.value, e.set
}

func (e Estimate) String() string {
	if !e.set {
		return "unset"
	}
	return strconv.Itoa(e.value)
}

func (e Estimate) MarshalJSON() ([]byte, error) {
	if !e.set {
		return []byte("null"), nil
	}
	return json.Marshal(e.value)
}

func (e *Estimate) UnmarshalJSON(b []byte) error {
	var v *int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		e.Reset()
		return nil
	}
	e.Update(*v)
	return nil
}

// Smooth computes prev + coef*(current-prev)/128. Without history, or for a
// negative reading, current is returned as-is so that it replaces the history.
func Smooth(prev Estimate, current, coef int) int {
	p, ok := prev.Value()
	if !ok || current < 0 {
		return current
	}
	return p + coef*(current-p)/scale
}

// SmoothDecreasing only smooths readings that are lower than the history: an
// appetite that grows is followed at once, one that shrinks decays slowly.
func SmoothDecreasing(prev Estimate, current, coef int) int {
	p, ok := prev.Value()
	if !ok || current >= p {
		return current
	}
	return Smooth(prev, current, coef)
}

// AddMargin computes value*(1+ratio/128).
func AddMargin(value, ratio int) int {
	return value + ratio*value/scale
}
