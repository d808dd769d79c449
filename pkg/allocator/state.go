package allocator

import (
	"encoding/json"
	"fmt"

	"github.com/charlie0129/dualbatt/pkg/smoothing"
)

// ChargeUnknown is the base charge while the base battery has not reported a
// usable state of charge.
const ChargeUnknown = -1

// LinkStatus tracks what we know about the base command link.
type LinkStatus int

const (
	// LinkNeverSeen: the base has not answered since it was attached, woken or
	// hibernated. Command failures are expected and ignored.
	LinkNeverSeen LinkStatus = iota
	// LinkResponsive: the last command to the base succeeded.
	LinkResponsive
	// LinkUnresponsive: the base answered before but the last command failed.
	LinkUnresponsive
)

func (s LinkStatus) String() string {
	switch s {
	case LinkNeverSeen:
		return "never-seen"
	case LinkResponsive:
		return "responsive"
	case LinkUnresponsive:
		return "unresponsive"
	default:
		return "unknown"
	}
}

func (s LinkStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *LinkStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for _, v := range []LinkStatus{LinkNeverSeen, LinkResponsive, LinkUnresponsive} {
		if v.String() == name {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown link status %q", name)
}

// Seen reports whether the base has ever answered on the current link.
func (s LinkStatus) Seen() bool {
	return s != LinkNeverSeen
}

// State is the allocator memory that persists across ticks. It is owned by a
// single controller and must only be mutated from its tick.
type State struct {
	// Last values accepted by the devices, not merely computed.
	PrevCurrentBase     int  `json:"prevCurrentBase"`
	PrevCurrentLid      int  `json:"prevCurrentLid"`
	PrevAllowChargeBase bool `json:"prevAllowChargeBase"`

	Link       LinkStatus `json:"link"`
	ChargeBase int        `json:"chargeBase"`

	BaseBatteryPower smoothing.Estimate `json:"baseBatteryPower"`
	LidSystemPower   smoothing.Estimate `json:"lidSystemPower"`
	LidBatteryPower  smoothing.Estimate `json:"lidBatteryPower"`

	// ManualACCurrentBase, when set, is the input current given to the base
	// while on AC.
	ManualACCurrentBase *int `json:"manualAcCurrentBase,omitempty"`
	// ManualNoAC, when set, is the current transferred from the lid to the base
	// without AC. Negative values transfer from the base to the lid.
	ManualNoAC *int `json:"manualNoAc,omitempty"`
}

// NewState returns the state of a freshly booted controller.
func NewState() *State {
	return &State{
		Link:       LinkNeverSeen,
		ChargeBase: ChargeUnknown,
	}
}

// ResetBase forgets everything learnt about a base that went away.
func (s *State) ResetBase() {
	s.ChargeBase = ChargeUnknown
	s.Link = LinkNeverSeen
	s.PrevCurrentBase = 0
	s.PrevAllowChargeBase = false
	s.BaseBatteryPower.Reset()
}

// ResetPower forgets all smoothed power history.
func (s *State) ResetPower() {
	s.BaseBatteryPower.Reset()
	s.LidSystemPower.Reset()
	s.LidBatteryPower.Reset()
}

// BaseCritical reports whether the base battery is known to be critically low.
func (s *State) BaseCritical(threshold int) bool {
	return s.ChargeBase != ChargeUnknown && s.ChargeBase < threshold
}

// Copy returns a deep copy, safe to hand out to readers outside the tick.
func (s *State) Copy() State {
	c := *s
	if s.ManualACCurrentBase != nil {
		v := *s.ManualACCurrentBase
		c.ManualACCurrentBase = &v
	}
	if s.ManualNoAC != nil {
		v := *s.ManualNoAC
		c.ManualNoAC = &v
	}
	return c
}
