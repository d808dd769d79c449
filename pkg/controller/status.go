package controller

import (
	"errors"
	"time"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// Status is a point-in-time copy of the controller state.
type Status struct {
	AC            bool                  `json:"ac"`
	BaseConnected bool                  `json:"baseConnected"`
	State         allocator.State       `json:"state"`
	LastDecision  *allocator.Decision   `json:"lastDecision,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
	Lid           telemetry.Battery     `json:"lid"`
	LidPercent    int                   `json:"lidPercent"`
	Base          *telemetry.Battery    `json:"base,omitempty"`
	BaseStatic    *telemetry.StaticInfo `json:"baseStatic,omitempty"`
	Policy        policy.Policy         `json:"policy"`
	Ticks         uint64                `json:"ticks"`
	LastTick      time.Time             `json:"lastTick"`
}

// Status returns a snapshot that is safe to hand out.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		AC:            c.ac,
		BaseConnected: c.tracker.Connected(),
		State:         c.st.Copy(),
		Lid:           c.gauge.Battery(),
		LidPercent:    c.lidPercent,
		Base:          c.tracker.Base(),
		BaseStatic:    c.tracker.Static(),
		Policy:        c.policy,
		Ticks:         c.ticks,
		LastTick:      c.lastTick,
	}
	if c.last != nil {
		d := *c.last
		if d.Split != nil {
			split := *d.Split
			d.Split = &split
		}
		s.LastDecision = &d
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// ErrBaseNotConnected is returned when base information is requested while no
// base is attached.
var ErrBaseNotConnected = errors.New("base not connected")

// BaseInfo describes the attached base.
type BaseInfo struct {
	Battery       telemetry.Battery     `json:"battery"`
	Static        *telemetry.StaticInfo `json:"static,omitempty"`
	Link          allocator.LinkStatus  `json:"link"`
	ChargePercent int                   `json:"chargePercent"`
	CurrentMA     int                   `json:"current"`
	AllowCharge   bool                  `json:"allowCharge"`
}

// Base returns the last known base telemetry, or ErrBaseNotConnected.
func (c *Controller) Base() (BaseInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bat := c.tracker.Base()
	if bat == nil {
		return BaseInfo{}, ErrBaseNotConnected
	}
	return BaseInfo{
		Battery:       *bat,
		Static:        c.tracker.Static(),
		Link:          c.st.Link,
		ChargePercent: c.st.ChargeBase,
		CurrentMA:     c.st.PrevCurrentBase,
		AllowCharge:   c.st.PrevAllowChargeBase,
	}, nil
}
