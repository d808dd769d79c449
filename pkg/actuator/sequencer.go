// Package actuator applies allocation decisions to the charger and the base
// in an order that never lets both sides draw their new, larger currents at
// the same time.
package actuator

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/tracker"
)

// Sequencer issues the device commands of a Decision.
type Sequencer struct {
	charger    device.Charger
	base       device.Base
	port       device.BasePort
	presence   tracker.Presence
	otgVoltage int
}

// New returns a sequencer. base and port may be nil on boards without base
// support.
func New(charger device.Charger, base device.Base, port device.BasePort, presence tracker.Presence, otgVoltage int) *Sequencer {
	if presence == nil {
		presence = tracker.NoBase{}
	}
	return &Sequencer{
		charger:    charger,
		base:       base,
		port:       port,
		presence:   presence,
		otgVoltage: otgVoltage,
	}
}

// LidFirst reports whether the lid must be commanded before the base: the
// side reducing its draw, or about to source power, goes first.
func LidFirst(d allocator.Decision, st *allocator.State) bool {
	switch {
	case d.LidCurrentMA >= 0 && d.LidCurrentMA < st.PrevCurrentLid:
		return true
	case d.BaseCurrentMA >= 0 && d.BaseCurrentMA < st.PrevCurrentBase:
		return false
	case d.LidCurrentMA < 0:
		return true
	default:
		return false
	}
}

// Apply commands both sides. The previous currents in st only advance for
// commands that were accepted; any error aborts the rest of the sequence.
func (s *Sequencer) Apply(d allocator.Decision, isFull bool, st *allocator.State) error {
	if d.Hold {
		logrus.Trace("holding previous currents")
		return nil
	}

	s.logChange(d, st)

	connected := s.presence.Connected() && s.base != nil
	lidFirst := LidFirst(d, st)

	if !lidFirst && connected {
		if err := s.setBase(d, st); err != nil {
			return err
		}
	}

	if err := s.setLid(d, isFull); err != nil {
		return err
	}
	st.PrevCurrentLid = d.LidCurrentMA

	if lidFirst && connected {
		if err := s.setBase(d, st); err != nil {
			return err
		}
	}

	if d.Hibernate || d.BasePowerOff {
		return s.shutdownBase(d.Hibernate && connected, st)
	}

	// Power to the base may be off right after it was plugged, hibernated or
	// when an adapter was just connected.
	if connected && st.Link == allocator.LinkResponsive && d.BaseCurrentMA != 0 && s.port != nil {
		if err := s.port.EnablePower(true); err != nil {
			return pkgerrors.Wrap(err, "failed to enable base power")
		}
	}

	return nil
}

func (s *Sequencer) setLid(d allocator.Decision, isFull bool) error {
	if d.LidCurrentMA < 0 {
		if err := s.charger.SetOutputCurrentLimit(-d.LidCurrentMA, s.otgVoltage); err != nil {
			return pkgerrors.Wrapf(err, "failed to set lid output current to %d mA", -d.LidCurrentMA)
		}
		return nil
	}

	if err := s.charger.SetOutputCurrentLimit(0, 0); err != nil {
		return pkgerrors.Wrap(err, "failed to disable lid output")
	}
	if err := s.charger.SetInputCurrentLimit(d.LidCurrentMA); err != nil {
		return pkgerrors.Wrapf(err, "failed to set lid input current to %d mA", d.LidCurrentMA)
	}
	if err := s.charger.RequestCharge(d.AllowChargeLid, isFull); err != nil {
		return pkgerrors.Wrap(err, "failed to request lid charge")
	}
	return nil
}

// setBase sends the charge control command. Failures are ignored until the
// base has answered once.
func (s *Sequencer) setBase(d allocator.Decision, st *allocator.State) error {
	voltage := 0
	if d.BaseCurrentMA < 0 {
		voltage = s.otgVoltage
	}

	err := s.base.SetChargeControl(d.BaseCurrentMA, voltage, d.AllowChargeBase)
	if err != nil {
		if st.Link == allocator.LinkNeverSeen {
			logrus.WithError(err).Trace("base not responding yet")
			return nil
		}
		st.Link = allocator.LinkUnresponsive
		return pkgerrors.Wrapf(err, "failed to set base current to %d mA", d.BaseCurrentMA)
	}

	if st.Link != allocator.LinkResponsive {
		logrus.WithField("previous", st.Link).Info("base is responsive")
	}
	st.Link = allocator.LinkResponsive
	st.PrevCurrentBase = d.BaseCurrentMA
	st.PrevAllowChargeBase = d.AllowChargeBase
	return nil
}

// shutdownBase optionally hibernates the base and cuts its power. The base is
// expected to be silent until it is reset.
func (s *Sequencer) shutdownBase(hibernate bool, st *allocator.State) error {
	if hibernate {
		if err := s.base.Hibernate(); err != nil {
			return pkgerrors.Wrap(err, "failed to hibernate base")
		}
		logrus.Info("base hibernated")
	}
	st.Link = allocator.LinkNeverSeen

	if s.port != nil {
		if err := s.port.EnablePower(false); err != nil {
			return pkgerrors.Wrap(err, "failed to disable base power")
		}
	}
	return nil
}

func (s *Sequencer) logChange(d allocator.Decision, st *allocator.State) {
	entry := logrus.WithField("branch", d.Branch)
	msg := fmt.Sprintf("Base/Lid: %d%s/%d%s mA",
		d.BaseCurrentMA, chargeMark(d.AllowChargeBase),
		d.LidCurrentMA, chargeMark(d.AllowChargeLid))

	if d.BaseCurrentMA == st.PrevCurrentBase &&
		d.AllowChargeBase == st.PrevAllowChargeBase &&
		d.LidCurrentMA == st.PrevCurrentLid {
		entry.Trace(msg)
		return
	}
	entry.Info(msg)
}

func chargeMark(allow bool) string {
	if allow {
		return "+"
	}
	return ""
}
