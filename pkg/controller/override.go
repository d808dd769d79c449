package controller

import (
	"errors"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrInvalidOverride is returned for an override that is neither "auto" nor
// an integer current in mA.
var ErrInvalidOverride = errors.New("invalid override")

// ParseOverride parses "auto" or a current in mA.
func ParseOverride(s string) (auto bool, currentMA int, err error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "auto") {
		return true, 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return false, 0, pkgerrors.Wrapf(ErrInvalidOverride, "%q", s)
	}
	return false, v, nil
}

// SetManualCharge overrides the input current given to the base while on AC.
// auto removes the override.
func (c *Controller) SetManualCharge(auto bool, currentMA int) error {
	if !auto && currentMA < 0 {
		return pkgerrors.Wrapf(ErrInvalidOverride, "charge current must not be negative, got %d", currentMA)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if auto {
		c.st.ManualACCurrentBase = nil
	} else {
		c.st.ManualACCurrentBase = &currentMA
	}
	c.logOverride("charge", auto, currentMA)
	return nil
}

// SetManualDischarge overrides the current transferred from the lid to the
// base without AC. A negative current transfers from the base to the lid.
// auto removes the override.
func (c *Controller) SetManualDischarge(auto bool, currentMA int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if auto {
		c.st.ManualNoAC = nil
	} else {
		c.st.ManualNoAC = &currentMA
	}
	c.logOverride("discharge", auto, currentMA)
	return nil
}

func (c *Controller) logOverride(kind string, auto bool, currentMA int) {
	entry := logrus.WithField("override", kind)
	if auto {
		entry.Info("manual override cleared")
		return
	}
	entry.WithField("current", currentMA).Info("manual override set")
}
