//go:build !linux

package sbs

import pkgerrors "github.com/pkg/errors"

// OpenBus is only available on Linux.
func OpenBus(bus int, _ uint8) (Bus, error) {
	return nil, pkgerrors.Errorf("i2c bus %d: SMBus is only available on Linux", bus)
}
