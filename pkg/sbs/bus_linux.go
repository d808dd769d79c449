//go:build linux

package sbs

import (
	"github.com/go-daq/smbus"
	pkgerrors "github.com/pkg/errors"
)

type smbusConn struct {
	conn *smbus.Conn
}

func (c *smbusConn) ReadWord(addr, cmd uint8) (uint16, error) {
	return c.conn.ReadWord(addr, cmd)
}

func (c *smbusConn) WriteWord(addr, cmd uint8, v uint16) error {
	return c.conn.WriteWord(addr, cmd, v)
}

func (c *smbusConn) Close() error {
	return c.conn.Close()
}

// OpenBus opens /dev/i2c-<bus>. addr is the device selected first.
func OpenBus(bus int, addr uint8) (Bus, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open i2c bus %d", bus)
	}
	return &lockedBus{bus: &smbusConn{conn: conn}}, nil
}
