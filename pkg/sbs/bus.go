// Package sbs drives Smart Battery System devices: the lid fuel gauge and
// charger on an SMBus, and the host battery as reported by the OS.
package sbs

import "sync"

// Bus is an SMBus adapter. Implementations must be safe for concurrent use.
type Bus interface {
	ReadWord(addr, cmd uint8) (uint16, error)
	WriteWord(addr, cmd uint8, v uint16) error
	Close() error
}

// lockedBus serialises access to a bus shared by several devices.
type lockedBus struct {
	mu  sync.Mutex
	bus Bus
}

func (b *lockedBus) ReadWord(addr, cmd uint8) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.ReadWord(addr, cmd)
}

func (b *lockedBus) WriteWord(addr, cmd uint8, v uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.WriteWord(addr, cmd, v)
}

func (b *lockedBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Close()
}
