package tracker

import "github.com/charlie0129/dualbatt/pkg/device"

// Presence reports whether a base is connected. Boards without base support
// use NoBase.
type Presence interface {
	Connected() bool
}

// NoBase is the presence of a board built without base support.
type NoBase struct{}

func (NoBase) Connected() bool { return false }

// PortPresence reads the attach state of the base connector.
type PortPresence struct {
	Port device.BasePort
}

func (p PortPresence) Connected() bool {
	return p.Port != nil && p.Port.Attached()
}

// NewPresence selects the presence capability for a board.
func NewPresence(baseSupport bool, port device.BasePort) Presence {
	if !baseSupport || port == nil {
		return NoBase{}
	}
	return PortPresence{Port: port}
}
