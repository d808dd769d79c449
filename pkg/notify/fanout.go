package notify

import (
	"github.com/charlie0129/dualbatt/pkg/device"
)

// Fanout delivers every event to all of its publishers. Nil entries are
// skipped.
type Fanout []device.Publisher

func (f Fanout) Publish(name string, payload any) {
	for _, p := range f {
		if p == nil {
			continue
		}
		p.Publish(name, payload)
	}
}

var _ device.Publisher = Fanout(nil)
var _ device.Publisher = (*MQTT)(nil)
