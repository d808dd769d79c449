package events

import "encoding/json"

// Event name constants
const (
	// BatteryChanged is raised when a battery appears, disappears or its
	// state of charge changes.
	BatteryChanged = "battery.changed"
	// BatteryStatus is raised when a battery's status flags change.
	BatteryStatus = "battery.status"
	// AllocationChanged is raised when the applied currents change.
	AllocationChanged = "allocation.changed"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// BatteryChangedEvent is the typed payload for battery.changed and
// battery.status.
type BatteryChangedEvent struct {
	Side    string `json:"side"` // "lid" or "base"
	Present bool   `json:"present"`
	Percent int    `json:"percent"` // -1 when unknown
	Flags   uint16 `json:"flags"`
	Ts      int64  `json:"ts"`
}

// AllocationChangedEvent is the typed payload for allocation.changed.
type AllocationChangedEvent struct {
	Branch          string `json:"branch"`
	BaseCurrent     int    `json:"baseCurrent"`
	AllowChargeBase bool   `json:"allowChargeBase"`
	LidCurrent      int    `json:"lidCurrent"`
	AllowChargeLid  bool   `json:"allowChargeLid"`
	Ts              int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.BatteryChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Side, payload.Percent)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
