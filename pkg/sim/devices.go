package sim

import (
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// ErrInjected is returned by a device whose Fail field is set without a
// specific error.
var ErrInjected = pkgerrors.New("injected device failure")

// Charger is a simulated lid charger.
type Charger struct {
	mu  sync.Mutex
	log *Log

	InputLimitMA    int
	OutputCurrentMA int
	OutputVoltageMV int
	Charging        bool
	Full            bool
	SystemPowerMW   int

	// Fail makes every command fail with this error.
	Fail error
}

func NewCharger(log *Log) *Charger {
	return &Charger{log: log}
}

func (c *Charger) SetInputCurrentLimit(currentMA int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.record("charger", "SetInputCurrentLimit", currentMA)
	if c.Fail != nil {
		return c.Fail
	}
	c.InputLimitMA = currentMA
	return nil
}

func (c *Charger) SetOutputCurrentLimit(currentMA, voltageMV int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.record("charger", "SetOutputCurrentLimit", currentMA, voltageMV)
	if c.Fail != nil {
		return c.Fail
	}
	c.OutputCurrentMA = currentMA
	c.OutputVoltageMV = voltageMV
	return nil
}

func (c *Charger) RequestCharge(enable, isFull bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.record("charger", "RequestCharge", boolInt(enable), boolInt(isFull))
	if c.Fail != nil {
		return c.Fail
	}
	c.Charging = enable && !isFull
	c.Full = isFull
	return nil
}

func (c *Charger) SystemPower() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SystemPowerMW, nil
}

// SetFail injects a failure into every following command. nil clears it.
func (c *Charger) SetFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Fail = err
}

// Base is a simulated base MCU.
type Base struct {
	mu  sync.Mutex
	log *Log

	Info   telemetry.Battery
	Static telemetry.StaticInfo

	CurrentMA   int
	VoltageMV   int
	AllowCharge bool
	Hibernated  bool

	Fail error
}

func NewBase(log *Log) *Base {
	return &Base{
		log: log,
		Static: telemetry.StaticInfo{
			Manufacturer:      "SIM",
			Model:             "BASE-1",
			Serial:            "0001",
			Chemistry:         "LION",
			DesignCapacityMAh: 2000,
			DesignVoltageMV:   7600,
		},
		Info: telemetry.Battery{
			VoltageMV:            7600,
			DesiredVoltageMV:     8700,
			DesiredCurrentMA:     1000,
			RemainingCapacityMAh: 1000,
			FullCapacityMAh:      2000,
			Flags:                telemetry.Present,
		},
	}
}

func (b *Base) SetChargeControl(currentMA, voltageMV int, allowCharge bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.record("base", "SetChargeControl", currentMA, voltageMV, boolInt(allowCharge))
	if b.Fail != nil {
		return b.Fail
	}
	b.CurrentMA = currentMA
	b.VoltageMV = voltageMV
	b.AllowCharge = allowCharge
	b.Hibernated = false
	return nil
}

func (b *Base) DynamicInfo() (telemetry.Battery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Fail != nil {
		return telemetry.Battery{}, b.Fail
	}
	return b.Info, nil
}

func (b *Base) StaticInfo() (telemetry.StaticInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.record("base", "StaticInfo")
	if b.Fail != nil {
		return telemetry.StaticInfo{}, b.Fail
	}
	return b.Static, nil
}

func (b *Base) Hibernate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.record("base", "Hibernate")
	if b.Fail != nil {
		return b.Fail
	}
	b.Hibernated = true
	return nil
}

// SetFail injects a failure into every following call. nil clears it.
func (b *Base) SetFail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Fail = err
}

// SetInfo replaces the dynamic battery information.
func (b *Base) SetInfo(info telemetry.Battery) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Info = info
}

// Port is a simulated base connector.
type Port struct {
	mu  sync.Mutex
	log *Log

	attached bool
	powered  bool
	resets   int
}

func NewPort(log *Log, attached bool) *Port {
	return &Port{log: log, attached: attached}
}

func (p *Port) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

func (p *Port) SetAttached(attached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = attached
}

func (p *Port) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.record("port", "Reset")
	p.resets++
	return nil
}

func (p *Port) EnablePower(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log.record("port", "EnablePower", boolInt(on))
	p.powered = on
	return nil
}

func (p *Port) Powered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.powered
}

func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Host is a simulated host.
type Host struct {
	mu      sync.Mutex
	chipset device.ChipsetState
	ac      bool
}

func NewHost(chipset device.ChipsetState, ac bool) *Host {
	return &Host{chipset: chipset, ac: ac}
}

func (h *Host) Chipset() device.ChipsetState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chipset
}

func (h *Host) SetChipset(s device.ChipsetState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chipset = s
}

func (h *Host) ExtPowerPresent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ac
}

func (h *Host) SetExtPower(ac bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ac = ac
}

// Gauge is a simulated lid fuel gauge.
type Gauge struct {
	mu      sync.Mutex
	battery telemetry.Battery
}

func NewGauge(b telemetry.Battery) *Gauge {
	return &Gauge{battery: b}
}

func (g *Gauge) Battery() telemetry.Battery {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.battery
}

func (g *Gauge) SetBattery(b telemetry.Battery) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.battery = b
}

// AdapterSource is a simulated charge state manager view of the adapter.
type AdapterSource struct {
	mu      sync.Mutex
	adapter telemetry.Adapter
}

func NewAdapterSource(a telemetry.Adapter) *AdapterSource {
	return &AdapterSource{adapter: a}
}

func (s *AdapterSource) Adapter() telemetry.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter
}

func (s *AdapterSource) SetAdapter(a telemetry.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapter = a
}

// Published is one notification received by a Publisher.
type Published struct {
	Name    string
	Payload any
}

// Publisher records notifications.
type Publisher struct {
	mu     sync.Mutex
	events []Published
}

func (p *Publisher) Publish(name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Published{Name: name, Payload: payload})
}

// Count returns how many notifications with the given name were received.
func (p *Publisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

var (
	_ device.Charger       = (*Charger)(nil)
	_ device.Base          = (*Base)(nil)
	_ device.BasePort      = (*Port)(nil)
	_ device.Host          = (*Host)(nil)
	_ device.LidGauge      = (*Gauge)(nil)
	_ device.AdapterSource = (*AdapterSource)(nil)
	_ device.Publisher     = (*Publisher)(nil)
)
