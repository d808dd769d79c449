package controller

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/charlie0129/dualbatt/pkg/allocator"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/sim"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

func newTestController(t *testing.T) (*Controller, *sim.Board, *sim.Publisher) {
	t.Helper()
	b := sim.NewBoard()
	pub := &sim.Publisher{}
	c, err := New(Options{
		Policy:      policy.Default(),
		BaseSupport: true,
		Charger:     b.Charger,
		Base:        b.Base,
		Port:        b.Port,
		Host:        b.Host,
		LidGauge:    b.Gauge,
		Adapter:     b.Adapter,
		Publisher:   pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, b, pub
}

func mustTick(t *testing.T, c *Controller) Result {
	t.Helper()
	r, err := c.Tick(false)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return r
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	b := sim.NewBoard()
	p := policy.Default()
	p.MarginOTGCurrent = 500
	_, err := New(Options{Policy: p, Charger: b.Charger, Host: b.Host, LidGauge: b.Gauge, Adapter: b.Adapter})
	if err == nil {
		t.Fatal("expected a configuration error")
	}
}

func TestTickCharging(t *testing.T) {
	c, b, pub := newTestController(t)

	r := mustTick(t, c)
	if !r.AC || !r.ACChanged {
		t.Errorf("AC = %v changed = %v, want both true", r.AC, r.ACChanged)
	}
	if r.Decision.Branch != allocator.BranchBudget {
		t.Fatalf("branch = %s", r.Decision.Branch)
	}
	// Nothing known about the batteries yet: the base only gets its
	// minimum system power.
	if r.Decision.BaseCurrentMA != 65 || r.Decision.LidCurrentMA != 2935 {
		t.Errorf("currents = base %d lid %d, want 65 2935", r.Decision.BaseCurrentMA, r.Decision.LidCurrentMA)
	}
	if b.Charger.InputLimitMA != 2935 || b.Base.CurrentMA != 65 {
		t.Errorf("devices = charger %d base %d", b.Charger.InputLimitMA, b.Base.CurrentMA)
	}
	if pub.Count(events.AllocationChanged) != 1 {
		t.Error("allocation change should be published")
	}

	r = mustTick(t, c)
	if r.ACChanged {
		t.Error("AC did not change")
	}
	if r.BasePercent != 50 || !r.ChargeChanged {
		t.Errorf("base percent = %d changed = %v", r.BasePercent, r.ChargeChanged)
	}

	r = mustTick(t, c)
	if r.ChargeChanged {
		t.Error("charge did not change")
	}
	if pub.Count(events.AllocationChanged) != 1 {
		t.Error("unchanged allocation should not be republished")
	}
}

func TestTickNoBase(t *testing.T) {
	c, b, _ := newTestController(t)
	b.Port.SetAttached(false)

	r := mustTick(t, c)
	if r.Decision.Branch != allocator.BranchNoBase || r.Decision.LidCurrentMA != 3000 {
		t.Fatalf("decision = %+v", r.Decision)
	}

	b.Log.Reset()
	r = mustTick(t, c)
	if r.Decision.BaseCurrentMA != 0 {
		t.Errorf("base current = %d", r.Decision.BaseCurrentMA)
	}
	for _, cmd := range b.Log.Commands() {
		if cmd.Device != "charger" {
			t.Errorf("unexpected command %s without a base", cmd)
		}
	}
}

func TestTickUnplugged(t *testing.T) {
	c, b, _ := newTestController(t)
	mustTick(t, c)
	mustTick(t, c)

	b.Unplug()
	r := mustTick(t, c)
	if r.AC || !r.ACChanged {
		t.Errorf("AC = %v changed = %v", r.AC, r.ACChanged)
	}
	want := allocator.Decision{Branch: allocator.BranchBaseToLid, BaseCurrentMA: -3206, LidCurrentMA: 1800}
	if r.Decision != want {
		t.Fatalf("decision = %+v, want %+v", r.Decision, want)
	}
	if b.Charger.OutputCurrentMA != 0 || b.Base.CurrentMA != -3206 {
		t.Errorf("devices = charger otg %d base %d", b.Charger.OutputCurrentMA, b.Base.CurrentMA)
	}

	// The lid sees the base output on its input; that is not an adapter.
	b.Host.SetExtPower(true)
	r = mustTick(t, c)
	if r.AC {
		t.Error("AC should be masked while the base is sourcing")
	}
	if r.Decision.Branch != allocator.BranchBaseToLid {
		t.Errorf("branch = %s", r.Decision.Branch)
	}
}

func TestTickManualCharge(t *testing.T) {
	c, b, _ := newTestController(t)
	b.Plug(telemetry.Adapter{DesiredInputCurrentMA: 2500, InputVoltageMV: 20000})

	if err := c.SetManualCharge(false, 1000); err != nil {
		t.Fatal(err)
	}
	r := mustTick(t, c)
	if r.Decision.BaseCurrentMA != 1000 || r.Decision.LidCurrentMA != 1500 {
		t.Errorf("decision = %+v", r.Decision)
	}

	if err := c.SetManualCharge(false, -1); !errors.Is(err, ErrInvalidOverride) {
		t.Errorf("negative charge override: err = %v", err)
	}

	if err := c.SetManualCharge(true, 0); err != nil {
		t.Fatal(err)
	}
	r = mustTick(t, c)
	if r.Decision.Branch != allocator.BranchBudget {
		t.Errorf("branch = %s after clearing the override", r.Decision.Branch)
	}
}

func TestTickManualDischarge(t *testing.T) {
	c, b, _ := newTestController(t)
	b.Unplug()

	if err := c.SetManualDischarge(false, -300); err != nil {
		t.Fatal(err)
	}
	r := mustTick(t, c)
	if r.Decision.Branch != allocator.BranchManualNoAC || r.Decision.BaseCurrentMA != -534 || r.Decision.LidCurrentMA != 300 {
		t.Errorf("decision = %+v", r.Decision)
	}
	if st := c.Status(); st.State.ManualNoAC == nil || *st.State.ManualNoAC != -300 {
		t.Errorf("status override = %v", st.State.ManualNoAC)
	}
}

func TestTickChargerFailure(t *testing.T) {
	c, b, _ := newTestController(t)
	b.Charger.SetFail(errors.New("bus error"))

	if _, err := c.Tick(false); err == nil {
		t.Fatal("expected an error")
	}
	st := c.Status()
	if st.LastError == "" {
		t.Error("status should carry the last error")
	}

	b.Charger.SetFail(nil)
	mustTick(t, c)
	if c.Status().LastError != "" {
		t.Error("last error should clear after a good tick")
	}
}

func TestAllocateAndApply(t *testing.T) {
	c, b, _ := newTestController(t)
	// Without a tick the controller has not seen AC yet, so the lid keeps
	// the unknown base alive.
	if err := c.AllocateAndApply(false, true); err != nil {
		t.Fatal(err)
	}
	if b.Charger.OutputCurrentMA != 192 || b.Charger.InputLimitMA != 0 {
		t.Errorf("charger otg = %d input = %d", b.Charger.OutputCurrentMA, b.Charger.InputLimitMA)
	}
	if c.Status().LastDecision.Branch != allocator.BranchLidToBase {
		t.Errorf("branch = %s", c.Status().LastDecision.Branch)
	}
}

func TestRelease(t *testing.T) {
	c, b, _ := newTestController(t)
	mustTick(t, c)
	mustTick(t, c)
	b.Unplug()
	mustTick(t, c)

	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if b.Base.CurrentMA != 0 {
		t.Errorf("base current = %d after release", b.Base.CurrentMA)
	}
	if b.Charger.OutputCurrentMA != 0 {
		t.Errorf("lid output = %d after release", b.Charger.OutputCurrentMA)
	}
	if got := c.Status().LastDecision.Branch; got != allocator.BranchRelease {
		t.Errorf("branch = %s, want %s", got, allocator.BranchRelease)
	}
}

func TestStatusJSON(t *testing.T) {
	c, _, _ := newTestController(t)
	mustTick(t, c)

	raw, err := json.Marshal(c.Status())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	state := got["state"].(map[string]any)
	if state["link"] != "responsive" {
		t.Errorf("link = %v", state["link"])
	}
	if _, ok := state["baseBatteryPower"]; !ok {
		t.Error("estimates missing from status")
	}
	if got["lastDecision"].(map[string]any)["branch"] != "budget" {
		t.Errorf("lastDecision = %v", got["lastDecision"])
	}
}

func TestParseOverride(t *testing.T) {
	tests := []struct {
		in      string
		auto    bool
		current int
		wantErr bool
	}{
		{in: "auto", auto: true},
		{in: " AUTO ", auto: true},
		{in: "1500", current: 1500},
		{in: "-300", current: -300},
		{in: "lots", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			auto, current, err := ParseOverride(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOverride) {
					t.Errorf("err = %v, want ErrInvalidOverride", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if auto != tt.auto || current != tt.current {
				t.Errorf("got %v %d", auto, current)
			}
		})
	}
}

func TestBaseInfo(t *testing.T) {
	c, b, _ := newTestController(t)
	mustTick(t, c)

	info, err := c.Base()
	if err != nil {
		t.Fatalf("Base: %v", err)
	}
	if info.Link != allocator.LinkResponsive || info.ChargePercent != 50 {
		t.Errorf("info = %+v", info)
	}
	if info.Static == nil || info.Static.Model != "BASE-1" {
		t.Errorf("static = %+v", info.Static)
	}

	b.Port.SetAttached(false)
	mustTick(t, c)
	if _, err := c.Base(); !errors.Is(err, ErrBaseNotConnected) {
		t.Errorf("err = %v, want ErrBaseNotConnected", err)
	}
}
