package allocator

import (
	"math/rand"
	"testing"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(policy.Default())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func battery(currentMA, voltageMV, desiredMA, desiredMV int) telemetry.Battery {
	return telemetry.Battery{
		VoltageMV:            voltageMV,
		CurrentMA:            currentMA,
		DesiredVoltageMV:     desiredMV,
		DesiredCurrentMA:     desiredMA,
		RemainingCapacityMAh: 2500,
		FullCapacityMAh:      5000,
		Flags:                telemetry.Present,
	}
}

func intp(v int) *int { return &v }

func TestNewEngineRejectsInvalidPolicy(t *testing.T) {
	p := policy.Default()
	p.OTGVoltage = 0
	if _, err := NewEngine(p); err == nil {
		t.Fatal("expected an error for a zero OTG voltage")
	}
}

func TestAllocateNoBase(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	st.BaseBatteryPower.Update(4000)

	d := e.Allocate(Inputs{
		Adapter:       telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		Lid:           battery(500, 10000, 1000, 10000),
		SystemPowerMW: 8000,
		Chipset:       device.ChipsetOn,
	}, st)

	if d.Branch != BranchNoBase {
		t.Fatalf("branch = %s, want %s", d.Branch, BranchNoBase)
	}
	if d.LidCurrentMA != 3000 || !d.AllowChargeLid {
		t.Errorf("lid = %d/%v, want 3000/true", d.LidCurrentMA, d.AllowChargeLid)
	}
	if d.BaseCurrentMA != 0 || d.AllowChargeBase {
		t.Errorf("base = %d/%v, want 0/false", d.BaseCurrentMA, d.AllowChargeBase)
	}
	if _, ok := st.BaseBatteryPower.Value(); ok {
		t.Error("base battery estimate should be forgotten")
	}
}

func TestAllocateBudget(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	base := battery(400, 10000, 1000, 10000)

	d := e.Allocate(Inputs{
		Adapter:       telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		Lid:           battery(500, 10000, 1000, 10000),
		Base:          &base,
		BaseAttached:  true,
		Chipset:       device.ChipsetOn,
		SystemPowerMW: 8000,
	}, st)

	if d.Branch != BranchBudget {
		t.Fatalf("branch = %s, want %s", d.Branch, BranchBudget)
	}
	// 1300 + 4000*160/128 for the base, the rest for the lid.
	if d.Split.PowerBaseMW != 6300 || d.Split.PowerLidMW != 53700 {
		t.Errorf("split = %+v", *d.Split)
	}
	if d.BaseCurrentMA != 315 || d.LidCurrentMA != 2685 {
		t.Errorf("currents = base %d lid %d, want 315 2685", d.BaseCurrentMA, d.LidCurrentMA)
	}
	if !d.AllowChargeBase || !d.AllowChargeLid {
		t.Error("both sides should charge on AC")
	}

	if v, _ := st.LidSystemPower.Value(); v != 8000 {
		t.Errorf("lid system estimate = %d, want 8000", v)
	}
	if v, _ := st.BaseBatteryPower.Value(); v != 4000 {
		t.Errorf("base battery estimate = %d, want 4000", v)
	}
}

func TestAllocateBudgetSmoothsSystemPower(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	in := Inputs{
		Adapter:       telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		Lid:           battery(0, 10000, 0, 10000),
		BaseAttached:  true,
		Chipset:       device.ChipsetOn,
		SystemPowerMW: 8000,
	}
	e.Allocate(in, st)

	in.SystemPowerMW = 12000
	d := e.Allocate(in, st)
	if d.Split.LidSystemMW != 9000 {
		t.Errorf("smoothed lid system power = %d, want 9000", d.Split.LidSystemMW)
	}
}

func TestAllocateBudgetCapsBatteryAtDesiredPower(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	// Drawing 2000 mA but asking for only 500 mA.
	lid := battery(2000, 10000, 500, 10000)

	d := e.Allocate(Inputs{
		Adapter:      telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		Lid:          lid,
		BaseAttached: true,
		Chipset:      device.ChipsetOn,
	}, st)
	if d.Split.LidBatteryMW != 5000 {
		t.Errorf("lid battery power = %d, want 5000", d.Split.LidBatteryMW)
	}
}

func TestAllocateBudgetCappedEstimateDecaysSlowly(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	in := Inputs{
		Adapter:      telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		BaseAttached: true,
		Chipset:      device.ChipsetOn,
	}

	tests := []struct {
		name     string
		lid      telemetry.Battery
		base     telemetry.Battery
		wantLid  int
		wantBase int
	}{
		// Drawing and asking for 2000 mA.
		{name: "full appetite", lid: battery(2000, 10000, 2000, 10000), base: battery(2000, 10000, 2000, 10000), wantLid: 20000, wantBase: 20000},
		// Drawing 1500 mA but asking for only 500 mA: 20000 - 15000/128.
		{name: "ceiling drops", lid: battery(1500, 10000, 500, 10000), base: battery(1500, 10000, 500, 10000), wantLid: 19883, wantBase: 19883},
		{name: "appetite grows back", lid: battery(2100, 10000, 2100, 10000), base: battery(2100, 10000, 2100, 10000), wantLid: 21000, wantBase: 21000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in.Lid = tt.lid
			base := tt.base
			in.Base = &base
			d := e.Allocate(in, st)
			if d.Split == nil {
				t.Fatalf("no split for branch %s", d.Branch)
			}
			if d.Split.LidBatteryMW != tt.wantLid {
				t.Errorf("lid battery power = %d, want %d", d.Split.LidBatteryMW, tt.wantLid)
			}
			if d.Split.BaseBatteryMW != tt.wantBase {
				t.Errorf("base battery power = %d, want %d", d.Split.BaseBatteryMW, tt.wantBase)
			}
			if v, _ := st.LidBatteryPower.Value(); v != tt.wantLid {
				t.Errorf("stored lid estimate = %d, want %d", v, tt.wantLid)
			}
		})
	}
}

func TestAllocateBudgetLidToBaseCeiling(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()
	base := battery(3000, 10000, 3000, 10000)

	d := e.Allocate(Inputs{
		Adapter:       telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 15000},
		Lid:           battery(0, 10000, 0, 10000),
		Base:          &base,
		BaseAttached:  true,
		Chipset:       device.ChipsetOn,
		SystemPowerMW: 1000,
	}, st)

	if d.BaseCurrentMA != 2000 {
		t.Errorf("base current = %d, want the 2000 mA ceiling", d.BaseCurrentMA)
	}
	// 413 mA of own budget plus the 586 mA cut from the base.
	if d.LidCurrentMA != 999 {
		t.Errorf("lid current = %d, want 999", d.LidCurrentMA)
	}
}

func TestAllocateBudgetPPSReservation(t *testing.T) {
	e := newTestEngine(t)
	st := NewState()

	d := e.Allocate(Inputs{
		Adapter: telemetry.Adapter{
			DesiredInputCurrentMA: 3000,
			InputVoltageMV:        20000,
			PPSPowerBudgetMW:      20000,
		},
		Lid:          battery(0, 10000, 0, 10000),
		BaseAttached: true,
		Chipset:      device.ChipsetOn,
	}, st)

	if d.Branch != BranchBudget {
		t.Fatalf("branch = %s, want %s", d.Branch, BranchBudget)
	}
	if got := d.BaseCurrentMA + d.LidCurrentMA; got != 2000 {
		t.Errorf("allocated %d mA, want 2000 after the PPS reservation", got)
	}
}

func TestAllocateBudgetConservation(t *testing.T) {
	e := newTestEngine(t)
	p := e.Policy()
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		st := NewState()
		desired := 100 + r.Intn(5000)
		voltage := 1000 * (5 + r.Intn(16))
		base := battery(r.Intn(4000)-1000, 7000+r.Intn(6000), r.Intn(4000), 7000+r.Intn(6000))
		in := Inputs{
			Adapter:       telemetry.Adapter{DesiredInputCurrentMA: desired, InputVoltageMV: voltage},
			Lid:           battery(r.Intn(4000)-1000, 7000+r.Intn(6000), r.Intn(4000), 7000+r.Intn(6000)),
			Base:          &base,
			BaseAttached:  true,
			Chipset:       device.ChipsetOn,
			SystemPowerMW: r.Intn(30000),
		}
		d := e.Allocate(in, st)

		if d.BaseCurrentMA < 0 || d.LidCurrentMA < 0 {
			t.Fatalf("negative current on AC: %+v", d)
		}
		if d.BaseCurrentMA > p.MaxLidToBaseCurrent {
			t.Fatalf("base current %d above ceiling", d.BaseCurrentMA)
		}
		sum := d.BaseCurrentMA + d.LidCurrentMA
		if sum > desired || sum < desired-2 {
			t.Fatalf("allocated %d mA of %d: %+v", sum, desired, d)
		}
		if d.Split.PowerBaseMW+d.Split.PowerLidMW != d.Split.TotalMW {
			t.Fatalf("power split does not add up: %+v", *d.Split)
		}
	}
}

func TestAllocateManualAC(t *testing.T) {
	tests := []struct {
		name     string
		manual   int
		wantBase int
		wantLid  int
	}{
		{name: "within desired", manual: 500, wantBase: 500, wantLid: 2500},
		{name: "above desired", manual: 4000, wantBase: 3000, wantLid: 0},
		{name: "zero", manual: 0, wantBase: 0, wantLid: 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			st := NewState()
			st.ManualACCurrentBase = intp(tt.manual)
			d := e.Allocate(Inputs{
				Adapter:      telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
				BaseAttached: true,
				Chipset:      device.ChipsetOn,
			}, st)
			if d.Branch != BranchManualAC {
				t.Fatalf("branch = %s", d.Branch)
			}
			if d.BaseCurrentMA != tt.wantBase || d.LidCurrentMA != tt.wantLid {
				t.Errorf("got base %d lid %d, want %d %d", d.BaseCurrentMA, d.LidCurrentMA, tt.wantBase, tt.wantLid)
			}
			if !d.AllowChargeBase || !d.AllowChargeLid {
				t.Error("manual AC override should allow both sides to charge")
			}
		})
	}
}

func TestAllocateDischarging(t *testing.T) {
	lowLid := battery(-500, 11000, 0, 0)
	lowLid.RemainingCapacityMAh = 250 // 5%

	tests := []struct {
		name       string
		chipset    device.ChipsetState
		chargeBase int
		link       LinkStatus
		manual     *int
		lid        telemetry.Battery
		want       Decision
	}{
		{
			name:       "base powers lid",
			chipset:    device.ChipsetOn,
			chargeBase: 50,
			lid:        lowLid,
			want:       Decision{Branch: BranchBaseToLid, BaseCurrentMA: -3206, LidCurrentMA: 1800, AllowChargeLid: true},
		},
		{
			name:       "base powers lid without charging a healthy lid",
			chipset:    device.ChipsetOn,
			chargeBase: 50,
			lid:        battery(-500, 11000, 0, 0),
			want:       Decision{Branch: BranchBaseToLid, BaseCurrentMA: -3206, LidCurrentMA: 1800},
		},
		{
			name:       "critical base charged from lid",
			chipset:    device.ChipsetOn,
			chargeBase: 3,
			want:       Decision{Branch: BranchLidToBase, BaseCurrentMA: 108, AllowChargeBase: true, LidCurrentMA: -192},
		},
		{
			name:       "low base kept alive without charging",
			chipset:    device.ChipsetOn,
			chargeBase: 4,
			want:       Decision{Branch: BranchLidToBase, BaseCurrentMA: 108, LidCurrentMA: -192},
		},
		{
			name:       "unknown base charge kept alive",
			chipset:    device.ChipsetOn,
			chargeBase: ChargeUnknown,
			want:       Decision{Branch: BranchLidToBase, BaseCurrentMA: 108, LidCurrentMA: -192},
		},
		{
			name:       "system off hibernates a seen base",
			chipset:    device.ChipsetOff,
			chargeBase: 50,
			link:       LinkResponsive,
			want:       Decision{Branch: BranchOff, Hibernate: true, BasePowerOff: true},
		},
		{
			name:       "system off with a never seen base",
			chipset:    device.ChipsetOff,
			chargeBase: 50,
			link:       LinkNeverSeen,
			want:       Decision{Branch: BranchOff, BasePowerOff: true},
		},
		{
			name:       "system off keeps a critical base charging",
			chipset:    device.ChipsetOff,
			chargeBase: 2,
			link:       LinkResponsive,
			want:       Decision{Branch: BranchLidToBase, BaseCurrentMA: 108, AllowChargeBase: true, LidCurrentMA: -192},
		},
		{
			name:       "suspend cuts power",
			chipset:    device.ChipsetSuspend,
			chargeBase: 50,
			want:       Decision{Branch: BranchSuspend},
		},
		{
			name:       "suspend keeps a critical base charging",
			chipset:    device.ChipsetSuspend,
			chargeBase: 1,
			want:       Decision{Branch: BranchLidToBase, BaseCurrentMA: 108, AllowChargeBase: true, LidCurrentMA: -192},
		},
		{
			name:       "unknown chipset holds",
			chipset:    device.ChipsetUnknown,
			chargeBase: 50,
			want:       Decision{Branch: BranchHold, Hold: true},
		},
		{
			name:       "manual lid to base",
			chipset:    device.ChipsetOff,
			chargeBase: 50,
			manual:     intp(300),
			want:       Decision{Branch: BranchManualNoAC, BaseCurrentMA: 300, LidCurrentMA: -534},
		},
		{
			name:       "manual base to lid",
			chipset:    device.ChipsetOn,
			chargeBase: 50,
			manual:     intp(-300),
			want:       Decision{Branch: BranchManualNoAC, BaseCurrentMA: -534, LidCurrentMA: 300},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			st := NewState()
			st.ChargeBase = tt.chargeBase
			st.Link = tt.link
			st.ManualNoAC = tt.manual
			st.LidSystemPower.Update(5000)

			d := e.Allocate(Inputs{
				Lid:          tt.lid,
				BaseAttached: true,
				Chipset:      tt.chipset,
			}, st)
			if d != tt.want {
				t.Errorf("got %+v, want %+v", d, tt.want)
			}
			if _, ok := st.LidSystemPower.Value(); ok {
				t.Error("power history should be reset without AC")
			}
		})
	}
}

func TestAllocateManualACScenario(t *testing.T) {
	e := newTestEngine(t)
	for _, tt := range []struct{ manual, base, lid int }{
		{manual: 1000, base: 1000, lid: 1500},
		{manual: 3000, base: 2500, lid: 0},
	} {
		st := NewState()
		st.ManualACCurrentBase = intp(tt.manual)
		d := e.Allocate(Inputs{
			Adapter:      telemetry.Adapter{DesiredInputCurrentMA: 2500, InputVoltageMV: 20000},
			BaseAttached: true,
			Chipset:      device.ChipsetOn,
		}, st)
		if d.BaseCurrentMA != tt.base || d.LidCurrentMA != tt.lid {
			t.Errorf("override %d: got (%d, %d), want (%d, %d)", tt.manual, d.BaseCurrentMA, d.LidCurrentMA, tt.base, tt.lid)
		}
	}
}
