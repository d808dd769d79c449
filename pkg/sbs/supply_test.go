package sbs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

func writeSupply(t *testing.T, dir, name string, attrs map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
		t.Fatal(err)
	}
	for k, v := range attrs {
		if err := os.WriteFile(filepath.Join(dir, name, k), []byte(v+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHostSupply(t *testing.T) {
	tests := []struct {
		name     string
		supplies map[string]map[string]string
		wantAC   bool
		want     telemetry.Adapter
	}{
		{
			name:     "no supplies",
			supplies: nil,
		},
		{
			name: "battery only",
			supplies: map[string]map[string]string{
				"BAT0": {"type": "Battery", "online": "1"},
			},
		},
		{
			name: "mains offline",
			supplies: map[string]map[string]string{
				"AC": {"type": "Mains", "online": "0"},
			},
		},
		{
			name: "usb-c online",
			supplies: map[string]map[string]string{
				"BAT0":       {"type": "Battery"},
				"ucsi-port0": {"type": "USB", "online": "1", "current_max": "3000000", "voltage_now": "20000000"},
			},
			wantAC: true,
			want:   telemetry.Adapter{DesiredInputCurrentMA: 3000, InputVoltageMV: 20000},
		},
		{
			name: "mains without limits",
			supplies: map[string]map[string]string{
				"AC": {"type": "Mains", "online": "1"},
			},
			wantAC: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, attrs := range tt.supplies {
				writeSupply(t, dir, name, attrs)
			}
			h := NewHostSupply(dir)
			if got := h.ExtPowerPresent(); got != tt.wantAC {
				t.Errorf("ExtPowerPresent() = %v, want %v", got, tt.wantAC)
			}
			if got := h.Adapter(); got != tt.want {
				t.Errorf("Adapter() = %+v, want %+v", got, tt.want)
			}
			if h.Chipset() != device.ChipsetOn {
				t.Errorf("Chipset() = %v", h.Chipset())
			}
		})
	}
}
