package sbs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// DefaultPowerSupplyDir is where Linux exposes power supplies.
const DefaultPowerSupplyDir = "/sys/class/power_supply"

// HostSupply reads the external power supplies of the host from sysfs.
// The daemon runs on the host, so the chipset is always reported on.
type HostSupply struct {
	dir string
}

var (
	_ device.Host          = &HostSupply{}
	_ device.AdapterSource = &HostSupply{}
)

func NewHostSupply(dir string) *HostSupply {
	if dir == "" {
		dir = DefaultPowerSupplyDir
	}
	return &HostSupply{dir: dir}
}

func (h *HostSupply) Chipset() device.ChipsetState {
	return device.ChipsetOn
}

func (h *HostSupply) ExtPowerPresent() bool {
	_, ok := h.online()
	return ok
}

// Adapter reports the first online external supply. sysfs values are in µA
// and µV.
func (h *HostSupply) Adapter() telemetry.Adapter {
	supply, ok := h.online()
	if !ok {
		return telemetry.Adapter{}
	}
	currentUA, err1 := h.readInt(supply, "current_max")
	voltageUV, err2 := h.readInt(supply, "voltage_now")
	if err2 != nil {
		voltageUV, err2 = h.readInt(supply, "voltage_max")
	}
	if err1 != nil || err2 != nil {
		logrus.WithFields(logrus.Fields{
			"supply":       supply,
			"currentError": err1,
			"voltageError": err2,
		}).Debug("external supply does not report its limits")
		return telemetry.Adapter{}
	}
	return telemetry.Adapter{
		DesiredInputCurrentMA: currentUA / 1000,
		InputVoltageMV:        voltageUV / 1000,
	}
}

func (h *HostSupply) online() (string, bool) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		logrus.WithError(err).Debug("failed to list power supplies")
		return "", false
	}
	for _, e := range entries {
		typ, err := h.read(e.Name(), "type")
		if err != nil || typ == "Battery" {
			continue
		}
		if online, err := h.readInt(e.Name(), "online"); err == nil && online > 0 {
			return e.Name(), true
		}
	}
	return "", false
}

func (h *HostSupply) read(supply, attr string) (string, error) {
	b, err := os.ReadFile(filepath.Join(h.dir, supply, attr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func (h *HostSupply) readInt(supply, attr string) (int, error) {
	s, err := h.read(supply, attr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
