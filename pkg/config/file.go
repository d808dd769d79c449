package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/policy"
	"github.com/charlie0129/dualbatt/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		LoopIntervalMs:     ptr.To(1000),
		EdgePollIntervalMs: ptr.To(250),
		AllowNonRootAccess: ptr.To(false),
		BaseSupport:        ptr.To(true),
		Backend:            ptr.To(BackendSim),
		SMBusBus:           ptr.To(1),
		// Smart battery and smart battery charger default addresses.
		GaugeAddr:   ptr.To(0x0b),
		ChargerAddr: ptr.To(0x09),
		BaseSocket:  ptr.To("/var/run/dualbatt-base.sock"),
		MQTTBroker:  ptr.To(""),
		MQTTTopic:   ptr.To("dualbatt"),
		HostGauge:   ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	LoopIntervalMs     *int            `json:"loopIntervalMs,omitempty"`
	EdgePollIntervalMs *int            `json:"edgePollIntervalMs,omitempty"`
	AllowNonRootAccess *bool           `json:"allowNonRootAccess,omitempty"`
	BaseSupport        *bool           `json:"baseSupport,omitempty"`
	Backend            *string         `json:"backend,omitempty"`
	SMBusBus           *int            `json:"smbusBus,omitempty"`
	GaugeAddr          *int            `json:"gaugeAddr,omitempty"`
	ChargerAddr        *int            `json:"chargerAddr,omitempty"`
	BaseSocket         *string         `json:"baseSocket,omitempty"`
	MQTTBroker         *string         `json:"mqttBroker,omitempty"`
	MQTTTopic          *string         `json:"mqttTopic,omitempty"`
	HostGauge          *bool           `json:"hostGauge,omitempty"`
	Policy             *PolicyOverride `json:"policy,omitempty"`
}

// PolicyOverride holds the policy fields to change from policy.Default().
type PolicyOverride struct {
	OTGVoltage              *int `json:"otgVoltage,omitempty"`
	MaxBaseToLidCurrent     *int `json:"maxBaseToLidCurrent,omitempty"`
	MaxLidToBaseCurrent     *int `json:"maxLidToBaseCurrent,omitempty"`
	MarginOTGCurrent        *int `json:"marginOtgCurrent,omitempty"`
	MinChargeBaseOTG        *int `json:"minChargeBaseOtg,omitempty"`
	MaxChargeBaseBattToBatt *int `json:"maxChargeBaseBattToBatt,omitempty"`
	MaxChargeLidBattToBatt  *int `json:"maxChargeLidBattToBatt,omitempty"`
	MinBaseSystemPower      *int `json:"minBaseSystemPower,omitempty"`
	LidSystemPowerSmooth    *int `json:"lidSystemPowerSmooth,omitempty"`
	BatteryPowerSmooth      *int `json:"batteryPowerSmooth,omitempty"`
	MarginBaseBatteryPower  *int `json:"marginBaseBatteryPower,omitempty"`
	MarginLidBatteryPower   *int `json:"marginLidBatteryPower,omitempty"`
}

// Apply returns p with the overridden fields replaced.
func (o *PolicyOverride) Apply(p policy.Policy) policy.Policy {
	if o == nil {
		return p
	}
	p.OTGVoltage = ptr.Deref(o.OTGVoltage, p.OTGVoltage)
	p.MaxBaseToLidCurrent = ptr.Deref(o.MaxBaseToLidCurrent, p.MaxBaseToLidCurrent)
	p.MaxLidToBaseCurrent = ptr.Deref(o.MaxLidToBaseCurrent, p.MaxLidToBaseCurrent)
	p.MarginOTGCurrent = ptr.Deref(o.MarginOTGCurrent, p.MarginOTGCurrent)
	p.MinChargeBaseOTG = ptr.Deref(o.MinChargeBaseOTG, p.MinChargeBaseOTG)
	p.MaxChargeBaseBattToBatt = ptr.Deref(o.MaxChargeBaseBattToBatt, p.MaxChargeBaseBattToBatt)
	p.MaxChargeLidBattToBatt = ptr.Deref(o.MaxChargeLidBattToBatt, p.MaxChargeLidBattToBatt)
	p.MinBaseSystemPower = ptr.Deref(o.MinBaseSystemPower, p.MinBaseSystemPower)
	p.LidSystemPowerSmooth = ptr.Deref(o.LidSystemPowerSmooth, p.LidSystemPowerSmooth)
	p.BatteryPowerSmooth = ptr.Deref(o.BatteryPowerSmooth, p.BatteryPowerSmooth)
	p.MarginBaseBatteryPower = ptr.Deref(o.MarginBaseBatteryPower, p.MarginBaseBatteryPower)
	p.MarginLidBatteryPower = ptr.Deref(o.MarginLidBatteryPower, p.MarginLidBatteryPower)
	return p
}

// Validate reports configuration errors that would only surface once the
// daemon is running.
func (c *RawFileConfig) Validate() error {
	if v := ptr.Deref(c.LoopIntervalMs, *defaultFileConfig.LoopIntervalMs); v <= 0 {
		return pkgerrors.Errorf("loopIntervalMs must be positive, got %d", v)
	}
	if v := ptr.Deref(c.EdgePollIntervalMs, *defaultFileConfig.EdgePollIntervalMs); v <= 0 {
		return pkgerrors.Errorf("edgePollIntervalMs must be positive, got %d", v)
	}
	switch b := ptr.Deref(c.Backend, *defaultFileConfig.Backend); b {
	case BackendSim, BackendSMBus:
	default:
		return pkgerrors.Errorf("unknown backend %q", b)
	}
	for name, v := range map[string]*int{"gaugeAddr": c.GaugeAddr, "chargerAddr": c.ChargerAddr} {
		if v != nil && (*v < 0x03 || *v > 0x77) {
			return pkgerrors.Errorf("%s 0x%x is not a 7-bit device address", name, *v)
		}
	}
	if err := c.Policy.Apply(policy.Default()).Validate(); err != nil {
		return pkgerrors.Wrap(err, "invalid policy")
	}
	return nil
}

func (f *File) LoopInterval() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return time.Duration(ptr.Deref(f.c.LoopIntervalMs, *defaultFileConfig.LoopIntervalMs)) * time.Millisecond
}

func (f *File) EdgePollInterval() time.Duration {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return time.Duration(ptr.Deref(f.c.EdgePollIntervalMs, *defaultFileConfig.EdgePollIntervalMs)) * time.Millisecond
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.AllowNonRootAccess, *defaultFileConfig.AllowNonRootAccess)
}

func (f *File) BaseSupport() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.BaseSupport, *defaultFileConfig.BaseSupport)
}

// HostGauge reports whether lid telemetry comes from the OS battery instead
// of the SMBus fuel gauge.
func (f *File) HostGauge() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.HostGauge, *defaultFileConfig.HostGauge)
}

func (f *File) Backend() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.Backend, *defaultFileConfig.Backend)
}

func (f *File) SMBusBus() int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.SMBusBus, *defaultFileConfig.SMBusBus)
}

func (f *File) GaugeAddr() uint8 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return uint8(ptr.Deref(f.c.GaugeAddr, *defaultFileConfig.GaugeAddr))
}

func (f *File) ChargerAddr() uint8 {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return uint8(ptr.Deref(f.c.ChargerAddr, *defaultFileConfig.ChargerAddr))
}

func (f *File) BaseSocket() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.BaseSocket, *defaultFileConfig.BaseSocket)
}

func (f *File) MQTTBroker() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.MQTTBroker, *defaultFileConfig.MQTTBroker)
}

func (f *File) MQTTTopic() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.c.MQTTTopic, *defaultFileConfig.MQTTTopic)
}

func (f *File) Policy() policy.Policy {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.c.Policy.Apply(policy.Default())
}

func (f *File) SetLoopInterval(d time.Duration) {
	if f.c == nil {
		panic("config is nil")
	}
	if d <= 0 {
		panic("loop interval must be positive")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.LoopIntervalMs = ptr.To(int(d / time.Millisecond))
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) SetBaseSupport(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.BaseSupport = &b
}

// Load reads the file. On error the previously loaded configuration is kept.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Raw returns a copy of the effective configuration with every default
// filled in.
func (f *File) Raw() RawFileConfig {
	p := f.Policy()
	return RawFileConfig{
		LoopIntervalMs:     ptr.To(int(f.LoopInterval() / time.Millisecond)),
		EdgePollIntervalMs: ptr.To(int(f.EdgePollInterval() / time.Millisecond)),
		AllowNonRootAccess: ptr.To(f.AllowNonRootAccess()),
		BaseSupport:        ptr.To(f.BaseSupport()),
		Backend:            ptr.To(f.Backend()),
		SMBusBus:           ptr.To(f.SMBusBus()),
		GaugeAddr:          ptr.To(int(f.GaugeAddr())),
		ChargerAddr:        ptr.To(int(f.ChargerAddr())),
		BaseSocket:         ptr.To(f.BaseSocket()),
		MQTTBroker:         ptr.To(f.MQTTBroker()),
		MQTTTopic:          ptr.To(f.MQTTTopic()),
		HostGauge:          ptr.To(f.HostGauge()),
		Policy: &PolicyOverride{
			OTGVoltage:              ptr.To(p.OTGVoltage),
			MaxBaseToLidCurrent:     ptr.To(p.MaxBaseToLidCurrent),
			MaxLidToBaseCurrent:     ptr.To(p.MaxLidToBaseCurrent),
			MarginOTGCurrent:        ptr.To(p.MarginOTGCurrent),
			MinChargeBaseOTG:        ptr.To(p.MinChargeBaseOTG),
			MaxChargeBaseBattToBatt: ptr.To(p.MaxChargeBaseBattToBatt),
			MaxChargeLidBattToBatt:  ptr.To(p.MaxChargeLidBattToBatt),
			MinBaseSystemPower:      ptr.To(p.MinBaseSystemPower),
			LidSystemPowerSmooth:    ptr.To(p.LidSystemPowerSmooth),
			BatteryPowerSmooth:      ptr.To(p.BatteryPowerSmooth),
			MarginBaseBatteryPower:  ptr.To(p.MarginBaseBatteryPower),
			MarginLidBatteryPower:   ptr.To(p.MarginLidBatteryPower),
		},
	}
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"loopInterval":       f.LoopInterval(),
		"edgePollInterval":   f.EdgePollInterval(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"baseSupport":        f.BaseSupport(),
		"backend":            f.Backend(),
		"hostGauge":          f.HostGauge(),
		"baseSocket":         f.BaseSocket(),
		"mqttBroker":         f.MQTTBroker(),
	}
}
