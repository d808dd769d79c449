package config

import (
	"time"

	"github.com/charlie0129/dualbatt/pkg/policy"
)

// Backend names.
const (
	BackendSim   = "sim"
	BackendSMBus = "smbus"
)

type Config interface {
	LoopInterval() time.Duration
	EdgePollInterval() time.Duration
	AllowNonRootAccess() bool
	BaseSupport() bool
	Backend() string
	SMBusBus() int
	GaugeAddr() uint8
	ChargerAddr() uint8
	BaseSocket() string
	MQTTBroker() string
	MQTTTopic() string
	HostGauge() bool
	// Policy is the default policy with the configured overrides applied.
	Policy() policy.Policy

	SetLoopInterval(time.Duration)
	SetAllowNonRootAccess(bool)
	SetBaseSupport(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
