package daemon

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/baselink"
	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/sbs"
	"github.com/charlie0129/dualbatt/pkg/sim"
)

// backend is the set of devices the controller drives.
type backend struct {
	charger device.Charger
	base    device.Base
	port    device.BasePort
	host    device.Host
	gauge   device.LidGauge
	adapter device.AdapterSource

	// run, if set, is started next to the control loop.
	run   func(ctx context.Context)
	close func() error
}

func newBackend(conf config.Config) (*backend, error) {
	switch conf.Backend() {
	case config.BackendSim:
		return newSimBackend(conf), nil
	case config.BackendSMBus:
		return newSMBusBackend(conf)
	default:
		return nil, pkgerrors.Errorf("unknown backend %q", conf.Backend())
	}
}

// newSimBackend runs the simulated board in real time.
func newSimBackend(conf config.Config) *backend {
	board := sim.NewBoard()
	board.Port.SetAttached(conf.BaseSupport())
	logrus.Info("using simulated board")

	return &backend{
		charger: board.Charger,
		base:    board.Base,
		port:    board.Port,
		host:    board.Host,
		gauge:   board.Gauge,
		adapter: board.Adapter,
		run: func(ctx context.Context) {
			const step = time.Second
			t := time.NewTicker(step)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					board.Step(step)
				}
			}
		},
		close: func() error { return nil },
	}
}

func newSMBusBackend(conf config.Config) (*backend, error) {
	bus, err := sbs.OpenBus(conf.SMBusBus(), conf.GaugeAddr())
	if err != nil {
		return nil, err
	}

	var gauge device.LidGauge = sbs.NewGauge(bus, conf.GaugeAddr())
	if conf.HostGauge() {
		gauge = sbs.NewHostGauge(0)
	}
	supply := sbs.NewHostSupply("")

	logrus.WithFields(logrus.Fields{
		"bus":        conf.SMBusBus(),
		"gauge":      conf.GaugeAddr(),
		"charger":    conf.ChargerAddr(),
		"hostGauge":  conf.HostGauge(),
		"baseSocket": conf.BaseSocket(),
	}).Info("using smbus devices")

	return &backend{
		charger: sbs.NewCharger(bus, conf.ChargerAddr(), sbs.DefaultChargerRegisters(), gauge),
		base:    baselink.NewClient(conf.BaseSocket(), baselink.DefaultTimeout),
		port:    baselink.NewPort(conf.BaseSocket(), baselink.DefaultTimeout),
		host:    supply,
		gauge:   gauge,
		adapter: supply,
		close:   bus.Close,
	}, nil
}
