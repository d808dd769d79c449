// Package baselink reaches the base MCU over its command socket. The base
// exposes a small JSON API; Client implements device.Base on top of it and
// Handler serves it from any device.Base, which is how the base emulator
// works.
package baselink

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/dualbatt/internal/client"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/telemetry"
)

// DefaultTimeout bounds every command so that a silent base cannot stall a
// tick.
const DefaultTimeout = 500 * time.Millisecond

// ChargeControl is the body of a charge control command.
type ChargeControl struct {
	CurrentMA   int  `json:"current"`
	VoltageMV   int  `json:"voltage"`
	AllowCharge bool `json:"allowCharge"`
}

// Client is a device.Base reached over a unix socket.
type Client struct {
	c       *client.Client
	timeout time.Duration
}

var _ device.Base = &Client{}

// NewClient returns a base client. A zero timeout uses DefaultTimeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		c:       client.New(socketPath, timeout),
		timeout: timeout,
	}
}

func (b *Client) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

func (b *Client) SetChargeControl(currentMA, voltageMV int, allowCharge bool) error {
	ctx, cancel := b.ctx()
	defer cancel()

	data, err := json.Marshal(ChargeControl{CurrentMA: currentMA, VoltageMV: voltageMV, AllowCharge: allowCharge})
	if err != nil {
		return err
	}
	if _, err := b.c.Put(ctx, "/charge-control", data); err != nil {
		return pkgerrors.Wrap(err, "base charge control")
	}
	return nil
}

func (b *Client) DynamicInfo() (telemetry.Battery, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	ret, err := b.c.Get(ctx, "/battery/dynamic")
	if err != nil {
		return telemetry.Battery{}, pkgerrors.Wrap(err, "base dynamic info")
	}
	var bat telemetry.Battery
	if err := json.Unmarshal(ret, &bat); err != nil {
		return telemetry.Battery{}, pkgerrors.Wrap(err, "failed to unmarshal base dynamic info")
	}
	return bat, nil
}

func (b *Client) StaticInfo() (telemetry.StaticInfo, error) {
	ctx, cancel := b.ctx()
	defer cancel()

	ret, err := b.c.Get(ctx, "/battery/static")
	if err != nil {
		return telemetry.StaticInfo{}, pkgerrors.Wrap(err, "base static info")
	}
	var info telemetry.StaticInfo
	if err := json.Unmarshal(ret, &info); err != nil {
		return telemetry.StaticInfo{}, pkgerrors.Wrap(err, "failed to unmarshal base static info")
	}
	return info, nil
}

func (b *Client) Hibernate() error {
	ctx, cancel := b.ctx()
	defer cancel()

	if _, err := b.c.Post(ctx, "/hibernate", nil); err != nil {
		return pkgerrors.Wrap(err, "base hibernate")
	}
	return nil
}
