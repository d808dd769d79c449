package client

import (
	"context"
	"encoding/json"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/events"
)

func (c *Client) GetStatus() (*controller.Status, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}

	var st controller.Status
	if err := json.Unmarshal(ret, &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// GetBase returns ErrNotFound when no base is attached.
func (c *Client) GetBase() (*controller.BaseInfo, error) {
	ret, err := c.Get("/base")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get base info")
	}

	var info controller.BaseInfo
	if err := json.Unmarshal(ret, &info); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal base info")
	}
	return &info, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal(ret, &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

// SetManualCharge sets the base input current on AC. v is "auto" or a
// current in mA.
func (c *Client) SetManualCharge(v string) (string, error) {
	return c.putString("/manual/charge", v)
}

// SetManualDischarge sets the lid-to-base current without AC. v is "auto"
// or a current in mA; negative currents flow from the base to the lid.
func (c *Client) SetManualDischarge(v string) (string, error) {
	return c.putString("/manual/discharge", v)
}

func (c *Client) putString(path, v string) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	ret, err := c.Put(path, payload)
	if err != nil {
		return "", err
	}
	return decodeString(ret)
}

// Tick asks the daemon for a debug recomputation.
func (c *Client) Tick() (*controller.Result, error) {
	ret, err := c.Post("/tick", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to run tick")
	}

	var r controller.Result
	if err := json.Unmarshal(ret, &r); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal tick result")
	}
	return &r, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return decodeString(ret)
}

// SubscribeEvents streams daemon events until ctx is done or the daemon goes
// away. The returned channel is closed then.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	body, err := c.stream.Stream(ctx, "/events")
	if err != nil {
		return nil, pkgerrors.Wrap(mapError(err), "failed to subscribe to events")
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer body.Close()
		if err := events.ReadSSE(ctx, body, ch); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Debug("event stream ended")
		}
	}()
	return ch, nil
}

func decodeString(ret []byte) (string, error) {
	var s string
	if err := json.Unmarshal(ret, &s); err != nil {
		return "", pkgerrors.Wrapf(err, "unexpected response: %s", ret)
	}
	return s, nil
}
