package baselink

import (
	"context"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/internal/client"
	"github.com/charlie0129/dualbatt/pkg/device"
)

// Port is the base connector as seen through the base socket. A base that
// does not answer is not attached.
type Port struct {
	c       *client.Client
	timeout time.Duration
}

var _ device.BasePort = &Port{}

// NewPort returns a port client. A zero timeout uses DefaultTimeout.
func NewPort(socketPath string, timeout time.Duration) *Port {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Port{
		c:       client.New(socketPath, timeout),
		timeout: timeout,
	}
}

func (p *Port) Attached() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ret, err := p.c.Get(ctx, "/port/attached")
	if err != nil {
		logrus.WithError(err).Trace("base port not answering")
		return false
	}
	attached, err := strconv.ParseBool(strings.TrimSpace(string(ret)))
	if err != nil {
		logrus.WithError(err).Warn("bad attached response from base port")
		return false
	}
	return attached
}

func (p *Port) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.c.Post(ctx, "/port/reset", nil); err != nil {
		return pkgerrors.Wrap(err, "base reset")
	}
	return nil
}

func (p *Port) EnablePower(on bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.c.Put(ctx, "/port/power", []byte(strconv.FormatBool(on))); err != nil {
		return pkgerrors.Wrap(err, "base power")
	}
	return nil
}
