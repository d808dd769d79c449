package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/distatus/battery"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/version"
)

func (s *server) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.conf.Raw())
}

func (s *server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.Status())
}

func (s *server) getBase(c *gin.Context) {
	info, err := s.ctrl.Base()
	if errors.Is(err, controller.ErrBaseNotConnected) {
		c.IndentedJSON(http.StatusNotFound, err.Error())
		_ = c.AbortWithError(http.StatusNotFound, err)
		return
	}
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, info)
}

func (s *server) setManualCharge(c *gin.Context) {
	s.setOverride(c, "charge", s.ctrl.SetManualCharge)
}

func (s *server) setManualDischarge(c *gin.Context) {
	s.setOverride(c, "discharge", s.ctrl.SetManualDischarge)
}

// setOverride takes "auto" or a current in mA as a JSON string.
func (s *server) setOverride(c *gin.Context, kind string, set func(auto bool, currentMA int) error) {
	var v string
	if err := c.ShouldBindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	auto, currentMA, err := controller.ParseOverride(v)
	if err == nil {
		err = set(auto, currentMA)
	}
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, controller.ErrInvalidOverride) {
			code = http.StatusBadRequest
		}
		c.IndentedJSON(code, err.Error())
		_ = c.AbortWithError(code, err)
		return
	}

	msg := fmt.Sprintf("manual %s current set to %d mA", kind, currentMA)
	if auto {
		msg = fmt.Sprintf("manual %s override removed", kind)
	}

	// Immediate tick, to avoid waiting for the next loop
	s.loop.Trigger()

	c.IndentedJSON(http.StatusCreated, msg)
}

// tick runs a debug recomputation and returns its result.
func (s *server) tick(c *gin.Context) {
	r, err := s.ctrl.Tick(true)
	if err != nil {
		logrus.Errorf("tick failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, r)
}

// streamEvents serves the event hub as server-sent events.
func (s *server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if err := events.WriteSSE(w, ev); err != nil {
				logrus.WithError(err).Debug("event subscriber gone")
				return false
			}
			return true
		}
	})
}

func getHostBattery(c *gin.Context) {
	batteries, err := battery.GetAll()
	if err != nil && len(batteries) == 0 {
		logrus.Errorf("getHostBattery failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if len(batteries) == 0 {
		err := errors.New("no batteries found")
		c.IndentedJSON(http.StatusNotFound, err.Error())
		_ = c.AbortWithError(http.StatusNotFound, err)
		return
	}

	for _, bat := range batteries {
		if bat != nil && bat.State == battery.Discharging {
			bat.ChargeRate = -bat.ChargeRate
		}
	}

	c.IndentedJSON(http.StatusOK, batteries)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
