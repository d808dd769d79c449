package baselink

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/device"
)

// Handler serves the base command API from base. The port routes are only
// registered when port is not nil.
func Handler(base device.Base, port device.BasePort) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.PUT("/charge-control", func(c *gin.Context) {
		var req ChargeControl
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		if err := base.SetChargeControl(req.CurrentMA, req.VoltageMV, req.AllowCharge); err != nil {
			logrus.WithError(err).Error("charge control failed")
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		logrus.WithFields(logrus.Fields{
			"current":     req.CurrentMA,
			"voltage":     req.VoltageMV,
			"allowCharge": req.AllowCharge,
		}).Debug("charge control")
		c.IndentedJSON(http.StatusOK, req)
	})

	router.GET("/battery/dynamic", func(c *gin.Context) {
		info, err := base.DynamicInfo()
		if err != nil {
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		c.IndentedJSON(http.StatusOK, info)
	})

	router.GET("/battery/static", func(c *gin.Context) {
		info, err := base.StaticInfo()
		if err != nil {
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		c.IndentedJSON(http.StatusOK, info)
	})

	router.POST("/hibernate", func(c *gin.Context) {
		if err := base.Hibernate(); err != nil {
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	if port != nil {
		registerPort(router, port)
	}

	return router
}

func registerPort(router *gin.Engine, port device.BasePort) {
	router.GET("/port/attached", func(c *gin.Context) {
		c.IndentedJSON(http.StatusOK, port.Attached())
	})

	router.POST("/port/reset", func(c *gin.Context) {
		if err := port.Reset(); err != nil {
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		logrus.Info("base reset")
		c.Status(http.StatusNoContent)
	})

	router.PUT("/port/power", func(c *gin.Context) {
		var on bool
		if err := c.ShouldBindJSON(&on); err != nil {
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		if err := port.EnablePower(on); err != nil {
			_ = c.AbortWithError(http.StatusServiceUnavailable, err)
			return
		}
		logrus.WithField("on", on).Debug("base power")
		c.IndentedJSON(http.StatusOK, on)
	})
}
