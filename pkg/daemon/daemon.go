package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/dualbatt/pkg/config"
	"github.com/charlie0129/dualbatt/pkg/controller"
	"github.com/charlie0129/dualbatt/pkg/device"
	"github.com/charlie0129/dualbatt/pkg/events"
	"github.com/charlie0129/dualbatt/pkg/metrics"
	"github.com/charlie0129/dualbatt/pkg/notify"
)

type server struct {
	conf    *config.File
	ctrl    *controller.Controller
	loop    *Loop
	hub     *events.EventHub
	metrics *metrics.Metrics
}

func setupRoutes(s *server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", s.getConfig)
	router.GET("/status", s.getStatus)
	router.GET("/base", s.getBase)
	router.PUT("/manual/charge", s.setManualCharge)
	router.PUT("/manual/discharge", s.setManualDischarge)
	router.POST("/tick", s.tick)
	router.GET("/events", s.streamEvents)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.GET("/host-battery", getHostBattery)
	router.GET("/version", getVersion)

	return router
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	be, err := newBackend(conf)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to set up devices")
	}

	hub := events.NewEventHub()
	publishers := notify.Fanout{hub}
	if broker := conf.MQTTBroker(); broker != "" {
		hostname, _ := os.Hostname()
		mq, err := notify.DialMQTT(broker, "dualbatt-"+hostname, conf.MQTTTopic())
		if err != nil {
			// Events are best effort; the controller runs without them.
			logrus.Errorf("MQTT disabled: %v", err)
		} else {
			defer mq.Close()
			publishers = append(publishers, mq)
		}
	}

	ctrl, err := controller.New(controller.Options{
		Policy:      conf.Policy(),
		BaseSupport: conf.BaseSupport(),
		Charger:     be.charger,
		Base:        be.base,
		Port:        be.port,
		Host:        be.host,
		LidGauge:    be.gauge,
		Adapter:     be.adapter,
		Publisher:   publishers,
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create controller")
	}

	m := metrics.New()
	s := &server{
		conf:    conf,
		ctrl:    ctrl,
		loop:    NewLoop(ctrl, conf, m, be.host, be.gauge, basePort(conf, be.port)),
		hub:     hub,
		metrics: m,
	}
	router := setupRoutes(s)

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			reload(conf)
		}
	}()

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if be.run != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			be.run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logrus.Debugln("control loop starts")
		s.loop.Run(ctx)
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping control loop")
	stop()
	wg.Wait()

	if err := ctrl.Release(); err != nil {
		logrus.Errorf("failed to cut base current before exiting: %v", err)
	}

	logrus.Info("closing devices")
	if err := be.close(); err != nil {
		logrus.Errorf("failed to close devices: %v", err)
	}

	logrus.Info("exiting")
	return nil
}

// basePort is the port watched for attach edges. Without base support no
// base can attach.
func basePort(conf config.Config, port device.BasePort) device.BasePort {
	if !conf.BaseSupport() {
		return nil
	}
	return port
}

// reload re-reads the config. The loop picks up new intervals by itself;
// devices and the policy are only read at startup.
func reload(conf *config.File) {
	before := conf.Raw()
	if err := conf.Load(); err != nil {
		logrus.Errorf("failed to reload config: %v", err)
		return
	}
	after := conf.Raw()
	logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")

	if !reflect.DeepEqual(before.Policy, after.Policy) ||
		!reflect.DeepEqual(before.Backend, after.Backend) ||
		!reflect.DeepEqual(before.BaseSupport, after.BaseSupport) {
		logrus.Warn("policy, backend and base support changes take effect after a restart")
	}
}
