package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/dualbatt/pkg/baselink"
	"github.com/charlie0129/dualbatt/pkg/daemon"
	"github.com/charlie0129/dualbatt/pkg/sim"
	"github.com/charlie0129/dualbatt/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the dualbatt daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Run dualbatt daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("dualbatt daemon starting")
			return daemon.Run(configPath, unixSocketPath, alwaysAllowNonRootAccess)
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")

	return cmd
}

// NewBaseEmulatorCommand serves a simulated base on the base socket, so the
// smbus backend can run without base hardware.
func NewBaseEmulatorCommand() *cobra.Command {
	var (
		socketPath string
		detached   bool
	)

	cmd := &cobra.Command{
		Use:         "base-emulator",
		Short:       "Serve a simulated base battery on the base socket",
		GroupID:     gAdvanced,
		Annotations: map[string]string{annotationServer: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			base := sim.NewBase(nil)
			port := sim.NewPort(nil, !detached)

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Handler:           baselink.Handler(base, port),
				ReadHeaderTimeout: 5 * time.Second,
			}

			l, err := net.Listen("unix", socketPath)
			if err != nil {
				return err
			}
			go func() {
				logrus.Infof("base emulator listening on %s", socketPath)
				if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.Fatal(err)
				}
			}()

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigc
			logrus.Infof("caught signal \"%s\": shutting down.", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&socketPath, "socket", "/var/run/dualbatt-base.sock", "unix socket to serve the base on")
	f.BoolVar(&detached, "detached", false, "start with the base detached")

	return cmd
}
