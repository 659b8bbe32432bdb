// Command gatewayd is the daemon entrypoint: it loads the daemon config,
// builds the supervisor and control server, and runs until signaled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/control"
	"github.com/outline-cli-ws/gatewayd/internal/metrics"
	"github.com/outline-cli-ws/gatewayd/internal/supervisor"
)

func main() {
	home, _ := os.UserHomeDir()
	daemonConfig := flag.String("config", filepath.Join(home, ".config", "gatewayd", "daemon.yaml"), "daemon config path")
	storePath := flag.String("profiles", filepath.Join(home, ".config", "gatewayd", "profiles.json"), "profile store path")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	daemon, err := config.LoadDaemon(*daemonConfig)
	if err != nil {
		log.Fatal("load daemon config", zap.Error(err))
	}

	store, err := config.Open(*storePath)
	if err != nil {
		log.Fatal("open profile store", zap.Error(err))
	}

	reg := metrics.NewRegistry()
	sv := supervisor.New(log, store, daemon, reg)
	ctrl := control.NewServer(log, store, sv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if daemon.Metrics.Enable {
		go func() {
			if err := reg.Serve(ctx, daemon.Metrics.Listen); err != nil {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := ctrl.Serve(ctx, daemon.Control.EventsListen); err != nil {
			log.Error("control server exited", zap.Error(err))
		}
	}()

	if profile := store.Selected(); profile != nil && !store.ManuallyDisconnected() {
		if err := sv.Start(ctx, profile); err != nil {
			log.Warn("auto-start failed", zap.Error(err))
		}
	}

	log.Info("gatewayd running", zap.String("control_addr", daemon.Control.EventsListen))
	<-ctx.Done()
	log.Info("gatewayd shutting down")
}
