package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"sluice/internal/config"
	"sluice/internal/engine"
	"sluice/internal/plugins/gelfin"
	"sluice/internal/plugins/random"
	"sluice/internal/plugins/tail"
	"sluice/internal/plugins/tcpin"
)

func main() {
	configPath := flag.String("cfg", "/etc/sluice/sluice.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
	}
	if err := cfg.System.SetupLogging(); err != nil {
		logrus.WithError(err).Fatal("could not set up logging")
	}

	eng := engine.New(cfg.System.FlushInterval(), nil)
	reg := eng.Registry()
	reg.Register(random.New())
	reg.Register(tcpin.New())
	reg.Register(gelfin.New())
	reg.Register(tail.New())

	if err := cfg.BuildInputs(reg); err != nil {
		logrus.WithError(err).Fatal("could not build inputs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.Info("starting sluice")
	if err := eng.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("engine failed")
	}
	logrus.Info("sluice stopped")
}
