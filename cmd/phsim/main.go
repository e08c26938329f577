package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goph/pkg/afe"
	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/flash"
	"github.com/itohio/goph/pkg/link"
	"github.com/itohio/goph/pkg/metrics"
	"github.com/itohio/goph/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		portFlag    = flag.String("port", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		dbFlag      = flag.String("db", "", "SQLite file for persisted records (overrides config)")
		metricsFlag = flag.String("metrics", ":9100", "Metrics listen address (empty disables)")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		verboseFlag = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	logger := setupLogger(*verboseFlag)

	if *listFlag {
		ports, err := link.Ports()
		if err != nil {
			logger.WithError(err).Fatal("Failed to list serial ports")
		}
		for _, p := range ports {
			logger.Info(p.Name)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if *portFlag != "" {
		cfg.Link.Port = *portFlag
	}
	if *dbFlag != "" {
		cfg.Flash.Path = *dbFlag
	}

	engine, closeEngine, err := openFlash(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open flash storage")
	}
	defer closeEngine()

	serial := link.NewSerial(cfg.Link.Port, cfg.Link.BaudRate, logger.WithField("component", "link"))
	if err := serial.Open(); err != nil {
		logger.WithError(err).Fatal("Failed to open link")
	}
	defer serial.Close()

	clock := protocol.NewClock()
	defer clock.Close()

	fe := afe.NewMock(cfg)
	ctl, err := protocol.New(protocol.Options{
		Config:   cfg,
		Frontend: fe,
		Flash:    engine,
		Link:     serial,
		Power:    &simPower{fe: fe, link: serial, timers: clock, wake: cfg.Protocol.ClientInterval, log: logger},
		Timers:   clock,
		Log:      logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create controller")
	}

	logger.WithFields(logrus.Fields{
		"port":     cfg.Link.Port,
		"flash":    flashName(cfg),
		"capacity": cfg.Buffer.Capacity,
		"overflow": cfg.Buffer.Overflow,
	}).Info("Starting pH sensor simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		ctl.Start()
		return ctl.Run(ctx, serial.Events(), clock.C())
	})

	if *metricsFlag != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(ctl))

		srv := &http.Server{
			Addr:              *metricsFlag,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		grp.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		grp.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := grp.Wait(); err != nil {
		logger.WithError(err).Error("Simulator stopped with error")
		return
	}
	logger.Info("Shutdown complete")
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func openFlash(cfg *config.Config) (flash.Engine, func(), error) {
	if cfg.Flash.Path == "" {
		return flash.NewMem(cfg.Flash.CapacityRecords), func() {}, nil
	}
	db, err := flash.OpenSQLite(cfg.Flash.Path, cfg.Flash.CapacityRecords)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func flashName(cfg *config.Config) string {
	if cfg.Flash.Path == "" {
		return "memory"
	}
	return cfg.Flash.Path
}
