//go:build tinygo

//go:generate tinygo flash -target=xiao -tags=tinygo

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/flash"
	"github.com/itohio/goph/pkg/protocol"
	"github.com/sirupsen/logrus"
)

func main() {
	// Hold the regulator on before anything else
	power := newPowerHold()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	cfg := config.Default()
	lnk := newUARTLink(machine.UART0)
	clock := protocol.NewClock()

	var engine flash.Engine = flash.NewMem(cfg.Flash.CapacityRecords)
	if fl, err := flash.OpenLog(machine.Flash, cfg.Flash.CapacityRecords); err != nil {
		// Calibration and mode fall back to defaults on every boot
		log.WithError(err).Error("flash unavailable, records kept in RAM")
	} else {
		engine = fl
	}

	ctl, err := protocol.New(protocol.Options{
		Config:   cfg,
		Frontend: newFrontend(),
		Flash:    engine,
		Link:     lnk,
		Power:    power,
		Timers:   clock,
		Log:      log,
	})
	if err != nil {
		// Core peripherals are unusable, nothing to recover to
		log.WithError(err).Error("controller init failed")
		for {
			time.Sleep(time.Second)
		}
	}

	ctl.Start()
	go ctl.Run(context.Background(), lnk.Events(), clock.C())

	// Main loop
	for {
		lnk.poll()
		time.Sleep(POLL_INTERVAL_MS * time.Millisecond)
	}
}
