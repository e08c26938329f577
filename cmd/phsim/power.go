package main

import (
	"time"

	"github.com/itohio/goph/pkg/afe"
	"github.com/itohio/goph/pkg/link"
	"github.com/itohio/goph/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// simPower emulates the power-hold line: releasing it drops the session
// and an external re-power follows after the wake delay.
type simPower struct {
	fe     *afe.Mock
	link   *link.Serial
	timers protocol.Timers
	wake   time.Duration
	log    logrus.FieldLogger
}

func (p *simPower) Release() error {
	if err := p.fe.Release(); err != nil {
		return err
	}
	if p.link.IsConnected() {
		_ = p.link.Disconnect()
	}
	p.log.WithField("wake_in", p.wake).Info("power released")
	p.timers.Start(protocol.TimerWake, p.wake)
	return nil
}
