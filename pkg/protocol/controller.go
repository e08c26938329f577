package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/itohio/goph/pkg/afe"
	"github.com/itohio/goph/pkg/buffer"
	"github.com/itohio/goph/pkg/calib"
	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/flash"
	"github.com/itohio/goph/pkg/link"
	"github.com/itohio/goph/pkg/packet"
	"github.com/itohio/goph/pkg/sample"
	"github.com/itohio/goph/pkg/store"
	"github.com/sirupsen/logrus"
)

// Mode selects the acquisition cadence.
type Mode uint8

const (
	// Client acquires once per connection and sleeps in between.
	Client Mode = iota
	// Demo acquires and sends at a fixed interval while connected.
	Demo
)

func (m Mode) String() string {
	if m == Demo {
		return "demo"
	}
	return "client"
}

// State is the persisted protocol state.
type State struct {
	Mode   Mode
	StayOn bool
}

// Power controls the power-hold line.
type Power interface {
	Release() error
}

// Options holds the collaborators of a controller.
type Options struct {
	Config   *config.Config
	Frontend afe.Frontend
	Flash    flash.Engine
	Link     link.Link
	Power    Power
	Timers   Timers
	Log      logrus.FieldLogger
}

// Stats is a snapshot of controller counters.
type Stats struct {
	PacketsSent      uint64
	SendFailures     uint64
	ReadingsBuffered uint64
	Dropped          uint64
	ReplaysCompleted uint64
	QueueLength      int
	Store            store.Stats
}

// Controller is the device context. Every handler runs on the loop
// goroutine; none of the fields are guarded except the counters.
type Controller struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	acq    *sample.Acquirer
	cond   *sample.Conditioner
	cal    *calib.Engine
	store  *store.Store
	queue  *buffer.Queue
	replay *buffer.Replay
	enc    *packet.Encoder
	link   link.Link
	sender link.Retrier
	power  Power
	timers Timers

	state       State
	connected   bool
	commStarted bool
	off         bool
	latest      sample.Reading
	hasLatest   bool
	unacked     int // Replies sent during a replay and not yet confirmed

	sent     atomic.Uint64
	failures atomic.Uint64
	buffered atomic.Uint64
	replays  atomic.Uint64
}

// New builds a controller and its pipeline from o.
func New(o Options) (*Controller, error) {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	if o.Frontend == nil || o.Flash == nil || o.Link == nil || o.Power == nil || o.Timers == nil {
		return nil, fmt.Errorf("protocol: missing collaborator")
	}

	cfg := o.Config
	q, err := buffer.NewQueue(cfg.Buffer.Capacity, cfg.Buffer.Overflow)
	if err != nil {
		return nil, err
	}

	cond := sample.NewConditioner(cfg)
	acq := sample.NewAcquirer(o.Frontend, cond, cfg, o.Log.WithField("component", "sample"))
	st := store.New(o.Flash, o.Log.WithField("component", "store"))
	enc := packet.NewEncoder(cond)

	c := &Controller{
		cfg:    cfg,
		log:    o.Log.WithField("component", "protocol"),
		acq:    acq,
		cond:   cond,
		cal:    calib.New(cfg, acq, cond, st, o.Log.WithField("component", "calib")),
		store:  st,
		queue:  q,
		replay: buffer.NewReplay(q, enc),
		enc:    enc,
		link:   o.Link,
		sender: link.Retrier{Link: o.Link, Retries: cfg.Link.SendRetries, Interval: cfg.Link.RetryInterval},
		power:  o.Power,
		timers: o.Timers,
	}
	return c, nil
}

// Acquirer returns the acquisition pipeline.
func (c *Controller) Acquirer() *sample.Acquirer { return c.acq }

// Calibration returns the calibration engine.
func (c *Controller) Calibration() *calib.Engine { return c.cal }

// Queue returns the store-and-forward queue.
func (c *Controller) Queue() *buffer.Queue { return c.queue }

// State returns the protocol state.
func (c *Controller) State() State { return c.state }

// Off reports whether the power-hold line has been released.
func (c *Controller) Off() bool { return c.off }

// Stats returns the current counters.
func (c *Controller) Stats() Stats {
	return Stats{
		PacketsSent:      c.sent.Load(),
		SendFailures:     c.failures.Load(),
		ReadingsBuffered: c.buffered.Load(),
		Dropped:          c.queue.Dropped(),
		ReplaysCompleted: c.replays.Load(),
		QueueLength:      c.queue.Len(),
		Store:            c.store.Stats(),
	}
}

// Start boots the device: loads the calibration, restores the protocol
// state and begins the mode's cycle.
func (c *Controller) Start() {
	c.off = false
	c.connected = false
	c.commStarted = false

	c.cal.Load()
	if c.cfg.Protocol.RestoreState {
		if v, ok := c.store.Lookup(store.Mode); ok && v > 0.5 {
			c.state.Mode = Demo
		} else {
			c.state.Mode = Client
		}
		c.state.StayOn = c.store.Bool(store.StayOn)
	}

	c.log.WithFields(logrus.Fields{
		"mode":    c.state.Mode.String(),
		"stay_on": c.state.StayOn,
	}).Info("starting")

	switch c.state.Mode {
	case Client:
		c.acquire()
		if c.state.StayOn {
			c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
		}
	case Demo:
		c.timers.Start(TimerCadence, c.cfg.Protocol.DemoInterval)
	}
	c.advertise()
}

// Run dispatches events until ctx is cancelled or the link channel closes.
func (c *Controller) Run(ctx context.Context, events <-chan link.Event, timers <-chan TimerKind) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.HandleLink(ev)
		case k := <-timers:
			c.HandleTimer(k)
		}
	}
}

// HandleLink processes one transport event.
func (c *Controller) HandleLink(ev link.Event) {
	if c.off {
		c.log.WithField("event", ev.Kind.String()).Debug("powered down, ignoring event")
		return
	}

	switch ev.Kind {
	case link.Connected:
		c.connected = true
		c.log.Debug("connected")
	case link.CommStarted:
		c.onCommStarted()
	case link.Disconnected:
		c.onDisconnected(ev.Reason)
	case link.AdvertisingTimeout:
		c.onAdvertisingTimeout()
	case link.TransmitComplete:
		c.onTransmitComplete()
	case link.Received:
		c.onReceived(ev.Data)
	}
}

// HandleTimer processes one timer expiry.
func (c *Controller) HandleTimer(k TimerKind) {
	if k == TimerWake {
		if c.off {
			c.Start()
		}
		return
	}
	if c.off {
		return
	}

	switch k {
	case TimerCadence:
		c.onCadence()
	case TimerDisconnect:
		if c.connected {
			c.log.Debug("grace delay elapsed, disconnecting")
			c.disconnect()
		}
	}
}

func (c *Controller) onCommStarted() {
	c.connected = true
	c.commStarted = true

	if c.cal.Active() {
		return
	}

	switch c.state.Mode {
	case Client:
		c.deliverLatest()
		if c.state.StayOn {
			c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
		} else if !c.replay.Active() {
			c.timers.Start(TimerDisconnect, c.cfg.Protocol.DisconnectDelay)
		}
	case Demo:
		c.beginReplay()
		c.timers.Start(TimerCadence, c.cfg.Protocol.DemoInterval)
	}
}

// deliverLatest sends the reading of this wake cycle live, or queues it
// behind the buffered ones and starts the replay.
func (c *Controller) deliverLatest() {
	if c.queue.Len() == 0 {
		if c.hasLatest {
			c.sendLive(c.latest)
			c.hasLatest = false
		}
		return
	}
	if c.hasLatest {
		c.push(c.latest)
		c.hasLatest = false
	}
	c.beginReplay()
}

func (c *Controller) beginReplay() {
	started, err := c.replay.Begin(c.sender)
	if err != nil {
		c.failures.Add(1)
		c.log.WithError(err).Debug("replay not started")
		return
	}
	if started {
		c.unacked = 0
		c.sent.Add(1)
		c.log.WithField("total", c.replay.Total()).Info("replaying buffered readings")
	}
}

func (c *Controller) onTransmitComplete() {
	if !c.replay.Active() {
		return
	}
	if c.unacked > 0 {
		c.unacked--
		return
	}
	c.replay.Ack()

	done, err := c.replay.Next(c.sender)
	if err != nil {
		c.failures.Add(1)
		c.log.WithError(err).WithField("remaining", c.queue.Len()).Warn("replay aborted")
		c.replay.Abort()
		return
	}
	c.sent.Add(1)
	if done {
		c.replays.Add(1)
		c.log.WithField("total", c.replay.Total()).Info("replay complete")
		if c.state.Mode == Client && !c.state.StayOn && !c.cal.Active() {
			c.timers.Start(TimerDisconnect, c.cfg.Protocol.DisconnectDelay)
		}
	}
}

func (c *Controller) onDisconnected(reason int) {
	c.connected = false
	c.commStarted = false
	c.timers.Stop(TimerDisconnect)
	if c.replay.Active() {
		c.log.WithField("remaining", c.queue.Len()).Info("replay interrupted")
		c.replay.Abort()
	}
	c.log.WithField("reason", fmt.Sprintf("0x%02x", reason)).Info("disconnected")

	if c.state.Mode == Demo {
		c.advertise()
		return
	}
	c.timers.Stop(TimerCadence)
	if c.state.StayOn {
		c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
		c.advertise()
		return
	}
	c.sleep()
}

func (c *Controller) onAdvertisingTimeout() {
	if c.state.Mode == Demo {
		c.advertise()
		return
	}
	if c.hasLatest {
		c.push(c.latest)
		c.hasLatest = false
	}
	if c.state.StayOn {
		c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
		c.advertise()
		return
	}
	c.sleep()
}

func (c *Controller) onCadence() {
	if c.cal.Active() {
		return
	}

	switch c.state.Mode {
	case Demo:
		c.timers.Start(TimerCadence, c.cfg.Protocol.DemoInterval)
		if !c.commStarted || c.replay.Active() {
			return
		}
		if r, ok := c.read(); ok {
			c.sendLive(r)
		}
	case Client:
		if !c.state.StayOn {
			return
		}
		c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
		r, ok := c.read()
		if !ok {
			return
		}
		if c.commStarted && !c.replay.Active() {
			c.sendLive(r)
		} else {
			c.push(r)
		}
	}
}

func (c *Controller) onReceived(data []byte) {
	cmds, errs := packet.Parse(data)
	for _, err := range errs {
		c.log.WithError(err).WithField("data", string(data)).Warn("malformed command")
	}
	for _, cmd := range cmds {
		if c.off {
			return
		}
		c.dispatch(cmd)
	}
}

func (c *Controller) dispatch(cmd packet.Command) {
	c.log.WithField("command", cmd.Kind.String()).Debug("command")

	switch cmd.Kind {
	case packet.StartCal:
		c.startCalibration(cmd.N)
	case packet.Point:
		c.capturePoint(cmd.Slot, cmd.Value)
	case packet.PowerOff:
		c.powerOff()
	case packet.StayOn:
		c.setStayOn()
	case packet.Done:
		c.replay.Abort()
		c.disconnect()
	case packet.SetClient:
		c.setMode(Client)
	case packet.SetDemo:
		c.setMode(Demo)
	}
}

func (c *Controller) startCalibration(n int) {
	if err := c.cal.Begin(n); err != nil {
		c.log.WithError(err).Warn("calibration not started")
		return
	}
	c.timers.Stop(TimerCadence)
	c.timers.Stop(TimerDisconnect)
	c.send(packet.CalBegin())
}

func (c *Controller) capturePoint(slot int, value float32) {
	p, celsius, err := c.cal.Capture(slot, value)
	if err != nil {
		c.log.WithError(err).Warn("calibration point rejected")
		return
	}
	c.send(packet.PointConfirm(slot, uint32(p.MV), celsius))

	if slot != c.cal.PointCount() {
		return
	}

	m, err := c.cal.Finalize()
	switch {
	case errors.Is(err, calib.ErrIncomplete):
		// The last slot arrived before the others, the session is abandoned
		c.log.WithError(err).Warn("calibration incomplete")
		c.cal.Cancel()
		c.send(packet.CalFail())
	case err != nil:
		c.log.WithError(err).Warn("calibration failed")
		c.send(packet.CalFail())
	default:
		c.log.WithField("points", m.Points).Debug("sending calibration report")
		c.send(packet.CalReport(c.cal.Report()))
	}

	switch {
	case c.state.Mode == Demo:
		c.timers.Start(TimerCadence, c.cfg.Protocol.DemoInterval)
	case c.state.StayOn:
		c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
	default:
		c.timers.Start(TimerDisconnect, c.cfg.Calibration.DisconnectDelay)
	}
}

func (c *Controller) powerOff() {
	c.log.Info("power off requested")
	c.state.StayOn = false
	c.persistStayOn()
	c.sleep()
}

func (c *Controller) setStayOn() {
	if c.state.StayOn {
		return
	}
	c.state.StayOn = true
	c.persistStayOn()
	c.timers.Stop(TimerDisconnect)
	if c.state.Mode == Client {
		c.timers.Start(TimerCadence, c.cfg.Protocol.ClientInterval)
	}
}

func (c *Controller) setMode(m Mode) {
	if c.state.Mode == m {
		return
	}
	c.state.Mode = m
	c.state.StayOn = false
	c.log.WithField("mode", m.String()).Info("mode changed")

	var v float32
	if m == Demo {
		v = 1
	}
	if err := c.store.Put(store.Mode, v); err != nil {
		c.log.WithError(err).Warn("failed to persist mode")
	}
	c.persistStayOn()

	switch m {
	case Client:
		c.timers.Stop(TimerCadence)
		c.timers.Start(TimerDisconnect, c.cfg.Protocol.DisconnectDelay)
	case Demo:
		c.timers.Stop(TimerDisconnect)
		c.timers.Start(TimerCadence, c.cfg.Protocol.DemoInterval)
	}
}

func (c *Controller) persistStayOn() {
	if err := c.store.PutBool(store.StayOn, c.state.StayOn); err != nil {
		c.log.WithError(err).Warn("failed to persist stay-on flag")
	}
}

// read acquires a reading and applies the calibration.
func (c *Controller) read() (sample.Reading, bool) {
	r, err := c.acq.Read()
	if err != nil {
		c.log.WithError(err).Warn("acquisition failed")
		return sample.Reading{}, false
	}

	mv := r.PhMV
	if c.cfg.Sampling.Compensate {
		mv = c.cond.Compensate(r.PhMV, r.TempMV, c.cal.Model().ReferenceTemp)
	}
	r.PhCal, r.Calibrated = c.cal.Calibrated(mv)
	return r, true
}

// acquire stores the reading of this wake cycle.
func (c *Controller) acquire() {
	r, ok := c.read()
	if !ok {
		return
	}
	c.latest = r
	c.hasLatest = true
}

func (c *Controller) push(r sample.Reading) {
	c.queue.Push(r)
	c.buffered.Add(1)
	c.log.WithField("queued", c.queue.Len()).Debug("reading buffered")
}

func (c *Controller) sendLive(r sample.Reading) {
	rec := c.enc.Indexed(0, r)
	c.send(rec[:])
}

func (c *Controller) send(p []byte) {
	if err := c.sender.Send(p); err != nil {
		c.failures.Add(1)
		c.log.WithError(err).Debug("send failed")
		return
	}
	c.sent.Add(1)
	if c.replay.Active() {
		c.unacked++
	}
}

func (c *Controller) advertise() {
	if err := c.link.StartAdvertising(); err != nil {
		c.log.WithError(err).Warn("failed to start advertising")
	}
}

func (c *Controller) disconnect() {
	if err := c.link.Disconnect(); err != nil {
		c.log.WithError(err).Debug("disconnect failed")
	}
}

// sleep releases the power-hold line. Nothing but a wake is processed
// afterwards.
func (c *Controller) sleep() {
	c.timers.Stop(TimerCadence)
	c.timers.Stop(TimerDisconnect)
	c.cal.Cancel()
	c.replay.Abort()
	c.off = true
	c.log.Info("releasing power")
	if err := c.power.Release(); err != nil {
		c.log.WithError(err).Error("failed to release power")
	}
}
