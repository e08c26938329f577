package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate of the bench adapter.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the events channel.
	DefaultBufferSize = 64
)

// Bench control lines sent by the peer to emulate radio events.
const (
	ctlConnect    = "!CONNECT"
	ctlDisconnect = "!DISCONNECT"
	ctlAdvTimeout = "!ADVTIMEOUT"
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a wired stand-in for the radio link. Records go out as written;
// inbound lines are commands, except the bench control lines which emulate
// connection events.
type Serial struct {
	port     string
	baudRate int
	log      logrus.FieldLogger

	conn      io.ReadWriteCloser
	events    chan Event
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	open      bool
	connected bool
}

// NewSerial creates a new serial link with the specified port and baud rate.
func NewSerial(port string, baudRate int, log logrus.FieldLogger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		log:      log,
		events:   make(chan Event, DefaultBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Open opens the serial port and starts reading inbound lines.
func (s *Serial) Open() error {
	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}
	return s.attach(port)
}

// attach starts the link over an already opened connection.
func (s *Serial) attach(conn io.ReadWriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("already open")
	}
	s.conn = conn
	s.open = true

	go s.readLines()

	return nil
}

// Close closes the port. The events channel stays open so a Serial can be
// reopened, consumers stop on their own context.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}

	s.cancel()
	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Warn("error closing serial port")
	}
	s.conn = nil
	s.open = false
	s.connected = false

	return nil
}

// Events returns the channel of transport events.
func (s *Serial) Events() <-chan Event {
	return s.events
}

// Send writes p to the peer and reports transmit-complete once written.
func (s *Serial) Send(p []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return ErrInvalidState
	}
	if _, err := s.conn.Write(p); err != nil {
		s.log.WithError(err).Debug("serial write failed")
		return fmt.Errorf("%w: %v", ErrResources, err)
	}

	s.emit(Event{Kind: TransmitComplete})
	return nil
}

// Disconnect ends the emulated connection. The port stays open.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrInvalidState
	}
	s.connected = false
	s.emit(Event{Kind: Disconnected, Reason: ReasonLocal})
	return nil
}

// StartAdvertising makes the link available; the bench peer is always
// listening so the connection is established immediately.
func (s *Serial) StartAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrInvalidState
	}
	if s.connected {
		return nil
	}
	s.connected = true
	s.emit(Event{Kind: Connected}, Event{Kind: CommStarted})
	return nil
}

// IsConnected returns whether the emulated connection is up.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Serial) emit(evs ...Event) {
	for _, ev := range evs {
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		default:
			s.log.WithField("event", ev.Kind.String()).Warn("events channel full, dropping event")
		}
	}
}

// readLines reads lines from the serial port and turns them into events.
func (s *Serial) readLines() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic in readLines: %v", r)
		}
	}()

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(line)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		select {
		case <-s.ctx.Done():
		default:
			s.log.WithError(err).Warn("error reading from serial port")
		}
	}
}

func (s *Serial) handleLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := parseLine(line)
	if !ok {
		return
	}

	switch ev.Kind {
	case Connected:
		if s.connected {
			return
		}
		s.connected = true
		s.emit(ev, Event{Kind: CommStarted})
	case Disconnected:
		if !s.connected {
			return
		}
		s.connected = false
		s.emit(ev)
	case Received:
		if !s.connected {
			s.log.WithField("line", line).Debug("dropping line while disconnected")
			return
		}
		s.emit(ev)
	default:
		s.emit(ev)
	}
}

// parseLine maps one inbound line to an event.
func parseLine(line string) (Event, bool) {
	switch line {
	case ctlConnect:
		return Event{Kind: Connected}, true
	case ctlDisconnect:
		return Event{Kind: Disconnected, Reason: ReasonRemote}, true
	case ctlAdvTimeout:
		return Event{Kind: AdvertisingTimeout}, true
	}
	if strings.HasPrefix(line, "!") {
		return Event{}, false
	}
	return Event{Kind: Received, Data: []byte(line)}, true
}
