package link

import "errors"

// Transport status errors. Busy and Resources are transient; the rest make
// a single send attempt fail.
var (
	ErrBusy             = errors.New("link: busy")
	ErrResources        = errors.New("link: resources exhausted")
	ErrNotFound         = errors.New("link: not found")
	ErrAttributeMissing = errors.New("link: attribute missing")
	ErrInvalidState     = errors.New("link: invalid state")
)

// Link defines the radio transport interface (real, serial bench or mocked).
type Link interface {
	Send(p []byte) error
	Disconnect() error
	StartAdvertising() error
}

// EventKind identifies a transport event.
type EventKind uint8

const (
	Connected EventKind = iota
	CommStarted
	Disconnected
	AdvertisingTimeout
	TransmitComplete
	Received
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case CommStarted:
		return "comm_started"
	case Disconnected:
		return "disconnected"
	case AdvertisingTimeout:
		return "advertising_timeout"
	case TransmitComplete:
		return "transmit_complete"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

// Disconnect reasons.
const (
	ReasonRemote  = 0x13 // Remote user terminated
	ReasonLocal   = 0x16 // Local host terminated
	ReasonTimeout = 0x08 // Supervision timeout
)

// Event is delivered by a transport to the controller loop.
type Event struct {
	Kind   EventKind
	Data   []byte
	Reason int
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure Mock implements Link.
var _ Link = (*Mock)(nil)
