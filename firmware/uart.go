//go:build tinygo

package main

import (
	"machine"
	"sync"

	"github.com/itohio/goph/pkg/link"
)

// uartLink carries records and commands over the UART. The wired peer is
// always listening, so advertising connects at once.
type uartLink struct {
	uart      *machine.UART
	events    chan link.Event
	mu        sync.Mutex
	connected bool

	// Serial buffer for reading lines
	buf [32]byte
	pos int
}

var _ link.Link = (*uartLink)(nil)

func newUARTLink(uart *machine.UART) *uartLink {
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})
	return &uartLink{
		uart:   uart,
		events: make(chan link.Event, 16),
	}
}

func (u *uartLink) Events() <-chan link.Event { return u.events }

func (u *uartLink) Send(p []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.connected {
		return link.ErrInvalidState
	}
	if _, err := u.uart.Write(p); err != nil {
		return link.ErrBusy
	}
	u.post(link.Event{Kind: link.TransmitComplete})
	return nil
}

func (u *uartLink) Disconnect() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.connected {
		return link.ErrInvalidState
	}
	u.connected = false
	u.post(link.Event{Kind: link.Disconnected, Reason: link.ReasonLocal})
	return nil
}

func (u *uartLink) StartAdvertising() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.connected {
		return nil
	}
	u.connected = true
	u.post(link.Event{Kind: link.Connected})
	u.post(link.Event{Kind: link.CommStarted})
	return nil
}

func (u *uartLink) post(ev link.Event) {
	select {
	case u.events <- ev:
	default:
	}
}

// poll reads available bytes and posts each complete line as a command.
func (u *uartLink) poll() {
	for u.uart.Buffered() > 0 {
		data, err := u.uart.ReadByte()
		if err != nil {
			break
		}

		// Check for newline (end of line)
		if data == '\n' || data == '\r' {
			u.mu.Lock()
			connected := u.connected
			u.mu.Unlock()
			if u.pos > 0 && connected {
				line := make([]byte, u.pos)
				copy(line, u.buf[:u.pos])
				u.post(link.Event{Kind: link.Received, Data: line})
			}
			u.pos = 0
			continue
		}

		if u.pos < len(u.buf) {
			u.buf[u.pos] = data
			u.pos++
		} else {
			// Overlong line, drop it
			u.pos = 0
		}
	}
}
