package link

import (
	"sync"
)

// Mock records outgoing packets and returns scripted send errors.
type Mock struct {
	mu          sync.Mutex
	sent        [][]byte
	errs        []error
	attempts    int
	disconnects int
	adverts     int
	failAdvert  error
}

// NewMock creates a mocked link.
func NewMock() *Mock {
	return &Mock{}
}

// Script queues errors returned by subsequent Send calls, one per call.
// A nil entry lets that attempt succeed.
func (m *Mock) Script(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// FailAdvertising makes StartAdvertising return err until cleared with nil.
func (m *Mock) FailAdvertising(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAdvert = err
}

func (m *Mock) Send(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return err
		}
	}

	m.sent = append(m.sent, append([]byte(nil), p...))
	return nil
}

func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return nil
}

func (m *Mock) StartAdvertising() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adverts++
	return m.failAdvert
}

// Sent returns copies of every successfully sent packet.
func (m *Mock) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentStrings returns the sent packets as strings.
func (m *Mock) SentStrings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, p := range m.sent {
		out = append(out, string(p))
	}
	return out
}

// ClearSent forgets recorded packets.
func (m *Mock) ClearSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *Mock) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Mock) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *Mock) Adverts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adverts
}
