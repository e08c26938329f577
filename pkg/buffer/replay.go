package buffer

import (
	"errors"
	"fmt"

	"github.com/itohio/goph/pkg/packet"
)

var (
	// ErrAwaitingAck is returned when the previous record has not been
	// confirmed by the transport yet.
	ErrAwaitingAck = errors.New("buffer: awaiting transmit complete")
	// ErrNotReplaying is returned by Next outside of a replay.
	ErrNotReplaying = errors.New("buffer: no replay in progress")
)

// Sender transmits one record.
type Sender interface {
	Send(p []byte) error
}

// Replay drains a queue over a sender one record per transmit-complete.
// The index of each record is its position within the replay.
type Replay struct {
	q   *Queue
	enc *packet.Encoder

	active   bool
	awaiting bool
	total    int
	pos      int
}

// NewReplay creates a replay over q.
func NewReplay(q *Queue, enc *packet.Encoder) *Replay {
	return &Replay{q: q, enc: enc}
}

// Active reports whether a replay is in progress.
func (r *Replay) Active() bool { return r.active }

// Position returns the number of records sent in the current replay.
func (r *Replay) Position() int { return r.pos }

// Total returns the count announced by the primer.
func (r *Replay) Total() int { return r.total }

// Begin announces the queued count with a primer record. It reports false
// when the queue is empty.
func (r *Replay) Begin(s Sender) (bool, error) {
	n := r.q.Len()
	if n == 0 {
		return false, nil
	}
	if err := s.Send(packet.Primer(n)); err != nil {
		return false, fmt.Errorf("send primer: %w", err)
	}
	r.active = true
	r.awaiting = true
	r.total = n
	r.pos = 0
	return true, nil
}

// Ack records a transmit-complete from the transport.
func (r *Replay) Ack() {
	r.awaiting = false
}

// Awaiting reports whether the last record is unconfirmed.
func (r *Replay) Awaiting() bool {
	return r.awaiting
}

// Next sends the head of the queue and removes it once the transport
// accepted it. It reports true when the replay is complete.
func (r *Replay) Next(s Sender) (bool, error) {
	if !r.active {
		return false, ErrNotReplaying
	}
	if r.awaiting {
		return false, ErrAwaitingAck
	}

	if r.pos >= r.total {
		r.finish()
		return true, nil
	}
	head, ok := r.q.Peek()
	if !ok {
		r.finish()
		return true, nil
	}

	rec := r.enc.Indexed(r.pos, head)
	if err := s.Send(rec[:]); err != nil {
		return false, fmt.Errorf("send record %d: %w", r.pos, err)
	}
	r.q.Pop()
	r.pos++
	r.awaiting = true

	if r.pos >= r.total {
		r.finish()
		return true, nil
	}
	return false, nil
}

// Abort stops the replay. Entries not yet sent stay queued.
func (r *Replay) Abort() {
	r.finish()
}

func (r *Replay) finish() {
	r.active = false
	r.awaiting = false
}
