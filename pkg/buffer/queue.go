package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/sample"
	"github.com/smallnest/ringbuffer"
)

// entrySize is the packed size of one buffered reading:
// ph, batt, temp as u16 LE followed by the calibrated value bits (NaN = none).
const entrySize = 10

// Queue is a bounded FIFO of readings packed into a byte ring.
type Queue struct {
	rb       *ringbuffer.RingBuffer
	capacity int
	policy   string

	head       [entrySize]byte
	headLoaded bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to capacity readings. Overflow is
// handled according to policy (config.OverflowDropOldest or DropNewest).
func NewQueue(capacity int, policy string) (*Queue, error) {
	switch policy {
	case config.OverflowDropOldest, config.OverflowDropNewest:
	case "":
		policy = config.OverflowDropOldest
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", policy)
	}
	if capacity < 0 {
		return nil, fmt.Errorf("invalid capacity %d", capacity)
	}

	size := capacity
	if size == 0 {
		size = 1
	}
	return &Queue{
		rb:       ringbuffer.New(size * entrySize),
		capacity: capacity,
		policy:   policy,
	}, nil
}

// Capacity returns the maximum number of entries.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Len returns the number of queued readings.
func (q *Queue) Len() int {
	n := q.rb.Length() / entrySize
	if q.headLoaded {
		n++
	}
	return n
}

// Dropped returns the number of readings lost to overflow.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Pushed returns the number of readings accepted.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Push appends r. When the queue is full, the oldest entry is evicted or r
// itself is discarded, depending on the policy; it reports whether r was
// stored.
func (q *Queue) Push(r sample.Reading) bool {
	if q.Len() >= q.capacity {
		if q.capacity == 0 || q.policy == config.OverflowDropNewest {
			q.dropped.Add(1)
			return false
		}
		q.Pop()
		q.dropped.Add(1)
	}

	buf := pack(r)
	if _, err := q.rb.Write(buf[:]); err != nil {
		q.dropped.Add(1)
		return false
	}
	q.pushed.Add(1)
	return true
}

// Peek returns the oldest reading without removing it.
func (q *Queue) Peek() (sample.Reading, bool) {
	if !q.headLoaded {
		if q.rb.Length() < entrySize {
			return sample.Reading{}, false
		}
		if _, err := q.rb.Read(q.head[:]); err != nil {
			return sample.Reading{}, false
		}
		q.headLoaded = true
	}
	return unpack(q.head), true
}

// Pop removes and returns the oldest reading.
func (q *Queue) Pop() (sample.Reading, bool) {
	r, ok := q.Peek()
	if ok {
		q.headLoaded = false
	}
	return r, ok
}

// Reset discards all entries.
func (q *Queue) Reset() {
	q.rb.Reset()
	q.headLoaded = false
}

func clamp16(v uint32) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func pack(r sample.Reading) [entrySize]byte {
	var b [entrySize]byte
	binary.LittleEndian.PutUint16(b[0:], clamp16(r.PhMV))
	binary.LittleEndian.PutUint16(b[2:], clamp16(r.BattMV))
	binary.LittleEndian.PutUint16(b[4:], clamp16(r.TempMV))
	cal := float32(math.NaN())
	if r.Calibrated {
		cal = r.PhCal
	}
	binary.LittleEndian.PutUint32(b[6:], math.Float32bits(cal))
	return b
}

func unpack(b [entrySize]byte) sample.Reading {
	r := sample.Reading{
		PhMV:   uint32(binary.LittleEndian.Uint16(b[0:])),
		BattMV: uint32(binary.LittleEndian.Uint16(b[2:])),
		TempMV: uint32(binary.LittleEndian.Uint16(b[4:])),
	}
	cal := math.Float32frombits(binary.LittleEndian.Uint32(b[6:]))
	if !math.IsNaN(float64(cal)) {
		r.PhCal = cal
		r.Calibrated = true
	}
	return r
}
