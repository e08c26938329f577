package flash

import "sync"

type memEntry struct {
	id      uint32
	rec     Record
	deleted bool
}

type pendingOp struct {
	op  Op
	d   Descriptor
	rec Record
}

// Mem is an in-memory storage engine. In async mode mutating operations are
// queued and only applied, with completion events, when Process is called.
type Mem struct {
	mu       sync.Mutex
	capacity int
	async    bool
	entries  []memEntry
	nextID   uint32
	pending  []pendingOp
	subs     []func(Result)
	failNext error
}

// NewMem creates an in-memory engine holding up to capacity records,
// garbage included.
func NewMem(capacity int) *Mem {
	if capacity <= 0 {
		capacity = 256
	}
	return &Mem{capacity: capacity, nextID: 1}
}

// SetAsync toggles deferred completion.
func (m *Mem) SetAsync(async bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.async = async
}

// FailNext makes the next applied mutating operation fail with err.
func (m *Mem) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Pending returns the number of queued operations.
func (m *Mem) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mem) Subscribe(fn func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

func (m *Mem) Find(fileID, key uint16, tok *FindToken) (Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.deleted || e.id <= tok.last {
			continue
		}
		if e.rec.FileID == fileID && e.rec.Key == key {
			tok.last = e.id
			return Descriptor{ID: e.id}, nil
		}
	}
	return Descriptor{}, ErrNotFound
}

func (m *Mem) Open(d Descriptor) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.index(d); i >= 0 {
		return m.entries[i].rec, nil
	}
	return Record{}, ErrNotFound
}

func (m *Mem) Write(r Record) error {
	return m.submit(pendingOp{op: OpWrite, rec: r})
}

func (m *Mem) Update(d Descriptor, r Record) error {
	return m.submit(pendingOp{op: OpUpdate, d: d, rec: r})
}

func (m *Mem) Delete(d Descriptor) error {
	return m.submit(pendingOp{op: OpDelete, d: d})
}

func (m *Mem) GC() error {
	return m.submit(pendingOp{op: OpGC})
}

func (m *Mem) Stat() Stat {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stat{Capacity: m.capacity}
	for _, e := range m.entries {
		if e.deleted {
			s.Dirty++
		} else {
			s.Valid++
		}
	}
	return s
}

// Process applies all queued operations and fires their completion events.
// It returns the number of operations applied.
func (m *Mem) Process() int {
	m.mu.Lock()
	ops := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, op := range ops {
		m.apply(op)
	}
	return len(ops)
}

func (m *Mem) submit(op pendingOp) error {
	m.mu.Lock()
	if m.async {
		m.pending = append(m.pending, op)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.apply(op)
}

func (m *Mem) apply(op pendingOp) error {
	m.mu.Lock()
	err := m.failNext
	m.failNext = nil
	if err == nil {
		err = m.applyLocked(op)
	}
	res := Result{Op: op.op, FileID: op.rec.FileID, Key: op.rec.Key, Err: err}
	subs := append([]func(Result){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
	return err
}

func (m *Mem) applyLocked(op pendingOp) error {
	switch op.op {
	case OpWrite:
		if len(m.entries) >= m.capacity {
			return ErrNoSpace
		}
		m.append(op.rec)
	case OpUpdate:
		i := m.index(op.d)
		if i < 0 {
			return ErrNotFound
		}
		if len(m.entries) >= m.capacity {
			return ErrNoSpace
		}
		m.entries[i].deleted = true
		m.append(op.rec)
	case OpDelete:
		i := m.index(op.d)
		if i < 0 {
			return ErrNotFound
		}
		m.entries[i].deleted = true
	case OpGC:
		kept := m.entries[:0]
		for _, e := range m.entries {
			if !e.deleted {
				kept = append(kept, e)
			}
		}
		m.entries = kept
	}
	return nil
}

func (m *Mem) append(r Record) {
	m.entries = append(m.entries, memEntry{id: m.nextID, rec: r})
	m.nextID++
}

// index returns the slice position of a live record, or -1.
func (m *Mem) index(d Descriptor) int {
	for i, e := range m.entries {
		if e.id == d.ID && !e.deleted {
			return i
		}
	}
	return -1
}
