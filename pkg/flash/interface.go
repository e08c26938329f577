package flash

import "errors"

var (
	// ErrNotFound is returned when no (further) matching record exists.
	ErrNotFound = errors.New("flash: record not found")
	// ErrNoSpace is returned when valid and garbage records fill the engine.
	ErrNoSpace = errors.New("flash: no space")
)

// Record is one stored word addressed by file id and record key.
type Record struct {
	FileID uint16
	Key    uint16
	Data   uint32
}

// Descriptor identifies one stored record.
type Descriptor struct {
	ID uint32
}

// FindToken carries the position of an iterative search. The zero value
// starts from the oldest record.
type FindToken struct {
	last uint32
}

// Op identifies the operation reported by a completion event.
type Op uint8

const (
	OpWrite Op = iota
	OpUpdate
	OpDelete
	OpGC
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpGC:
		return "gc"
	default:
		return "unknown"
	}
}

// Result is a completion event for a write, update, delete or gc.
type Result struct {
	Op     Op
	FileID uint16
	Key    uint16
	Err    error
}

// Stat reports engine occupancy in records.
type Stat struct {
	Valid    int
	Dirty    int
	Capacity int
}

// Engine defines the storage engine interface (flash log, memory or sqlite).
// Updates supersede the old record, which becomes garbage until GC runs.
// Completion of mutating operations is reported through Subscribe callbacks.
type Engine interface {
	Find(fileID, key uint16, tok *FindToken) (Descriptor, error)
	Open(d Descriptor) (Record, error)
	Write(r Record) error
	Update(d Descriptor, r Record) error
	Delete(d Descriptor) error
	GC() error
	Subscribe(fn func(Result))
	Stat() Stat
}

// Ensure Mem implements Engine.
var _ Engine = (*Mem)(nil)

// Ensure Log implements Engine.
var _ Engine = (*Log)(nil)
