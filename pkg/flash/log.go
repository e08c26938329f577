package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	logMagic     uint32 = 0x48504f47 // "GOPH"
	logHeaderLen        = 4
	entryLen            = 12
	erasedWord   uint32 = 0xffffffff
)

// ErrReservedKey is returned for the all-ones id pair, which marks a free slot.
var ErrReservedKey = errors.New("flash: reserved file id and key")

// BlockDevice is NOR style storage: erased bits read as 1 and programming
// only clears bits. machine.Flash on tinygo satisfies it. EraseBlocks takes
// a block index and a block count.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
	WriteBlockSize() int64
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

type logEntry struct {
	rec     Record
	deleted bool
}

// Log is an append-only record log on a BlockDevice. Each entry is three
// little endian words: file id and key, data, and a state word that stays
// erased while the entry is valid and is cleared on delete or supersede.
// GC erases the region and rewrites live entries, so a power loss during GC
// loses the records that were not rewritten yet.
// Completion events fire synchronously after each operation.
type Log struct {
	dev    BlockDevice
	blocks int64
	slots  int

	mu      sync.Mutex
	entries []logEntry
	subs    []func(Result)
}

// OpenLog mounts the log on dev, sized for capacity entries (256 when
// capacity <= 0) or the device size, whichever is smaller. A device without
// the log header is formatted.
func OpenLog(dev BlockDevice, capacity int) (*Log, error) {
	if capacity <= 0 {
		capacity = 256
	}

	wbs, ebs := dev.WriteBlockSize(), dev.EraseBlockSize()
	if wbs <= 0 || 4%wbs != 0 {
		return nil, fmt.Errorf("unsupported write block size %d", wbs)
	}
	if ebs <= 0 || dev.Size() < ebs {
		return nil, fmt.Errorf("unsupported erase block size %d for %d bytes", ebs, dev.Size())
	}

	want := int64(logHeaderLen + capacity*entryLen)
	blocks := min((want+ebs-1)/ebs, dev.Size()/ebs)
	slots := min(int((blocks*ebs-logHeaderLen)/entryLen), capacity)

	l := &Log{dev: dev, blocks: blocks, slots: slots}
	if err := l.mount(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) mount() error {
	var buf [entryLen]byte
	if _, err := l.dev.ReadAt(buf[:logHeaderLen], 0); err != nil {
		return fmt.Errorf("read log header: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[:]) != logMagic {
		return l.format()
	}

	for i := 0; i < l.slots; i++ {
		if _, err := l.dev.ReadAt(buf[:], l.offset(i)); err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		head := binary.LittleEndian.Uint32(buf[0:])
		if head == erasedWord {
			break
		}
		l.entries = append(l.entries, logEntry{
			rec: Record{
				FileID: uint16(head >> 16),
				Key:    uint16(head),
				Data:   binary.LittleEndian.Uint32(buf[4:]),
			},
			deleted: binary.LittleEndian.Uint32(buf[8:]) != erasedWord,
		})
	}
	return nil
}

func (l *Log) format() error {
	if err := l.dev.EraseBlocks(0, l.blocks); err != nil {
		return fmt.Errorf("erase log: %w", err)
	}
	var buf [logHeaderLen]byte
	binary.LittleEndian.PutUint32(buf[:], logMagic)
	if _, err := l.dev.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	l.entries = l.entries[:0]
	return nil
}

func (l *Log) Subscribe(fn func(Result)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

func (l *Log) Find(fileID, key uint16, tok *FindToken) (Descriptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := int(tok.last); i < len(l.entries); i++ {
		e := l.entries[i]
		if !e.deleted && e.rec.FileID == fileID && e.rec.Key == key {
			tok.last = uint32(i + 1)
			return Descriptor{ID: uint32(i + 1)}, nil
		}
	}
	return Descriptor{}, ErrNotFound
}

func (l *Log) Open(d Descriptor) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index(d)
	if !ok {
		return Record{}, ErrNotFound
	}
	return l.entries[i].rec, nil
}

func (l *Log) Write(r Record) error {
	l.mu.Lock()
	err := l.append(r)
	l.mu.Unlock()
	return l.notify(OpWrite, r, err)
}

// Update appends the new entry before clearing the old one, so an
// interrupted update leaves both and readers pick the newest.
func (l *Log) Update(d Descriptor, r Record) error {
	l.mu.Lock()
	err := l.update(d, r)
	l.mu.Unlock()
	return l.notify(OpUpdate, r, err)
}

func (l *Log) Delete(d Descriptor) error {
	l.mu.Lock()
	err := l.clear(d)
	l.mu.Unlock()
	return l.notify(OpDelete, Record{}, err)
}

func (l *Log) GC() error {
	l.mu.Lock()
	err := l.compact()
	l.mu.Unlock()
	return l.notify(OpGC, Record{}, err)
}

func (l *Log) Stat() Stat {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stat{Capacity: l.slots}
	for _, e := range l.entries {
		if e.deleted {
			s.Dirty++
		} else {
			s.Valid++
		}
	}
	return s
}

func (l *Log) update(d Descriptor, r Record) error {
	if _, ok := l.index(d); !ok {
		return ErrNotFound
	}
	if err := l.append(r); err != nil {
		return err
	}
	return l.clear(d)
}

func (l *Log) append(r Record) error {
	if r.FileID == 0xffff && r.Key == 0xffff {
		return ErrReservedKey
	}
	i := len(l.entries)
	if i >= l.slots {
		return ErrNoSpace
	}

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.FileID)<<16|uint32(r.Key))
	binary.LittleEndian.PutUint32(buf[4:], r.Data)
	if _, err := l.dev.WriteAt(buf[:], l.offset(i)); err != nil {
		return fmt.Errorf("program entry %d: %w", i, err)
	}
	l.entries = append(l.entries, logEntry{rec: r})
	return nil
}

func (l *Log) clear(d Descriptor) error {
	i, ok := l.index(d)
	if !ok {
		return ErrNotFound
	}
	var zero [4]byte
	if _, err := l.dev.WriteAt(zero[:], l.offset(i)+8); err != nil {
		return fmt.Errorf("clear entry %d: %w", i, err)
	}
	l.entries[i].deleted = true
	return nil
}

func (l *Log) compact() error {
	live := make([]Record, 0, len(l.entries))
	for _, e := range l.entries {
		if !e.deleted {
			live = append(live, e.rec)
		}
	}
	if len(live) == len(l.entries) {
		return nil
	}

	if err := l.format(); err != nil {
		return err
	}
	for _, r := range live {
		if err := l.append(r); err != nil {
			return err
		}
	}
	return nil
}

// index returns the slot of a live entry.
func (l *Log) index(d Descriptor) (int, bool) {
	i := int(d.ID) - 1
	if i < 0 || i >= len(l.entries) || l.entries[i].deleted {
		return 0, false
	}
	return i, true
}

func (l *Log) offset(slot int) int64 {
	return int64(logHeaderLen + slot*entryLen)
}

func (l *Log) notify(op Op, r Record, err error) error {
	l.mu.Lock()
	subs := append([]func(Result){}, l.subs...)
	l.mu.Unlock()

	res := Result{Op: op, FileID: r.FileID, Key: r.Key, Err: err}
	for _, fn := range subs {
		fn(res)
	}
	return err
}
