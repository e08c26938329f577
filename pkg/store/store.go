package store

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/itohio/goph/pkg/flash"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Update when no record exists for the key.
var ErrNotFound = errors.New("store: record not found")

// Tolerance used when verifying a value read back after an update.
const Tolerance = 0.001

// Key addresses one logical value.
type Key struct {
	Domain uint16
	Key    uint16
}

// Persisted keys.
var (
	Slope         = Key{0x1110, 0x1111}
	Intercept     = Key{0x2220, 0x2221}
	Correlation   = Key{0x3330, 0x3331}
	Performed     = Key{0x4440, 0x4441}
	ReferenceTemp = Key{0x5550, 0x5551}
	Mode          = Key{0x7770, 0x7771}
	StayOn        = Key{0x8890, 0x8891}
)

// Stats holds store counters.
type Stats struct {
	Failures  uint64 // Failed engine operations (sync or async)
	Fallbacks uint64 // Put calls that needed a fresh write
	Skipped   uint64 // Put calls with an unchanged value
	Reclaims  uint64 // Garbage collections triggered by a full engine
}

// Store maps (domain, key) pairs to float32 values over a flash engine.
// Engine failures are logged and counted, never escalated.
type Store struct {
	engine flash.Engine
	log    logrus.FieldLogger

	failures  atomic.Uint64
	fallbacks atomic.Uint64
	skipped   atomic.Uint64
	reclaims  atomic.Uint64
}

// New creates a store over engine and subscribes to its completion events.
func New(engine flash.Engine, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{engine: engine, log: log}
	engine.Subscribe(s.onResult)
	return s
}

func (s *Store) onResult(r flash.Result) {
	if r.Err == nil {
		return
	}
	s.failures.Add(1)
	s.log.WithFields(logrus.Fields{
		"op":     r.Op.String(),
		"domain": fmt.Sprintf("0x%04x", r.FileID),
		"key":    fmt.Sprintf("0x%04x", r.Key),
	}).WithError(r.Err).Warn("flash operation failed")
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	return Stats{
		Failures:  s.failures.Load(),
		Fallbacks: s.fallbacks.Load(),
		Skipped:   s.skipped.Load(),
		Reclaims:  s.reclaims.Load(),
	}
}

// Write creates a new record for k.
func (s *Store) Write(k Key, v float32) error {
	err := s.engine.Write(record(k, v))
	if err != nil {
		return fmt.Errorf("write 0x%04x/0x%04x: %w", k.Domain, k.Key, err)
	}
	return nil
}

// Update supersedes the existing record for k. It returns ErrNotFound when
// the key was never written.
func (s *Store) Update(k Key, v float32) error {
	var tok flash.FindToken
	d, err := s.engine.Find(k.Domain, k.Key, &tok)
	if errors.Is(err, flash.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find 0x%04x/0x%04x: %w", k.Domain, k.Key, err)
	}

	if err := s.engine.Update(d, record(k, v)); err != nil {
		return fmt.Errorf("update 0x%04x/0x%04x: %w", k.Domain, k.Key, err)
	}
	return nil
}

// Lookup returns the most recent value for k and whether one exists.
func (s *Store) Lookup(k Key) (float32, bool) {
	var tok flash.FindToken
	var v float32
	found := false

	for {
		d, err := s.engine.Find(k.Domain, k.Key, &tok)
		if err != nil {
			if !errors.Is(err, flash.ErrNotFound) {
				s.log.WithError(err).Warn("flash find failed")
			}
			return v, found
		}
		r, err := s.engine.Open(d)
		if err != nil {
			s.log.WithError(err).Warn("flash open failed")
			continue
		}
		v = math.Float32frombits(r.Data)
		found = true
	}
}

// Read returns the most recent value for k, or zero when none exists.
func (s *Store) Read(k Key) float32 {
	v, _ := s.Lookup(k)
	return v
}

// DeleteAndReclaim deletes every record for k and garbage collects.
func (s *Store) DeleteAndReclaim(k Key) error {
	var tok flash.FindToken
	for {
		d, err := s.engine.Find(k.Domain, k.Key, &tok)
		if errors.Is(err, flash.ErrNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("find 0x%04x/0x%04x: %w", k.Domain, k.Key, err)
		}
		if err := s.engine.Delete(d); err != nil {
			return fmt.Errorf("delete 0x%04x/0x%04x: %w", k.Domain, k.Key, err)
		}
	}

	if err := s.engine.GC(); err != nil {
		return fmt.Errorf("gc: %w", err)
	}
	return nil
}

// Put persists v for k with the update, read back, fallback write sequence.
// An unchanged value issues no engine operations.
func (s *Store) Put(k Key, v float32) error {
	if cur, ok := s.Lookup(k); ok && equal(cur, v) {
		s.skipped.Add(1)
		return nil
	}

	err := s.Update(k, v)
	if errors.Is(err, flash.ErrNoSpace) && s.reclaim() {
		err = s.Update(k, v)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.log.WithField("domain", fmt.Sprintf("0x%04x", k.Domain)).WithError(err).Warn("update failed")
	}

	if cur, ok := s.Lookup(k); ok && equal(cur, v) {
		return nil
	}

	s.fallbacks.Add(1)
	s.log.WithField("domain", fmt.Sprintf("0x%04x", k.Domain)).Debug("update not visible, writing record")
	err = s.Write(k, v)
	if errors.Is(err, flash.ErrNoSpace) && s.reclaim() {
		err = s.Write(k, v)
	}
	if err != nil {
		s.log.WithError(err).Warn("fallback write failed")
		return err
	}
	return nil
}

// reclaim garbage collects superseded records. It reports whether there
// was anything to reclaim.
func (s *Store) reclaim() bool {
	if s.engine.Stat().Dirty == 0 {
		return false
	}
	if err := s.engine.GC(); err != nil {
		s.log.WithError(err).Warn("gc failed")
		return false
	}
	s.reclaims.Add(1)
	s.log.Debug("flash full, reclaimed superseded records")
	return true
}

// PutBool persists a flag as 1.0 or 0.0.
func (s *Store) PutBool(k Key, b bool) error {
	return s.Put(k, boolValue(b))
}

// Bool reads a flag persisted with PutBool.
func (s *Store) Bool(k Key) bool {
	return s.Read(k) > 0.5
}

func equal(a, b float32) bool {
	return math32.Abs(a-b) < Tolerance
}

func boolValue(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

func record(k Key, v float32) flash.Record {
	return flash.Record{FileID: k.Domain, Key: k.Key, Data: math.Float32bits(v)}
}
