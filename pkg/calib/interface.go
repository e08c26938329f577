package calib

import "github.com/itohio/goph/pkg/store"

// Sampler performs the long averaged acquisition of one calibration point.
type Sampler interface {
	ReadCalibration() (phMV, tempMV uint32, err error)
}

// Persister stores calibration values.
type Persister interface {
	Put(k store.Key, v float32) error
	PutBool(k store.Key, b bool) error
	Lookup(k store.Key) (float32, bool)
	Bool(k store.Key) bool
}

// Ensure the persistent store can back the engine.
var _ Persister = (*store.Store)(nil)
