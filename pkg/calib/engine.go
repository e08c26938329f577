package calib

import (
	"errors"
	"fmt"

	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/sample"
	"github.com/itohio/goph/pkg/store"
	"github.com/sirupsen/logrus"
)

// Bounds applied to user-facing calibrated values.
const (
	MinValue = 0.1
	MaxValue = 99.9
)

var (
	ErrInvalidPointCount = errors.New("calib: point count must be 1, 2 or 3")
	ErrInvalidSlot       = errors.New("calib: invalid point slot")
	ErrIncomplete        = errors.New("calib: not all points captured")
	ErrNotCalibrating    = errors.New("calib: no calibration in progress")
)

// Model converts analyte millivolts to a calibrated value.
// A performed model always has a non-zero slope.
type Model struct {
	Slope         float32 // value per mV
	Intercept     float32
	Correlation   float32
	ReferenceTemp float32 // °C
	Points        int
	Performed     bool
}

// Apply returns mv * slope + intercept.
func (m Model) Apply(mv float32) float32 {
	return mv*m.Slope + m.Intercept
}

// Engine captures calibration points and maintains the active model.
type Engine struct {
	cfg     config.CalibrationConfig
	sampler Sampler
	cond    *sample.Conditioner
	store   Persister
	log     logrus.FieldLogger

	model Model

	active   bool
	count    int
	points   [3]Point
	temps    [3]float32
	captured [3]bool
}

// New creates a calibration engine starting from the configured default model.
func New(cfg *config.Config, sampler Sampler, cond *sample.Conditioner, st Persister, log logrus.FieldLogger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Engine{
		cfg:     cfg.Calibration,
		sampler: sampler,
		cond:    cond,
		store:   st,
		log:     log,
	}
	e.model = e.defaultModel()
	return e
}

func (e *Engine) defaultModel() Model {
	return Model{
		Slope:         e.cfg.DefaultSlope,
		Intercept:     e.cfg.DefaultIntercept,
		ReferenceTemp: 25,
	}
}

// Load restores the model persisted by a previous calibration. Without a
// performed record, or with a zero slope, the default model stays active.
func (e *Engine) Load() Model {
	if !e.store.Bool(store.Performed) {
		e.model = e.defaultModel()
		return e.model
	}

	m := Model{Performed: true}
	m.Slope, _ = e.store.Lookup(store.Slope)
	m.Intercept, _ = e.store.Lookup(store.Intercept)
	m.Correlation, _ = e.store.Lookup(store.Correlation)
	if t, ok := e.store.Lookup(store.ReferenceTemp); ok {
		m.ReferenceTemp = t
	} else {
		m.ReferenceTemp = 25
	}

	if m.Slope == 0 {
		e.log.Warn("stored calibration has zero slope, using defaults")
		e.model = e.defaultModel()
		return e.model
	}

	e.model = m
	e.log.WithFields(logrus.Fields{
		"slope":     m.Slope,
		"intercept": m.Intercept,
	}).Info("calibration loaded")
	return e.model
}

// Model returns the active model.
func (e *Engine) Model() Model {
	return e.model
}

// Active reports whether a calibration session is in progress.
func (e *Engine) Active() bool {
	return e.active
}

// PointCount returns the number of points of the current session.
func (e *Engine) PointCount() int {
	return e.count
}

// Begin starts a session expecting n points.
func (e *Engine) Begin(n int) error {
	if n < 1 || n > 3 {
		return fmt.Errorf("%w: %d", ErrInvalidPointCount, n)
	}
	e.reset()
	e.active = true
	e.count = n
	e.log.WithField("count", n).Info("calibration started")
	return nil
}

// Cancel abandons the current session. The model is not changed.
func (e *Engine) Cancel() {
	e.reset()
}

func (e *Engine) reset() {
	e.active = false
	e.count = 0
	e.points = [3]Point{}
	e.temps = [3]float32{}
	e.captured = [3]bool{}
}

// Capture acquires the analyte and temperature channels for slot (1-based)
// and records the point. It returns the point and the clamped temperature.
func (e *Engine) Capture(slot int, reference float32) (Point, float32, error) {
	if !e.active {
		return Point{}, 0, ErrNotCalibrating
	}
	if slot < 1 || slot > e.count {
		return Point{}, 0, fmt.Errorf("%w: %d of %d", ErrInvalidSlot, slot, e.count)
	}

	phMV, tempMV, err := e.sampler.ReadCalibration()
	if err != nil {
		return Point{}, 0, fmt.Errorf("capture point %d: %w", slot, err)
	}

	celsius := Clamp(e.cond.Celsius(tempMV))
	p := Point{MV: float32(phMV), Reference: reference}
	e.points[slot-1] = p
	e.temps[slot-1] = celsius
	e.captured[slot-1] = true

	e.log.WithFields(logrus.Fields{
		"slot":      slot,
		"mv":        phMV,
		"celsius":   celsius,
		"reference": reference,
	}).Info("calibration point captured")

	return p, celsius, nil
}

// ReferenceTemp returns the mean temperature of the points captured so far.
func (e *Engine) ReferenceTemp() float32 {
	var sum float32
	n := 0
	for i := 0; i < e.count; i++ {
		if e.captured[i] {
			sum += e.temps[i]
			n++
		}
	}
	if n == 0 {
		return e.model.ReferenceTemp
	}
	return sum / float32(n)
}

// Ready reports whether every slot of the session has been captured.
func (e *Engine) Ready() bool {
	if !e.active {
		return false
	}
	for i := 0; i < e.count; i++ {
		if !e.captured[i] {
			return false
		}
	}
	return true
}

// Finalize builds a new model from the captured points and persists it.
// The session ends either way; on error the previous model stays active.
func (e *Engine) Finalize() (Model, error) {
	if !e.active {
		return e.model, ErrNotCalibrating
	}
	if !e.Ready() {
		return e.model, ErrIncomplete
	}
	defer e.reset()

	ref := e.ReferenceTemp()
	points := make([]Point, e.count)
	for i := range points {
		points[i] = e.points[i]
		if e.cfg.CompensatePoints {
			points[i].MV = e.cond.CompensateTo(points[i].MV, e.temps[i], ref)
		}
	}

	var m Model
	if len(points) == 1 {
		base := e.model
		if !base.Performed {
			base = e.defaultModel()
		}
		m = base
		m.Intercept += points[0].Reference - base.Apply(points[0].MV)
	} else {
		slope, intercept, corr, err := Fit(points)
		if err != nil {
			e.log.WithError(err).Warn("calibration regression failed")
			return e.model, err
		}
		m = Model{Slope: slope, Intercept: intercept, Correlation: corr}
	}
	m.ReferenceTemp = ref
	m.Points = len(points)
	m.Performed = true

	e.model = m
	e.persist(m)

	e.log.WithFields(logrus.Fields{
		"slope":       m.Slope,
		"intercept":   m.Intercept,
		"correlation": m.Correlation,
		"count":       m.Points,
	}).Info("calibration complete")

	return m, nil
}

func (e *Engine) persist(m Model) {
	values := []struct {
		key store.Key
		v   float32
	}{
		{store.Slope, m.Slope},
		{store.Intercept, m.Intercept},
		{store.Correlation, m.Correlation},
		{store.ReferenceTemp, m.ReferenceTemp},
	}
	for _, kv := range values {
		if err := e.store.Put(kv.key, kv.v); err != nil {
			e.log.WithError(err).Warn("failed to persist calibration value")
		}
	}
	if err := e.store.PutBool(store.Performed, true); err != nil {
		e.log.WithError(err).Warn("failed to persist calibration flag")
	}
}

// Calibrated converts mv with the active model, clamped for the wire.
// It reports false when no calibration has been performed.
func (e *Engine) Calibrated(mv uint32) (float32, bool) {
	if !e.model.Performed {
		return 0, false
	}
	return Clamp(e.model.Apply(float32(mv))), true
}

// Clamp forces v into [MinValue, MaxValue].
func Clamp(v float32) float32 {
	if v > MaxValue {
		return MaxValue
	}
	if v < MinValue {
		return MinValue
	}
	return v
}

// Report holds the calibration summary sent to the peer: slope in mV per
// unit, offset in mV, |R| and the reference temperature.
type Report struct {
	M float32
	B int
	R float32
	C float32
}

// Report converts the active model into peer units with range guards.
func (e *Engine) Report() Report {
	m := e.model
	if m.Slope == 0 {
		return Report{C: m.ReferenceTemp}
	}

	mv := 1 / m.Slope
	off := -m.Intercept / m.Slope
	r := m.Correlation
	if r < 0 {
		r = -r
	}
	t := m.ReferenceTemp

	if mv > 999 || mv < -999 {
		mv = 0
	}
	if off > 9999 || off < -9999 {
		off = 0
	}
	if r > 1 {
		r = 0
	}
	if t > 99 || t < -99 {
		t = 0
	}

	return Report{M: mv, B: int(off), R: r, C: t}
}
