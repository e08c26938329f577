package calib

import (
	"errors"
	"testing"

	"github.com/itohio/goph/pkg/config"
	"github.com/itohio/goph/pkg/flash"
	"github.com/itohio/goph/pkg/sample"
	"github.com/itohio/goph/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSampler returns queued (ph, temp) millivolt pairs.
type fakeSampler struct {
	ph   []uint32
	temp []uint32
	err  error
}

func (f *fakeSampler) push(ph, temp uint32) {
	f.ph = append(f.ph, ph)
	f.temp = append(f.temp, temp)
}

func (f *fakeSampler) ReadCalibration() (uint32, uint32, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	ph, temp := f.ph[0], f.temp[0]
	f.ph, f.temp = f.ph[1:], f.temp[1:]
	return ph, temp, nil
}

type fixture struct {
	cfg     *config.Config
	sampler *fakeSampler
	store   *store.Store
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	f := &fixture{
		cfg:     cfg,
		sampler: &fakeSampler{},
		store:   store.New(flash.NewMem(64), nil),
	}
	f.engine = New(cfg, f.sampler, sample.NewConditioner(cfg), f.store, nil)
	return f
}

// calibrate runs a full session; temperature channel reads 25 °C.
func (f *fixture) calibrate(t *testing.T, points ...Point) (Model, error) {
	t.Helper()
	require.NoError(t, f.engine.Begin(len(points)))
	for i, p := range points {
		f.sampler.push(uint32(p.MV), 900)
		_, _, err := f.engine.Capture(i+1, p.Reference)
		require.NoError(t, err)
	}
	return f.engine.Finalize()
}

func TestFinalize_TwoPoints(t *testing.T) {
	f := newFixture(t)

	m, err := f.calibrate(t, Point{MV: 1420, Reference: 7}, Point{MV: 1251, Reference: 10})
	require.NoError(t, err)

	assert.True(t, m.Performed)
	assert.Equal(t, 2, m.Points)
	assert.InDelta(t, 7, m.Apply(1420), 1e-3)
	assert.InDelta(t, 10, m.Apply(1251), 1e-3)
	assert.InDelta(t, 1, abs(m.Correlation), 1e-6)
	assert.InDelta(t, 25, m.ReferenceTemp, 1e-3)
	assert.False(t, f.engine.Active())
}

func TestFinalize_ThreePoints(t *testing.T) {
	f := newFixture(t)

	m, err := f.calibrate(t,
		Point{MV: 1597, Reference: 4},
		Point{MV: 1420, Reference: 7},
		Point{MV: 1250, Reference: 10},
	)
	require.NoError(t, err)

	assert.Less(t, m.Slope, float32(0))
	assert.LessOrEqual(t, abs(m.Correlation), float32(1))
	assert.Greater(t, abs(m.Correlation), float32(0.99))
	for _, p := range []Point{{1597, 4}, {1420, 7}, {1250, 10}} {
		assert.InDelta(t, p.Reference, m.Apply(p.MV), 0.05)
	}
}

func TestFinalize_Singular(t *testing.T) {
	f := newFixture(t)
	before := f.engine.Model()

	_, err := f.calibrate(t, Point{MV: 1420, Reference: 4}, Point{MV: 1420, Reference: 7})
	assert.ErrorIs(t, err, ErrSingular)

	assert.Equal(t, before, f.engine.Model())
	assert.False(t, f.engine.Active())
	_, ok := f.store.Lookup(store.Slope)
	assert.False(t, ok)
}

func TestFinalize_SingularKeepsPreviousCalibration(t *testing.T) {
	f := newFixture(t)
	good, err := f.calibrate(t, Point{MV: 1000, Reference: 12}, Point{MV: 1500, Reference: 17})
	require.NoError(t, err)

	_, err = f.calibrate(t, Point{MV: 1300, Reference: 4}, Point{MV: 1300, Reference: 9}, Point{MV: 1300, Reference: 10})
	assert.ErrorIs(t, err, ErrSingular)
	assert.Equal(t, good, f.engine.Model())
	assert.Equal(t, good.Slope, f.store.Read(store.Slope))
}

func TestFinalize_ZeroSlope(t *testing.T) {
	f := newFixture(t)

	_, err := f.calibrate(t, Point{MV: 1420, Reference: 7}, Point{MV: 1251, Reference: 7})
	assert.ErrorIs(t, err, ErrZeroSlope)
	assert.False(t, f.engine.Model().Performed)
}

func TestFinalize_OnePointFromDefault(t *testing.T) {
	f := newFixture(t)

	m, err := f.calibrate(t, Point{MV: 1420, Reference: 7.5})
	require.NoError(t, err)

	assert.Equal(t, f.cfg.Calibration.DefaultSlope, m.Slope)
	assert.InDelta(t, 7.5, m.Apply(1420), 1e-3)
	assert.True(t, m.Performed)
	assert.Equal(t, 1, m.Points)
}

func TestFinalize_OnePointShiftsIntercept(t *testing.T) {
	f := newFixture(t)
	base, err := f.calibrate(t, Point{MV: 1000, Reference: 12}, Point{MV: 1500, Reference: 17})
	require.NoError(t, err)

	m, err := f.calibrate(t, Point{MV: 1500, Reference: 16.5})
	require.NoError(t, err)

	assert.Equal(t, base.Slope, m.Slope)
	assert.InDelta(t, base.Intercept-0.5, m.Intercept, 1e-3)
	assert.Equal(t, base.Correlation, m.Correlation)
}

func TestFinalize_Persists(t *testing.T) {
	f := newFixture(t)
	m, err := f.calibrate(t, Point{MV: 1000, Reference: 12}, Point{MV: 1500, Reference: 17})
	require.NoError(t, err)

	assert.InDelta(t, m.Slope, f.store.Read(store.Slope), 1e-6)
	assert.InDelta(t, m.Intercept, f.store.Read(store.Intercept), 1e-6)
	assert.InDelta(t, m.Correlation, f.store.Read(store.Correlation), 1e-6)
	assert.InDelta(t, m.ReferenceTemp, f.store.Read(store.ReferenceTemp), 1e-6)
	assert.True(t, f.store.Bool(store.Performed))

	// A fresh engine over the same store restores it
	other := New(f.cfg, f.sampler, sample.NewConditioner(f.cfg), f.store, nil)
	loaded := other.Load()
	assert.True(t, loaded.Performed)
	assert.InDelta(t, m.Slope, loaded.Slope, 1e-6)
	assert.InDelta(t, m.Intercept, loaded.Intercept, 1e-6)
}

func TestLoad_Defaults(t *testing.T) {
	f := newFixture(t)

	m := f.engine.Load()
	assert.False(t, m.Performed)
	assert.Equal(t, f.cfg.Calibration.DefaultSlope, m.Slope)
	assert.Equal(t, f.cfg.Calibration.DefaultIntercept, m.Intercept)
}

func TestLoad_ZeroSlopeFallsBack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutBool(store.Performed, true))

	m := f.engine.Load()
	assert.False(t, m.Performed)
	assert.NotZero(t, m.Slope)
}

func TestCalibrated(t *testing.T) {
	f := newFixture(t)

	_, ok := f.engine.Calibrated(1500)
	assert.False(t, ok)

	_, err := f.calibrate(t, Point{MV: 1000, Reference: 12}, Point{MV: 1500, Reference: 17})
	require.NoError(t, err)

	v, ok := f.engine.Calibrated(1500)
	require.True(t, ok)
	assert.InDelta(t, 17.0, v, 1e-3)

	v, _ = f.engine.Calibrated(20000)
	assert.Equal(t, float32(MaxValue), v)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, float32(0.1), Clamp(-3))
	assert.Equal(t, float32(0.1), Clamp(0.05))
	assert.Equal(t, float32(99.9), Clamp(120))
	assert.Equal(t, float32(7.25), Clamp(7.25))
}

func TestCapture_Errors(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.engine.Capture(1, 7)
	assert.ErrorIs(t, err, ErrNotCalibrating)

	assert.ErrorIs(t, f.engine.Begin(0), ErrInvalidPointCount)
	assert.ErrorIs(t, f.engine.Begin(4), ErrInvalidPointCount)

	require.NoError(t, f.engine.Begin(2))
	_, _, err = f.engine.Capture(3, 7)
	assert.ErrorIs(t, err, ErrInvalidSlot)
	_, _, err = f.engine.Capture(0, 7)
	assert.ErrorIs(t, err, ErrInvalidSlot)

	boom := errors.New("adc fault")
	f.sampler.err = boom
	_, _, err = f.engine.Capture(1, 7)
	assert.ErrorIs(t, err, boom)
}

func TestFinalize_Incomplete(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Finalize()
	assert.ErrorIs(t, err, ErrNotCalibrating)

	require.NoError(t, f.engine.Begin(2))
	f.sampler.push(1420, 900)
	_, _, err = f.engine.Capture(1, 7)
	require.NoError(t, err)

	_, err = f.engine.Finalize()
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.True(t, f.engine.Active())

	f.engine.Cancel()
	assert.False(t, f.engine.Active())
}

func TestCapture_ClampsTemperature(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Begin(1))

	f.sampler.push(1420, 1799)
	p, celsius, err := f.engine.Capture(1, 7)
	require.NoError(t, err)
	assert.Equal(t, float32(1420), p.MV)
	assert.Equal(t, float32(MaxValue), celsius)
	assert.Equal(t, float32(MaxValue), f.engine.ReferenceTemp())
}

func TestReferenceTemp_Mean(t *testing.T) {
	f := newFixture(t)
	cond := sample.NewConditioner(f.cfg)
	require.NoError(t, f.engine.Begin(2))

	f.sampler.push(1420, 900)
	f.sampler.push(1251, 1000)
	_, _, err := f.engine.Capture(1, 7)
	require.NoError(t, err)
	_, _, err = f.engine.Capture(2, 10)
	require.NoError(t, err)

	want := (cond.Celsius(900) + cond.Celsius(1000)) / 2
	assert.InDelta(t, want, f.engine.ReferenceTemp(), 1e-4)
}

func TestFinalize_CompensatesPoints(t *testing.T) {
	run := func(compensate bool) Model {
		f := newFixture(t)
		f.cfg.Calibration.CompensatePoints = compensate
		f.engine = New(f.cfg, f.sampler, sample.NewConditioner(f.cfg), f.store, nil)

		require.NoError(t, f.engine.Begin(2))
		f.sampler.push(1420, 700)
		f.sampler.push(1251, 1100)
		_, _, err := f.engine.Capture(1, 7)
		require.NoError(t, err)
		_, _, err = f.engine.Capture(2, 10)
		require.NoError(t, err)
		m, err := f.engine.Finalize()
		require.NoError(t, err)
		return m
	}

	assert.NotEqual(t, run(true).Slope, run(false).Slope)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	_, err := f.calibrate(t, Point{MV: 1000, Reference: 12}, Point{MV: 1500, Reference: 17})
	require.NoError(t, err)

	r := f.engine.Report()
	assert.InDelta(t, 100, r.M, 0.01)
	assert.Equal(t, -200, r.B)
	assert.InDelta(t, 1, r.R, 1e-6)
	assert.InDelta(t, 25, r.C, 1e-3)
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		wantErr error
	}{
		{name: "two points", points: []Point{{1000, 12}, {1500, 17}}},
		{name: "three noisy points", points: []Point{{1600, 4.1}, {1420, 6.9}, {1250, 10.05}}},
		{name: "identical x", points: []Point{{1420, 4}, {1420, 7}}, wantErr: ErrSingular},
		{name: "single point", points: []Point{{1420, 4}}, wantErr: ErrSingular},
		{name: "flat", points: []Point{{1000, 7}, {1500, 7}}, wantErr: ErrZeroSlope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slope, intercept, corr, err := Fit(tt.points)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, slope)
			assert.LessOrEqual(t, abs(corr), float32(1))
			for _, p := range tt.points {
				assert.InDelta(t, p.Reference, p.MV*slope+intercept, 0.2)
			}
		})
	}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
