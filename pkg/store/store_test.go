package store

import (
	"errors"
	"testing"

	"github.com/itohio/goph/pkg/flash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	require.NoError(t, s.Write(Slope, -0.0169))
	assert.Equal(t, float32(-0.0169), s.Read(Slope))
}

func TestRead_DefaultsToZero(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	assert.Equal(t, float32(0), s.Read(Intercept))
	_, ok := s.Lookup(Intercept)
	assert.False(t, ok)

	require.NoError(t, s.Write(Intercept, 0))
	v, ok := s.Lookup(Intercept)
	assert.True(t, ok)
	assert.Equal(t, float32(0), v)
}

func TestUpdate(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	require.NoError(t, s.Write(Mode, 0))
	require.NoError(t, s.Update(Mode, 1))
	assert.Equal(t, float32(1), s.Read(Mode))
}

func TestUpdate_MissingFallsBackToWrite(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	err := s.Update(StayOn, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(StayOn, 1))
	assert.Equal(t, float32(1), s.Read(StayOn))
}

func TestRead_ReturnsMostRecent(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	require.NoError(t, s.Write(Correlation, 0.5))
	require.NoError(t, s.Write(Correlation, 0.9))
	assert.Equal(t, float32(0.9), s.Read(Correlation))
}

func TestDeleteAndReclaim(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)

	require.NoError(t, s.Write(Slope, 1))
	require.NoError(t, s.Write(Slope, 2))
	require.NoError(t, s.Write(Intercept, 3))

	require.NoError(t, s.DeleteAndReclaim(Slope))
	_, ok := s.Lookup(Slope)
	assert.False(t, ok)
	assert.Equal(t, float32(3), s.Read(Intercept))

	st := engine.Stat()
	assert.Equal(t, 1, st.Valid)
	assert.Equal(t, 0, st.Dirty)
}

func TestDeleteAndReclaim_AsyncEngine(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)
	require.NoError(t, s.Write(Slope, 1))
	require.NoError(t, s.Update(Slope, 2))

	engine.SetAsync(true)
	require.NoError(t, s.DeleteAndReclaim(Slope))

	// One delete and one gc are queued, the record is still visible
	assert.Equal(t, 2, engine.Pending())
	_, ok := s.Lookup(Slope)
	assert.True(t, ok)

	assert.Equal(t, 2, engine.Process())
	_, ok = s.Lookup(Slope)
	assert.False(t, ok)
	assert.Equal(t, flash.Stat{Capacity: 16}, engine.Stat())
}

func TestPut(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)

	// First put has nothing to update and falls back to a write
	require.NoError(t, s.Put(Mode, 1))
	assert.Equal(t, float32(1), s.Read(Mode))
	assert.Equal(t, uint64(1), s.Stats().Fallbacks)

	// Second put updates in place
	require.NoError(t, s.Put(Mode, 0))
	assert.Equal(t, float32(0), s.Read(Mode))
	assert.Equal(t, uint64(1), s.Stats().Fallbacks)
	assert.Equal(t, 1, engine.Stat().Valid)
}

func TestPut_UnchangedIsNoop(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)

	require.NoError(t, s.Put(Mode, 1))
	before := engine.Stat()

	require.NoError(t, s.Put(Mode, 1.0004))
	assert.Equal(t, before, engine.Stat())
	assert.Equal(t, uint64(1), s.Stats().Skipped)
}

func TestPut_FailedUpdateFallsBack(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)

	require.NoError(t, s.Write(Slope, 1))
	engine.FailNext(errors.New("write error"))

	require.NoError(t, s.Put(Slope, 2))
	assert.Equal(t, float32(2), s.Read(Slope))
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(1), stats.Fallbacks)
}

func TestPut_AsyncEngine(t *testing.T) {
	engine := flash.NewMem(16)
	s := New(engine, nil)
	require.NoError(t, s.Write(Slope, 1))

	engine.SetAsync(true)
	require.NoError(t, s.Put(Slope, 2))

	// Neither the update nor the fallback are visible yet
	assert.Equal(t, float32(1), s.Read(Slope))
	assert.Equal(t, 2, engine.Process())
	assert.Equal(t, float32(2), s.Read(Slope))
}

func TestPut_NoSpace(t *testing.T) {
	engine := flash.NewMem(1)
	s := New(engine, nil)

	require.NoError(t, s.Put(Slope, 1))
	err := s.Put(Intercept, 2)
	assert.ErrorIs(t, err, flash.ErrNoSpace)
	assert.Equal(t, uint64(1), s.Stats().Failures)
}

func TestPut_ReclaimsWhenFull(t *testing.T) {
	engine := flash.NewMem(4)
	s := New(engine, nil)

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Put(Slope, float32(i)))
	}
	require.Equal(t, flash.Stat{Valid: 1, Dirty: 3, Capacity: 4}, engine.Stat())

	require.NoError(t, s.Put(Slope, 5))
	assert.Equal(t, float32(5), s.Read(Slope))
	assert.Equal(t, flash.Stat{Valid: 1, Dirty: 1, Capacity: 4}, engine.Stat())

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Reclaims)
	assert.Equal(t, uint64(1), stats.Failures)
}

func TestBool(t *testing.T) {
	s := New(flash.NewMem(16), nil)

	assert.False(t, s.Bool(StayOn))
	require.NoError(t, s.PutBool(StayOn, true))
	assert.True(t, s.Bool(StayOn))
	assert.Equal(t, float32(1), s.Read(StayOn))
	require.NoError(t, s.PutBool(StayOn, false))
	assert.False(t, s.Bool(StayOn))
}
