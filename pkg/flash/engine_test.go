package flash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineFactories build the engines every behaviour test runs against.
// Host only engines add themselves from their own test files.
var engineFactories = map[string]func(t *testing.T, capacity int) Engine{
	"mem": func(_ *testing.T, capacity int) Engine {
		return NewMem(capacity)
	},
	"log": func(t *testing.T, capacity int) Engine {
		l, err := OpenLog(newNorDevice(8, 64), capacity)
		require.NoError(t, err)
		return l
	},
}

func engines(t *testing.T, capacity int) map[string]Engine {
	t.Helper()

	out := make(map[string]Engine, len(engineFactories))
	for name, build := range engineFactories {
		out[name] = build(t, capacity)
	}
	return out
}

func latest(t *testing.T, e Engine, fileID, key uint16) (Record, bool) {
	t.Helper()
	var tok FindToken
	var found Record
	ok := false
	for {
		d, err := e.Find(fileID, key, &tok)
		if errors.Is(err, ErrNotFound) {
			return found, ok
		}
		require.NoError(t, err)
		found, err = e.Open(d)
		require.NoError(t, err)
		ok = true
	}
}

func TestEngine_WriteFind(t *testing.T) {
	for name, e := range engines(t, 16) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Write(Record{FileID: 0x1110, Key: 0x1111, Data: 42}))
			require.NoError(t, e.Write(Record{FileID: 0x2220, Key: 0x2221, Data: 7}))

			r, ok := latest(t, e, 0x1110, 0x1111)
			require.True(t, ok)
			assert.Equal(t, uint32(42), r.Data)

			_, ok = latest(t, e, 0x3330, 0x3331)
			assert.False(t, ok)
		})
	}
}

func TestEngine_FindIteratesOldestFirst(t *testing.T) {
	for name, e := range engines(t, 16) {
		t.Run(name, func(t *testing.T) {
			for _, v := range []uint32{1, 2, 3} {
				require.NoError(t, e.Write(Record{FileID: 1, Key: 2, Data: v}))
			}

			var tok FindToken
			var got []uint32
			for {
				d, err := e.Find(1, 2, &tok)
				if errors.Is(err, ErrNotFound) {
					break
				}
				require.NoError(t, err)
				r, err := e.Open(d)
				require.NoError(t, err)
				got = append(got, r.Data)
			}
			assert.Equal(t, []uint32{1, 2, 3}, got)
		})
	}
}

func TestEngine_UpdateSupersedes(t *testing.T) {
	for name, e := range engines(t, 16) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Write(Record{FileID: 1, Key: 2, Data: 10}))

			var tok FindToken
			d, err := e.Find(1, 2, &tok)
			require.NoError(t, err)
			require.NoError(t, e.Update(d, Record{FileID: 1, Key: 2, Data: 20}))

			r, ok := latest(t, e, 1, 2)
			require.True(t, ok)
			assert.Equal(t, uint32(20), r.Data)

			st := e.Stat()
			assert.Equal(t, 1, st.Valid)
			assert.Equal(t, 1, st.Dirty)

			// The old descriptor is garbage now
			assert.ErrorIs(t, e.Update(d, Record{FileID: 1, Key: 2, Data: 30}), ErrNotFound)
		})
	}
}

func TestEngine_DeleteAndGC(t *testing.T) {
	for name, e := range engines(t, 16) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Write(Record{FileID: 1, Key: 2, Data: 10}))
			require.NoError(t, e.Write(Record{FileID: 1, Key: 3, Data: 11}))

			var tok FindToken
			d, err := e.Find(1, 2, &tok)
			require.NoError(t, err)
			require.NoError(t, e.Delete(d))
			assert.ErrorIs(t, e.Delete(d), ErrNotFound)

			_, ok := latest(t, e, 1, 2)
			assert.False(t, ok)
			assert.Equal(t, 1, e.Stat().Dirty)

			require.NoError(t, e.GC())
			st := e.Stat()
			assert.Equal(t, 1, st.Valid)
			assert.Equal(t, 0, st.Dirty)
		})
	}
}

func TestEngine_NoSpace(t *testing.T) {
	for name, e := range engines(t, 2) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, e.Write(Record{FileID: 1, Key: 1, Data: 1}))
			require.NoError(t, e.Write(Record{FileID: 1, Key: 2, Data: 2}))
			assert.ErrorIs(t, e.Write(Record{FileID: 1, Key: 3, Data: 3}), ErrNoSpace)

			// Garbage also occupies space until GC
			var tok FindToken
			d, err := e.Find(1, 1, &tok)
			require.NoError(t, err)
			require.NoError(t, e.Delete(d))
			assert.ErrorIs(t, e.Write(Record{FileID: 1, Key: 3, Data: 3}), ErrNoSpace)

			require.NoError(t, e.GC())
			assert.NoError(t, e.Write(Record{FileID: 1, Key: 3, Data: 3}))
		})
	}
}

func TestEngine_CompletionEvents(t *testing.T) {
	for name, e := range engines(t, 1) {
		t.Run(name, func(t *testing.T) {
			var results []Result
			e.Subscribe(func(r Result) { results = append(results, r) })

			require.NoError(t, e.Write(Record{FileID: 5, Key: 6, Data: 1}))
			assert.Error(t, e.Write(Record{FileID: 5, Key: 7, Data: 1}))

			require.Len(t, results, 2)
			assert.Equal(t, OpWrite, results[0].Op)
			assert.Equal(t, uint16(5), results[0].FileID)
			assert.NoError(t, results[0].Err)
			assert.ErrorIs(t, results[1].Err, ErrNoSpace)
		})
	}
}

func TestMem_Async(t *testing.T) {
	m := NewMem(8)
	m.SetAsync(true)

	var results []Result
	m.Subscribe(func(r Result) { results = append(results, r) })

	require.NoError(t, m.Write(Record{FileID: 1, Key: 2, Data: 9}))
	assert.Equal(t, 1, m.Pending())
	assert.Empty(t, results)

	// Not visible before completion
	var tok FindToken
	_, err := m.Find(1, 2, &tok)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, m.Process())
	assert.Equal(t, 0, m.Pending())
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	r, ok := latest(t, m, 1, 2)
	require.True(t, ok)
	assert.Equal(t, uint32(9), r.Data)
}

func TestMem_FailNext(t *testing.T) {
	m := NewMem(8)
	boom := errors.New("page erase failed")
	m.FailNext(boom)

	var results []Result
	m.Subscribe(func(r Result) { results = append(results, r) })

	assert.ErrorIs(t, m.Write(Record{FileID: 1, Key: 2, Data: 9}), boom)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, 0, m.Stat().Valid)
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "gc", OpGC.String())
	assert.Equal(t, "unknown", Op(9).String())
}
