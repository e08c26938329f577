package sample

import (
	"testing"

	"github.com/itohio/goph/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestRawToMillivolts(t *testing.T) {
	c := NewConditioner(config.Default())

	tests := []struct {
		name  string
		count int16
		want  uint32
	}{
		{name: "zero", count: 0, want: 0},
		{name: "half scale", count: 2048, want: 1500},
		{name: "negative clamps to zero", count: -12, want: 0},
		{name: "full scale", count: 4095, want: 2999},
		{name: "above max count clamps", count: 5000, want: 2999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.RawToMillivolts(tt.count))
		})
	}
}

func TestCelsius(t *testing.T) {
	c := NewConditioner(config.Default())

	// Divider midpoint means the thermistor sits at its nominal resistance.
	assert.InDelta(t, 25.0, c.Celsius(900), 0.001)

	// Lower voltage -> lower resistance -> warmer (NTC).
	warm := c.Celsius(700)
	cold := c.Celsius(1100)
	assert.Greater(t, warm, float32(25))
	assert.Less(t, cold, float32(25))

	// Result is always on a 0.1 °C grid.
	for _, mv := range []uint32{350, 612, 900, 1000, 1234} {
		v := c.Celsius(mv) * 10
		assert.InDelta(t, float64(int(v+0.5)), float64(v), 0.01, "mv=%d", mv)
	}
}

func TestCelsius_FloorResistance(t *testing.T) {
	c := NewConditioner(config.Default())

	floor := c.Celsius(0)
	assert.Equal(t, float32(500), c.ThermistorResistance(0))
	assert.Equal(t, float32(500), c.ThermistorResistance(1799))
	assert.Equal(t, float32(500), c.ThermistorResistance(2500))
	assert.Equal(t, floor, c.Celsius(1799))
	assert.Equal(t, floor, c.Celsius(2500))
}

func TestCompensate(t *testing.T) {
	c := NewConditioner(config.Default())

	// tempMV 900 is 25.0 °C
	assert.Equal(t, uint32(1420), c.Compensate(1420, 900, 25))
	// 10 °C above the measurement adds 11 mV
	assert.Equal(t, uint32(1431), c.Compensate(1420, 900, 35))
	// 10 °C below removes 11 mV
	assert.Equal(t, uint32(1409), c.Compensate(1420, 900, 15))
	// never below zero
	assert.Equal(t, uint32(0), c.Compensate(5, 900, -25))
}

func TestCompensateTo(t *testing.T) {
	c := NewConditioner(config.Default())
	assert.Equal(t, float32(1431), c.CompensateTo(1420, 25, 35))
	assert.Equal(t, float32(0), c.CompensateTo(3, 40, 20))
}

func TestBatteryMillivolts(t *testing.T) {
	c := NewConditioner(config.Default())

	assert.Equal(t, uint32(3000), c.BatteryMillivolts(750))
	assert.Equal(t, uint32(0), c.BatteryMillivolts(0))
	// Input clamps to 3000 mV before scaling
	assert.Equal(t, uint32(12000), c.BatteryMillivolts(3500))
}
