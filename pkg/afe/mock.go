package afe

import (
	"math"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"github.com/itohio/goph/pkg/config"
)

// Mock simulates the analog front end for testing and the host simulator.
// Channel levels are configured in millivolts and converted back to counts
// using the ADC scaling so that the conditioner recovers them.
type Mock struct {
	adc config.ADCConfig
	cfg config.MockConfig

	mu       sync.Mutex
	levels   map[Channel]float32
	rng      *rand.Rand
	biased   bool
	released bool
	converts int
	failErr  error

	// Counters exposed for tests
	BiasOn  int
	BiasOff int
}

// NewMock creates a new simulated front end.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	return &Mock{
		adc: cfg.ADC,
		cfg: cfg.Mock,
		levels: map[Channel]float32{
			Analyte:     cfg.Mock.AnalyteMV,
			Battery:     cfg.Mock.BatteryMV,
			Temperature: cfg.Mock.TemperatureMV,
		},
		rng: rand.New(rand.NewSource(1)),
	}
}

// Set changes the simulated level of a channel in millivolts.
func (m *Mock) Set(ch Channel, mv float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[ch] = mv
}

// FailNext makes the next conversion return err.
func (m *Mock) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Convert returns a simulated raw count for the channel.
func (m *Mock) Convert(ch Channel) (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return 0, err
	}

	mv, ok := m.levels[ch]
	if !ok {
		return 0, ErrUnknownChannel
	}
	m.converts++

	if ch == Analyte {
		if m.cfg.DriftMV != 0 {
			mv += m.cfg.DriftMV * float32(math.Sin(float64(m.converts)*0.0005))
		}
		if !m.biased {
			// ISFET output collapses without bias
			mv = 0
		}
	}
	if m.cfg.NoiseMV != 0 {
		mv += (m.rng.Float32()*2 - 1) * m.cfg.NoiseMV
	}

	mvPerCount := m.adc.ReferenceMV * m.adc.Prescale / m.adc.Resolution
	count := math32.Floor(mv/mvPerCount + 0.5)
	if count > float32(m.adc.MaxCount) {
		count = float32(m.adc.MaxCount)
	}
	if count < -2048 {
		count = -2048
	}
	return int16(count), nil
}

// EnableBias turns the simulated sensor bias on.
func (m *Mock) EnableBias() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.biased = true
	m.BiasOn++
	return nil
}

// DisableBias turns the simulated sensor bias off.
func (m *Mock) DisableBias() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.biased = false
	m.BiasOff++
	return nil
}

// Release simulates dropping the power-hold line.
func (m *Mock) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	return nil
}

// Released reports whether Release was called.
func (m *Mock) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Biased reports whether the bias circuit is enabled.
func (m *Mock) Biased() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.biased
}
