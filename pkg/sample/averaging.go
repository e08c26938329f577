package sample

import (
	"fmt"
	"time"

	"github.com/itohio/goph/pkg/afe"
	"github.com/itohio/goph/pkg/config"
	"github.com/sirupsen/logrus"
)

// Acquirer runs synchronous averaged acquisitions against a front end.
// Every call blocks for the configured settle time plus n conversions.
type Acquirer struct {
	fe    afe.Frontend
	cond  *Conditioner
	cfg   config.SamplingConfig
	log   logrus.FieldLogger
	sleep func(time.Duration)
}

// NewAcquirer creates an acquirer. A nil logger uses the standard logger.
func NewAcquirer(fe afe.Frontend, cond *Conditioner, cfg *config.Config, log logrus.FieldLogger) *Acquirer {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Acquirer{
		fe:    fe,
		cond:  cond,
		cfg:   cfg.Sampling,
		log:   log,
		sleep: time.Sleep,
	}
}

// SetSleep replaces the settle delay function (tests use a no-op).
func (a *Acquirer) SetSleep(fn func(time.Duration)) {
	a.sleep = fn
}

// Conditioner returns the conditioner used for conversions.
func (a *Acquirer) Conditioner() *Conditioner {
	return a.cond
}

// Average converts n samples of ch to millivolts and returns their integer
// mean. Negative counts contribute zero.
func (a *Acquirer) Average(ch afe.Channel, n int) (uint32, error) {
	if n <= 0 {
		n = 1 // No averaging if invalid
	}

	var sum uint64
	for i := 0; i < n; i++ {
		count, err := a.fe.Convert(ch)
		if err != nil {
			return 0, fmt.Errorf("convert %s: %w", ch, err)
		}
		sum += uint64(a.cond.RawToMillivolts(count))
	}

	return uint32(sum / uint64(n)), nil
}

// Read performs a regular acquisition of the analyte, battery and
// temperature channels with the sensor bias enabled.
func (a *Acquirer) Read() (Reading, error) {
	if err := a.fe.EnableBias(); err != nil {
		return Reading{}, fmt.Errorf("enable bias: %w", err)
	}
	defer a.disableBias()

	a.sleep(a.cfg.BiasSettle)

	var r Reading
	var err error
	n := a.cfg.RegularSamples
	if r.PhMV, err = a.Average(afe.Analyte, n); err != nil {
		return Reading{}, err
	}
	if r.BattMV, err = a.Average(afe.Battery, n); err != nil {
		return Reading{}, err
	}
	if r.TempMV, err = a.Average(afe.Temperature, n); err != nil {
		return Reading{}, err
	}

	a.log.WithFields(logrus.Fields{
		"ph_mv":   r.PhMV,
		"batt_mv": r.BattMV,
		"temp_mv": r.TempMV,
	}).Debug("acquired reading")

	return r, nil
}

// ReadCalibration performs the long averaged acquisition used for a
// calibration point and returns analyte and temperature millivolts.
func (a *Acquirer) ReadCalibration() (phMV, tempMV uint32, err error) {
	if err := a.fe.EnableBias(); err != nil {
		return 0, 0, fmt.Errorf("enable bias: %w", err)
	}
	defer a.disableBias()

	a.sleep(a.cfg.CalibrationSettle)

	n := a.cfg.CalibrationSamples
	if phMV, err = a.Average(afe.Analyte, n); err != nil {
		return 0, 0, err
	}
	if tempMV, err = a.Average(afe.Temperature, n); err != nil {
		return 0, 0, err
	}
	return phMV, tempMV, nil
}

func (a *Acquirer) disableBias() {
	if err := a.fe.DisableBias(); err != nil {
		a.log.WithError(err).Warn("failed to disable bias")
	}
}
