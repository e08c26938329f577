package sample

import (
	"github.com/chewxy/math32"
	"github.com/itohio/goph/pkg/config"
)

const kelvinOffset = 273.15

// Reading represents one acquisition cycle in millivolts. PhCal is only
// meaningful when Calibrated is set.
type Reading struct {
	PhMV       uint32
	BattMV     uint32
	TempMV     uint32
	PhCal      float32
	Calibrated bool
}

// Conditioner converts raw ADC counts and millivolts into physical units.
type Conditioner struct {
	adc     config.ADCConfig
	therm   config.ThermistorConfig
	battery config.BatteryConfig
	dep     float32
}

// NewConditioner creates a conditioner from the hardware constants in cfg.
func NewConditioner(cfg *config.Config) *Conditioner {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Conditioner{
		adc:     cfg.ADC,
		therm:   cfg.Thermistor,
		battery: cfg.Battery,
		dep:     cfg.Sampling.TemperatureDependence,
	}
}

// RawToMillivolts converts a raw ADC count to millivolts.
// Formula: mv = count * vref / resolution * prescale
func (c *Conditioner) RawToMillivolts(count int16) uint32 {
	if count < 0 {
		return 0
	}
	n := int(count)
	if n > c.adc.MaxCount {
		n = c.adc.MaxCount
	}
	return uint32(float32(n) * c.adc.ReferenceMV / c.adc.Resolution * c.adc.Prescale)
}

// ThermistorResistance inverts the thermistor divider. Readings at or near
// the supply rail and implausibly low resistances map to the floor resistance.
func (c *Conditioner) ThermistorResistance(mv uint32) float32 {
	v := float32(mv)
	if v >= c.therm.SupplyMV-1 {
		return c.therm.FloorResistance
	}
	r := v * c.therm.SeriesResistance / (c.therm.SupplyMV - v)
	if r < c.therm.FloorResistance {
		return c.therm.FloorResistance
	}
	return r
}

// Celsius converts the thermistor channel millivolts to degrees Celsius,
// rounded half-up to 0.1 °C.
func (c *Conditioner) Celsius(mv uint32) float32 {
	r := c.ThermistorResistance(mv)
	t0 := c.therm.NominalCelsius + kelvinOffset
	k := c.therm.Beta * t0 / (c.therm.Beta + t0*math32.Log(r/c.therm.NominalResistance))
	return roundTenths(k - kelvinOffset)
}

// Compensate adjusts analyte millivolts for the difference between the
// reference temperature and the temperature measured with the reading.
func (c *Conditioner) Compensate(rawMV, tempMV uint32, refCelsius float32) uint32 {
	diff := (refCelsius - c.Celsius(tempMV)) * c.dep
	v := float32(rawMV) + roundHalfUp(diff)
	if v < 0 {
		return 0
	}
	return uint32(v)
}

// CompensateTo adjusts analyte millivolts measured at curCelsius to refCelsius.
func (c *Conditioner) CompensateTo(rawMV float32, curCelsius, refCelsius float32) float32 {
	v := rawMV + roundHalfUp((refCelsius-curCelsius)*c.dep)
	if v < 0 {
		return 0
	}
	return v
}

// BatteryMillivolts scales the divided battery reading back to the cell voltage.
// Formula: V_in = V_out * ((R1 + R2) / R2)
func (c *Conditioner) BatteryMillivolts(mv uint32) uint32 {
	if mv > c.battery.MaxInputMV {
		mv = c.battery.MaxInputMV
	}
	return mv * ((c.battery.R1 + c.battery.R2) / c.battery.R2)
}

func roundHalfUp(v float32) float32 {
	return math32.Floor(v + 0.5)
}

func roundTenths(v float32) float32 {
	return roundHalfUp(v*10) / 10
}
