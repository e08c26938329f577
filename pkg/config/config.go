package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policies for the store-and-forward buffer.
const (
	OverflowDropOldest = "drop_oldest"
	OverflowDropNewest = "drop_newest"
)

// Config represents the device configuration.
type Config struct {
	ADC         ADCConfig         `yaml:"adc"`
	Thermistor  ThermistorConfig  `yaml:"thermistor"`
	Battery     BatteryConfig     `yaml:"battery"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	Buffer      BufferConfig      `yaml:"buffer"`
	Link        LinkConfig        `yaml:"link"`
	Flash       FlashConfig       `yaml:"flash"`
	Mock        MockConfig        `yaml:"mock"`
}

// ADCConfig contains the analog-to-digital converter scaling.
type ADCConfig struct {
	ReferenceMV float32 `yaml:"reference_mv"`
	Resolution  float32 `yaml:"resolution"` // Counts per full scale (4096 for 12-bit)
	Prescale    float32 `yaml:"prescale"`   // Inverse of the input gain (gain 1/5 -> 5)
	MaxCount    int     `yaml:"max_count"`
}

// ThermistorConfig contains the temperature channel divider and Beta model.
type ThermistorConfig struct {
	SeriesResistance  float32 `yaml:"series_resistance"`
	SupplyMV          float32 `yaml:"supply_mv"`
	FloorResistance   float32 `yaml:"floor_resistance"`
	NominalResistance float32 `yaml:"nominal_resistance"`
	NominalCelsius    float32 `yaml:"nominal_celsius"`
	Beta              float32 `yaml:"beta"`
}

// BatteryConfig contains the battery voltage divider.
type BatteryConfig struct {
	R1         uint32 `yaml:"r1"`
	R2         uint32 `yaml:"r2"`
	MaxInputMV uint32 `yaml:"max_input_mv"`
}

// SamplingConfig contains acquisition parameters.
type SamplingConfig struct {
	RegularSamples        int           `yaml:"regular_samples"`
	CalibrationSamples    int           `yaml:"calibration_samples"`
	BiasSettle            time.Duration `yaml:"bias_settle"`
	CalibrationSettle     time.Duration `yaml:"calibration_settle"`
	TemperatureDependence float32       `yaml:"temperature_dependence"` // mV per °C
	Compensate            bool          `yaml:"compensate"`             // Compensate regular readings
}

// CalibrationConfig contains calibration parameters.
type CalibrationConfig struct {
	DefaultSlope     float32       `yaml:"default_slope"`     // pH per mV, used before the first calibration
	DefaultIntercept float32       `yaml:"default_intercept"` // pH
	CompensatePoints bool          `yaml:"compensate_points"`
	DisconnectDelay  time.Duration `yaml:"disconnect_delay"` // Grace period after a completed session
}

// ProtocolConfig contains cadence and link teardown timing.
type ProtocolConfig struct {
	ClientInterval  time.Duration `yaml:"client_interval"`
	DemoInterval    time.Duration `yaml:"demo_interval"`
	DisconnectDelay time.Duration `yaml:"disconnect_delay"`
	RestoreState    bool          `yaml:"restore_state"`
}

// BufferConfig contains store-and-forward parameters.
type BufferConfig struct {
	Capacity int    `yaml:"capacity"`
	Overflow string `yaml:"overflow"`
}

// LinkConfig contains transport parameters.
type LinkConfig struct {
	Port          string        `yaml:"port"`
	BaudRate      int           `yaml:"baud_rate"`
	SendRetries   int           `yaml:"send_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// FlashConfig contains storage engine parameters.
type FlashConfig struct {
	Path            string `yaml:"path"` // SQLite file; empty keeps records in memory
	CapacityRecords int    `yaml:"capacity_records"`
}

// MockConfig contains simulated front end parameters.
type MockConfig struct {
	AnalyteMV     float32 `yaml:"analyte_mv"`
	BatteryMV     float32 `yaml:"battery_mv"`
	TemperatureMV float32 `yaml:"temperature_mv"`
	NoiseMV       float32 `yaml:"noise_mv"`
	DriftMV       float32 `yaml:"drift_mv"` // Slow analyte drift amplitude
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		ADC: ADCConfig{
			ReferenceMV: 600,
			Resolution:  4096,
			Prescale:    5,
			MaxCount:    4095,
		},
		Thermistor: ThermistorConfig{
			SeriesResistance:  10000,
			SupplyMV:          1800,
			FloorResistance:   500,
			NominalResistance: 10000,
			NominalCelsius:    25,
			Beta:              3380,
		},
		Battery: BatteryConfig{
			R1:         3000000,
			R2:         1000000,
			MaxInputMV: 3000,
		},
		Sampling: SamplingConfig{
			RegularSamples:        150,
			CalibrationSamples:    500,
			BiasSettle:            200 * time.Millisecond,
			CalibrationSettle:     400 * time.Millisecond,
			TemperatureDependence: 1.10,
			Compensate:            false,
		},
		Calibration: CalibrationConfig{
			DefaultSlope:     -0.0169, // ~ -59 mV/pH
			DefaultIntercept: 31.0,    // pH 7 at 1420 mV
			CompensatePoints: true,
			DisconnectDelay:  10 * time.Second,
		},
		Protocol: ProtocolConfig{
			ClientInterval:  10 * time.Second,
			DemoInterval:    1 * time.Second,
			DisconnectDelay: 1 * time.Second,
			RestoreState:    true,
		},
		Buffer: BufferConfig{
			Capacity: 500,
			Overflow: OverflowDropOldest,
		},
		Link: LinkConfig{
			Port:          "/dev/ttyACM0",
			BaudRate:      115200,
			SendRetries:   50,
			RetryInterval: 100 * time.Microsecond,
		},
		Flash: FlashConfig{
			Path:            "",
			CapacityRecords: 256,
		},
		Mock: MockConfig{
			AnalyteMV:     1420,
			BatteryMV:     750,
			TemperatureMV: 900, // 25 °C
			NoiseMV:       2,
			DriftMV:       10,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Buffer.Overflow {
	case OverflowDropOldest, OverflowDropNewest:
	default:
		return fmt.Errorf("invalid buffer overflow policy %q", c.Buffer.Overflow)
	}
	if c.Buffer.Capacity < 0 || c.Buffer.Capacity > 999 {
		return fmt.Errorf("buffer capacity %d out of range (0-999)", c.Buffer.Capacity)
	}
	if c.Battery.R2 == 0 {
		return fmt.Errorf("battery divider r2 must be non-zero")
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.ADC.ReferenceMV == 0 {
		c.ADC.ReferenceMV = def.ADC.ReferenceMV
	}
	if c.ADC.Resolution == 0 {
		c.ADC.Resolution = def.ADC.Resolution
	}
	if c.ADC.Prescale == 0 {
		c.ADC.Prescale = def.ADC.Prescale
	}
	if c.ADC.MaxCount == 0 {
		c.ADC.MaxCount = def.ADC.MaxCount
	}

	if c.Thermistor.SeriesResistance == 0 {
		c.Thermistor.SeriesResistance = def.Thermistor.SeriesResistance
	}
	if c.Thermistor.SupplyMV == 0 {
		c.Thermistor.SupplyMV = def.Thermistor.SupplyMV
	}
	if c.Thermistor.FloorResistance == 0 {
		c.Thermistor.FloorResistance = def.Thermistor.FloorResistance
	}
	if c.Thermistor.NominalResistance == 0 {
		c.Thermistor.NominalResistance = def.Thermistor.NominalResistance
	}
	if c.Thermistor.NominalCelsius == 0 {
		c.Thermistor.NominalCelsius = def.Thermistor.NominalCelsius
	}
	if c.Thermistor.Beta == 0 {
		c.Thermistor.Beta = def.Thermistor.Beta
	}

	if c.Battery.R1 == 0 {
		c.Battery.R1 = def.Battery.R1
	}
	if c.Battery.R2 == 0 {
		c.Battery.R2 = def.Battery.R2
	}
	if c.Battery.MaxInputMV == 0 {
		c.Battery.MaxInputMV = def.Battery.MaxInputMV
	}

	if c.Sampling.RegularSamples == 0 {
		c.Sampling.RegularSamples = def.Sampling.RegularSamples
	}
	if c.Sampling.CalibrationSamples == 0 {
		c.Sampling.CalibrationSamples = def.Sampling.CalibrationSamples
	}
	if c.Sampling.TemperatureDependence == 0 {
		c.Sampling.TemperatureDependence = def.Sampling.TemperatureDependence
	}

	if c.Calibration.DefaultSlope == 0 {
		c.Calibration.DefaultSlope = def.Calibration.DefaultSlope
	}
	if c.Calibration.DisconnectDelay == 0 {
		c.Calibration.DisconnectDelay = def.Calibration.DisconnectDelay
	}

	if c.Protocol.ClientInterval == 0 {
		c.Protocol.ClientInterval = def.Protocol.ClientInterval
	}
	if c.Protocol.DemoInterval == 0 {
		c.Protocol.DemoInterval = def.Protocol.DemoInterval
	}
	if c.Protocol.DisconnectDelay == 0 {
		c.Protocol.DisconnectDelay = def.Protocol.DisconnectDelay
	}

	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = def.Buffer.Capacity
	}
	if c.Buffer.Overflow == "" {
		c.Buffer.Overflow = def.Buffer.Overflow
	}

	if c.Link.Port == "" {
		c.Link.Port = def.Link.Port
	}
	if c.Link.BaudRate == 0 {
		c.Link.BaudRate = def.Link.BaudRate
	}
	if c.Link.SendRetries == 0 {
		c.Link.SendRetries = def.Link.SendRetries
	}
	if c.Link.RetryInterval == 0 {
		c.Link.RetryInterval = def.Link.RetryInterval
	}

	if c.Flash.CapacityRecords == 0 {
		c.Flash.CapacityRecords = def.Flash.CapacityRecords
	}
}
