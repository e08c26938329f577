package afe

import "errors"

// Channel selects the analog input converted by the front end.
type Channel uint8

const (
	// Analyte is the ISFET output (AIN2 on the reference board).
	Analyte Channel = iota
	// Battery is the divided battery voltage (AIN3).
	Battery
	// Temperature is the thermistor divider (AIN1).
	Temperature
)

func (c Channel) String() string {
	switch c {
	case Analyte:
		return "analyte"
	case Battery:
		return "battery"
	case Temperature:
		return "temperature"
	default:
		return "unknown"
	}
}

// ErrUnknownChannel is returned for a channel the front end does not wire.
var ErrUnknownChannel = errors.New("afe: unknown channel")

// Frontend defines the interface for analog front ends (real or mocked).
// Convert is synchronous; negative results are possible on single-ended
// inputs near ground and are clamped by the caller.
type Frontend interface {
	Convert(ch Channel) (int16, error)
	EnableBias() error
	DisableBias() error
}

// Ensure Mock implements Frontend.
var _ Frontend = (*Mock)(nil)
