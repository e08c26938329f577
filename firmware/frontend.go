//go:build tinygo

package main

import (
	"machine"

	"github.com/itohio/goph/pkg/afe"
)

// adcFrontend samples the three front end channels with the machine ADC.
type adcFrontend struct {
	adc  map[afe.Channel]machine.ADC
	bias machine.Pin
}

func newFrontend() *adcFrontend {
	cfg := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}

	fe := &adcFrontend{
		adc: map[afe.Channel]machine.ADC{
			afe.Analyte:     {Pin: PIN_ANALYTE},
			afe.Battery:     {Pin: PIN_BATTERY},
			afe.Temperature: {Pin: PIN_TEMPERATURE},
		},
		bias: PIN_BIAS,
	}
	for _, a := range fe.adc {
		a.Pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		a.Configure(cfg)
	}
	fe.bias.Configure(machine.PinConfig{Mode: machine.PinOutput})
	fe.bias.Low()
	return fe
}

// Convert returns a 12-bit count. The machine package scales every
// resolution to 16 bits.
func (f *adcFrontend) Convert(ch afe.Channel) (int16, error) {
	a, ok := f.adc[ch]
	if !ok {
		return 0, afe.ErrUnknownChannel
	}
	return int16(a.Get() >> 4), nil
}

func (f *adcFrontend) EnableBias() error {
	f.bias.High()
	return nil
}

func (f *adcFrontend) DisableBias() error {
	f.bias.Low()
	return nil
}

// powerHold drives the regulator enable line.
type powerHold struct {
	pin machine.Pin
}

func newPowerHold() *powerHold {
	p := &powerHold{pin: PIN_POWER_HOLD}
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.High()
	return p
}

func (p *powerHold) Release() error {
	p.pin.Low()
	return nil
}
