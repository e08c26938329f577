//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 600 // Internal reference in millivolts
	ADC_RESOLUTION   = 12  // ADC resolution in bits (12-bit = 0-4095)

	// Front end pins
	PIN_ANALYTE     = machine.A1 // AIN1, ISFET output
	PIN_BATTERY     = machine.A2 // AIN2, battery divider
	PIN_TEMPERATURE = machine.A3 // AIN3, thermistor divider
	PIN_BIAS        = machine.D7 // Sensor bias enable
	PIN_POWER_HOLD  = machine.D8 // Keeps the regulator on while high

	// Serial configuration
	// Records are 24 bytes at most and one is sent per transmit-complete,
	// 115200 leaves ample headroom for a replay of 500 records.
	UART_BAUD_RATE = 115200

	// Main loop poll interval
	POLL_INTERVAL_MS = 1
)
