package packet

import (
	"fmt"
	"strconv"
)

// Decoded is a record parsed back from the wire.
type Decoded struct {
	Index      int // -1 for plain records
	Value      float32
	Calibrated bool
	Celsius    float32
	BatteryMV  uint32
	RawMV      uint32
}

// ParseRecord decodes a 20-byte or 24-byte record.
func ParseRecord(b []byte) (Decoded, error) {
	d := Decoded{Index: -1}

	switch len(b) {
	case IndexedSize:
		if b[3] != ',' {
			return d, fmt.Errorf("%w: index separator", ErrMalformed)
		}
		idx, err := digits(b[0:3])
		if err != nil {
			return d, err
		}
		d.Index = int(idx)
		b = b[4:]
	case RecordSize:
	default:
		return d, fmt.Errorf("%w: record length %d", ErrMalformed, len(b))
	}

	if b[4] != ',' || b[9] != ',' || b[14] != ',' || b[19] != '\n' {
		return d, fmt.Errorf("%w: field separators", ErrMalformed)
	}

	var err error
	if string(b[0:4]) != "0000" {
		if d.Value, err = calibratedField(b[0:4]); err != nil {
			return d, err
		}
		d.Calibrated = true
	}
	if d.Celsius, err = temperatureField(b[5:9]); err != nil {
		return d, err
	}
	if d.BatteryMV, err = digits(b[10:14]); err != nil {
		return d, err
	}
	if d.RawMV, err = digits(b[15:19]); err != nil {
		return d, err
	}
	return d, nil
}

func calibratedField(f []byte) (float32, error) {
	switch {
	case f[1] == '.':
		// D.dd
		whole, err := digits(f[0:1])
		if err != nil {
			return 0, err
		}
		frac, err := digits(f[2:4])
		if err != nil {
			return 0, err
		}
		return float32(whole) + float32(frac)/100, nil
	case f[2] == '.':
		// DD.d with quarter units: 2 -> .25, 7 -> .75
		whole, err := digits(f[0:2])
		if err != nil {
			return 0, err
		}
		tenth, err := digits(f[3:4])
		if err != nil {
			return 0, err
		}
		frac := float32(tenth) / 10
		switch tenth {
		case 2:
			frac = 0.25
		case 7:
			frac = 0.75
		}
		return float32(whole) + frac, nil
	}
	return 0, fmt.Errorf("%w: calibrated field %q", ErrMalformed, f)
}

func temperatureField(f []byte) (float32, error) {
	if f[2] != '.' {
		return 0, fmt.Errorf("%w: temperature field %q", ErrMalformed, f)
	}
	whole, err := digits(f[0:2])
	if err != nil {
		return 0, err
	}
	tenth, err := digits(f[3:4])
	if err != nil {
		return 0, err
	}
	return float32(whole) + float32(tenth)/10, nil
}

func digits(f []byte) (uint32, error) {
	v, err := strconv.ParseUint(string(f), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: digits %q", ErrMalformed, f)
	}
	return uint32(v), nil
}
