package packet

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/itohio/goph/pkg/calib"
	"github.com/itohio/goph/pkg/sample"
)

const (
	// RecordSize is the length of a plain record.
	RecordSize = 20
	// IndexedSize is the length of a record with the replay index prefix.
	IndexedSize = RecordSize + 4

	maxRaw     = 3000
	maxBattery = 9999
)

// Encoder formats readings into fixed-width ASCII records:
//
//	[calibrated:4],[temperature:4],[battery:4],[raw:4]\n
type Encoder struct {
	cond *sample.Conditioner
}

// NewEncoder creates an encoder using cond for temperature and battery.
func NewEncoder(cond *sample.Conditioner) *Encoder {
	return &Encoder{cond: cond}
}

// Record encodes r into a 20-byte record.
func (e *Encoder) Record(r sample.Reading) [RecordSize]byte {
	var b [RecordSize]byte

	if r.Calibrated {
		putCalibrated(b[0:4], r.PhCal)
	} else {
		copy(b[0:4], "0000")
	}
	b[4] = ','
	putTemperature(b[5:9], e.cond.Celsius(r.TempMV))
	b[9] = ','
	battery := e.cond.BatteryMillivolts(r.BattMV)
	if battery > maxBattery {
		battery = maxBattery
	}
	putDigits(b[10:14], battery)
	b[14] = ','
	raw := r.PhMV
	if raw > maxRaw {
		raw = maxRaw
	}
	putDigits(b[15:19], raw)
	b[19] = '\n'

	return b
}

// Indexed encodes r with a 3-digit sequence prefix. Indices wrap at 1000.
func (e *Encoder) Indexed(index int, r sample.Reading) [IndexedSize]byte {
	var b [IndexedSize]byte
	putDigits(b[0:3], uint32(index%1000))
	b[3] = ','
	rec := e.Record(r)
	copy(b[4:], rec[:])
	return b
}

// Primer announces the number of buffered records that follow.
func Primer(count int) []byte {
	return []byte(fmt.Sprintf("TOTAL_%03d\n", count%1000))
}

// CalBegin acknowledges the start of a calibration session.
func CalBegin() []byte {
	return []byte("CALBEGIN\n")
}

// CalFail reports that a calibration session did not produce a model.
func CalFail() []byte {
	return []byte("CALFAIL\n")
}

// PointConfirm acknowledges a captured calibration point.
func PointConfirm(slot int, mv uint32, celsius float32) []byte {
	return []byte(fmt.Sprintf("PT%dCONF %d mV, %.1f C\n", slot, mv, celsius))
}

// CalReport summarises a completed calibration.
func CalReport(r calib.Report) []byte {
	return []byte(fmt.Sprintf("M=%.2f, B= %d, R=%.4f, C=%.2f \n", r.M, r.B, r.R, r.C))
}

// putCalibrated writes a calibrated value rounded to quarter units:
// D.dd below 10, DD.d below 100 and the 00.0 sentinel otherwise.
func putCalibrated(dst []byte, v float32) {
	if math32.IsNaN(v) || v < 0 || v > calib.MaxValue {
		copy(dst, "00.0")
		return
	}

	ip := math32.Floor(v)
	dec := math32.Floor(((v-ip)*100)/25+0.5) * 25
	if dec >= 100 {
		ip++
		dec = 0
	}
	whole := int(ip)
	frac := int(dec)

	switch {
	case whole < 10:
		dst[0] = byte('0' + whole)
		dst[1] = '.'
		dst[2] = byte('0' + frac/10)
		dst[3] = byte('0' + frac%10)
	case whole < 100:
		dst[0] = byte('0' + whole/10)
		dst[1] = byte('0' + whole%10)
		dst[2] = '.'
		dst[3] = byte('0' + frac/10)
	default:
		// Carry out of 99.75
		copy(dst, "99.7")
	}
}

// putTemperature writes DD.D, clamped to the printable range.
func putTemperature(dst []byte, celsius float32) {
	c := calib.Clamp(celsius)
	tenths := int(math32.Floor(c*10 + 0.5))
	if tenths > 999 {
		tenths = 999
	}
	dst[0] = byte('0' + tenths/100)
	dst[1] = byte('0' + tenths/10%10)
	dst[2] = '.'
	dst[3] = byte('0' + tenths%10)
}

// putDigits writes v zero-padded into dst, keeping the low digits.
func putDigits(dst []byte, v uint32) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte('0' + v%10)
		v /= 10
	}
}
