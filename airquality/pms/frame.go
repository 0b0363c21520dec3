// Package pms reads particulate matter frames from a Plantower PMS5003 style sensor
// streaming over a serial line.
package pms

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/alepar/aqmonitor/airquality"
)

const (
	FrameLen = 32

	startByte1 = 0x42
	startByte2 = 0x4d

	// declared length of everything after the length field
	dataLen = FrameLen - 4
)

var (
	ErrChecksumMismatch = errors.New("pms: frame checksum mismatch")
	ErrBadLength        = errors.New("pms: unexpected frame length")
)

// Frame is a complete frame including the two start bytes.
type Frame [FrameLen]byte

// Reading holds every channel of a frame.
type Reading struct {
	// units: ug/m3, factory (CF=1) calibration
	PM1Std  uint16
	PM25Std uint16
	PM10Std uint16

	// units: ug/m3, atmospheric environment
	PM1Atm  uint16
	PM25Atm uint16
	PM10Atm uint16

	// units: particles beyond the size in 0.1L of air
	Gt03um  uint16
	Gt05um  uint16
	Gt10um  uint16
	Gt25um  uint16
	Gt50um  uint16
	Gt100um uint16
}

func (f *Frame) word(offset int) uint16 {
	return binary.BigEndian.Uint16(f[offset : offset+2])
}

func (f *Frame) Length() uint16 {
	return f.word(2)
}

func (f *Frame) Checksum() uint16 {
	return f.word(30)
}

// Sum is the checksum the sensor should have sent: the sum of every byte before the
// checksum field.
func (f *Frame) Sum() uint16 {
	var sum uint16
	for _, b := range f[:30] {
		sum += uint16(b)
	}
	return sum
}

func (f *Frame) Validate() error {
	if f.Length() != dataLen {
		return errors.Wrapf(ErrBadLength, "got %d, want %d", f.Length(), dataLen)
	}
	if f.Checksum() != f.Sum() {
		return errors.Wrapf(ErrChecksumMismatch, "got %#04x, want %#04x", f.Checksum(), f.Sum())
	}
	return nil
}

func (f *Frame) Reading() Reading {
	return Reading{
		PM1Std:  f.word(4),
		PM25Std: f.word(6),
		PM10Std: f.word(8),
		PM1Atm:  f.word(10),
		PM25Atm: f.word(12),
		PM10Atm: f.word(14),
		Gt03um:  f.word(16),
		Gt05um:  f.word(18),
		Gt10um:  f.word(20),
		Gt25um:  f.word(22),
		Gt50um:  f.word(24),
		Gt100um: f.word(26),
	}
}

// Particulates maps the >=2.5um and >=10um size bins onto the PM2.5 and PM10 channels.
func (f *Frame) Particulates() airquality.ParticulateReading {
	return airquality.ParticulateReading{
		PM25: f.word(22),
		PM10: f.word(26),
	}
}
