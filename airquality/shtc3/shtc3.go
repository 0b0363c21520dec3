// Package shtc3 reads temperature and relative humidity from a Sensirion SHTC3.
package shtc3

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

const Address uint16 = 0x70

var (
	cmdWakeup  = []byte{0x35, 0x17}
	cmdSleep   = []byte{0xB0, 0x98}
	cmdMeasure = []byte{0x78, 0x66} // normal mode, temperature first, no clock stretching
)

var ErrCRC = errors.New("shtc3: crc mismatch")

// Dev is an SHTC3 on an I2C bus. The sensor is woken for every measurement and put back
// to sleep afterwards. Temperature and Humidity share a measurement younger than MaxAge.
type Dev struct {
	mu sync.Mutex
	d  i2c.Dev

	WakeupDelay  time.Duration
	MeasureDelay time.Duration
	MaxAge       time.Duration

	temperature, humidity float64
	measured              time.Time
}

func New(bus i2c.Bus, addr uint16) *Dev {
	return &Dev{
		d:            i2c.Dev{Bus: bus, Addr: addr},
		WakeupDelay:  time.Millisecond,
		MeasureDelay: 13 * time.Millisecond,
		MaxAge:       time.Second,
	}
}

func (d *Dev) String() string {
	return fmt.Sprintf("SHTC3{%s}", &d.d)
}

// Sense performs one measurement. Temperature is in degrees Celsius, humidity in %RH.
func (d *Dev) Sense() (temperature, humidity float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sense()
}

func (d *Dev) sense() (temperature, humidity float64, err error) {
	if err = d.d.Tx(cmdWakeup, nil); err != nil {
		return 0, 0, errors.Wrap(err, "shtc3: wakeup failed")
	}
	time.Sleep(d.WakeupDelay)

	if err = d.d.Tx(cmdMeasure, nil); err != nil {
		return 0, 0, errors.Wrap(err, "shtc3: measure command failed")
	}
	time.Sleep(d.MeasureDelay)

	var buf [6]byte
	if err = d.d.Tx(nil, buf[:]); err != nil {
		return 0, 0, errors.Wrap(err, "shtc3: failed to read measurement")
	}

	if err = d.d.Tx(cmdSleep, nil); err != nil {
		return 0, 0, errors.Wrap(err, "shtc3: sleep command failed")
	}

	if crc8(buf[0:2]) != buf[2] || crc8(buf[3:5]) != buf[5] {
		return 0, 0, ErrCRC
	}

	rawT := binary.BigEndian.Uint16(buf[0:2])
	rawRH := binary.BigEndian.Uint16(buf[3:5])
	temperature = -45 + 175*float64(rawT)/65536
	humidity = 100 * float64(rawRH) / 65536
	d.temperature, d.humidity, d.measured = temperature, humidity, time.Now()
	return temperature, humidity, nil
}

// latest returns the cached measurement while it is fresh and takes a new one otherwise.
func (d *Dev) latest() (temperature, humidity float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.measured.IsZero() && time.Since(d.measured) < d.MaxAge {
		return d.temperature, d.humidity, nil
	}
	return d.sense()
}

func (d *Dev) Temperature() (float64, error) {
	t, _, err := d.latest()
	return t, err
}

func (d *Dev) Humidity() (float64, error) {
	_, h, err := d.latest()
	return h, err
}

// crc8 is the Sensirion checksum: polynomial 0x31, initial value 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
