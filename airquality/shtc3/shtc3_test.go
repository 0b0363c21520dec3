package shtc3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func measurement(rawT, rawRH uint16) []byte {
	t := []byte{byte(rawT >> 8), byte(rawT)}
	rh := []byte{byte(rawRH >> 8), byte(rawRH)}
	return []byte{t[0], t[1], crc8(t), rh[0], rh[1], crc8(rh)}
}

func newPlayback(reply []byte) *i2ctest.Playback {
	return &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: Address, W: cmdWakeup},
			{Addr: Address, W: cmdMeasure},
			{Addr: Address, R: reply},
			{Addr: Address, W: cmdSleep},
		},
	}
}

func newTestDev(bus *i2ctest.Playback) *Dev {
	dev := New(bus, Address)
	dev.WakeupDelay = 0
	dev.MeasureDelay = 0
	return dev
}

func TestCRCMatchesDatasheetExample(t *testing.T) {
	assert.Equal(t, byte(0x92), crc8([]byte{0xBE, 0xEF}))
}

func TestSense(t *testing.T) {
	bus := newPlayback(measurement(0x6666, 0x8000))

	temp, hum, err := newTestDev(bus).Sense()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, temp, 0.01)
	assert.InDelta(t, 50.0, hum, 0.01)
	require.NoError(t, bus.Close())
}

func TestTemperatureAndHumidityShareOneMeasurement(t *testing.T) {
	bus := newPlayback(measurement(0x4000, 0x4000))
	dev := newTestDev(bus)

	temp, err := dev.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, -1.25, temp, 0.01)

	hum, err := dev.Humidity()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, hum, 0.01)
	require.NoError(t, bus.Close())
}

func TestExpiredMeasurementIsRetaken(t *testing.T) {
	first, second := measurement(0x4000, 0x4000), measurement(0x6666, 0x8000)
	bus := &i2ctest.Playback{Ops: append(newPlayback(first).Ops, newPlayback(second).Ops...)}
	dev := newTestDev(bus)
	dev.MaxAge = 0

	temp, err := dev.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, -1.25, temp, 0.01)

	hum, err := dev.Humidity()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, hum, 0.01)
	require.NoError(t, bus.Close())
}

func TestFailedMeasurementIsNotCached(t *testing.T) {
	reply := measurement(0x6666, 0x8000)
	bad := append([]byte{}, reply...)
	bad[5] ^= 0x01
	bus := &i2ctest.Playback{Ops: append(newPlayback(bad).Ops, newPlayback(reply).Ops...)}
	dev := newTestDev(bus)

	_, err := dev.Temperature()
	assert.Equal(t, ErrCRC, err)

	hum, err := dev.Humidity()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, hum, 0.01)
	require.NoError(t, bus.Close())
}

func TestSenseRejectsCorruptedReply(t *testing.T) {
	reply := measurement(0x6666, 0x8000)
	reply[2] ^= 0x01

	_, _, err := newTestDev(newPlayback(reply)).Sense()
	assert.Equal(t, ErrCRC, err)
}

func TestSenseReportsBusErrors(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}

	_, _, err := newTestDev(bus).Sense()
	assert.Error(t, err)
}
