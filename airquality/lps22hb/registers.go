// Package lps22hb drives an ST LPS22HB barometer in one-shot mode over I2C.
// The datasheet can be found here: https://www.st.com/resource/en/datasheet/lps22hb.pdf
package lps22hb

const (
	Address          uint16 = 0x5C // SA0 low
	AlternateAddress uint16 = 0x5D // SA0 high
)

const (
	RegWhoAmI     byte = 0x0F // device identification
	RegCtrl1      byte = 0x10 // output data rate, filter, block data update
	RegCtrl2      byte = 0x11 // boot, software reset, one-shot
	RegStatus     byte = 0x27 // data available flags
	RegPressOutXL byte = 0x28 // pressure output, low byte
	RegPressOutL  byte = 0x29 // pressure output, mid byte
	RegPressOutH  byte = 0x2A // pressure output, high byte
)

const (
	ChipID byte = 0xB1 // expected WHO_AM_I answer

	Ctrl1BlockDataUpdate byte = 0x02 // outputs not updated until MSB and LSB are read; ODR 0 = one-shot
	Ctrl2SoftReset       byte = 0x04 // self-clearing once the reset has completed
	Ctrl2OneShot         byte = 0x01 // starts a single conversion

	StatusPressureReady byte = 0x01
)

// one LSB of the 24-bit pressure output is 1/4096 hPa
const pressureScale = 4096.0
