package airquality

import "github.com/pkg/errors"

// ErrNotReady is returned when a sensor has no completed conversion at check time.
// It is not fatal: the cycle carries on with a sentinel value.
var ErrNotReady = errors.New("sensor data not ready")

type ParticulateReading struct {
	// particles >= 2.5um per 0.1L, used as the PM2.5 concentration proxy
	PM25 uint16

	// particles >= 10um per 0.1L, used as the PM10 concentration proxy
	PM10 uint16
}

type ParticulateSensor interface {
	ReadParticulates() (ParticulateReading, error)
}

// PressureSensor is a one-shot barometer. TriggerOneShot must be called before IsReady
// and ReadPressure.
type PressureSensor interface {
	TriggerOneShot() error
	IsReady() (bool, error)

	// units: hPa
	ReadPressure() (float64, error)
}

type ThermoHygrometer interface {
	// units: degrees Celsius
	Temperature() (float64, error)

	// units: % of relative Humidity
	Humidity() (float64, error)
}
