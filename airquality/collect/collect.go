// Package collect runs one acquisition cycle across all sensors and assembles the payload.
package collect

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/aqmonitor/airquality"
	"github.com/alepar/aqmonitor/airquality/aqi"
)

// PressureSentinel stands in for the pressure when the barometer had no conversion ready.
const PressureSentinel = 0.0

type Collector struct {
	Particulates airquality.ParticulateSensor
	Climate      airquality.ThermoHygrometer

	// OpenPressure brings up a freshly reset barometer; it is called once per cycle.
	OpenPressure func() (airquality.PressureSensor, error)

	// ReadyPolls is how many times the data-ready bit is checked, 1 being a single check.
	ReadyPolls        int
	ReadyPollInterval time.Duration
}

// BuildPayload runs one cycle. Serial and bus failures abort the cycle; a barometer that
// is not ready yet, a failing thermo-hygrometer and off-scale AQI values only degrade
// the affected fields.
func (c *Collector) BuildPayload(logger *log.Entry) (airquality.Payload, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	// trigger first so the conversion runs while we wait on the serial line
	barometer, err := c.OpenPressure()
	if err != nil {
		return airquality.Payload{}, errors.Wrap(err, "failed to bring up barometer")
	}
	if err := barometer.TriggerOneShot(); err != nil {
		return airquality.Payload{}, errors.Wrap(err, "failed to trigger pressure conversion")
	}

	pm, err := c.Particulates.ReadParticulates()
	if err != nil {
		return airquality.Payload{}, errors.Wrap(err, "failed to read particulate frame")
	}

	aqi25, err := index(logger, aqi.PM25, pm.PM25)
	if err != nil {
		return airquality.Payload{}, err
	}
	aqi10, err := index(logger, aqi.PM10, pm.PM10)
	if err != nil {
		return airquality.Payload{}, err
	}

	pressure, err := c.readPressure(barometer)
	switch {
	case errors.Is(err, airquality.ErrNotReady):
		logger.Warnf("pressure not ready, reporting %v", PressureSentinel)
		pressure = PressureSentinel
	case err != nil:
		return airquality.Payload{}, errors.Wrap(err, "failed to read pressure")
	}

	temperature, err := c.Climate.Temperature()
	if err != nil {
		logger.Warnf("failed to read temperature: %s", err)
		temperature = 0
	}
	humidity, err := c.Climate.Humidity()
	if err != nil {
		logger.Warnf("failed to read humidity: %s", err)
		humidity = 0
	}

	return airquality.Payload{
		PM25:        float64(pm.PM25),
		PM10:        float64(pm.PM10),
		AQI25:       float64(aqi25),
		AQI10:       float64(aqi10),
		Temperature: temperature,
		Pressure:    pressure,
		Humidity:    humidity,
	}, nil
}

func (c *Collector) readPressure(barometer airquality.PressureSensor) (float64, error) {
	polls := c.ReadyPolls
	if polls < 1 {
		polls = 1
	}

	for i := 0; i < polls; i++ {
		if i > 0 {
			time.Sleep(c.ReadyPollInterval)
		}
		ready, err := barometer.IsReady()
		if err != nil {
			return 0, err
		}
		if ready {
			return barometer.ReadPressure()
		}
	}
	return 0, airquality.ErrNotReady
}

func index(logger *log.Entry, p aqi.Pollutant, concentration uint16) (int, error) {
	idx, err := aqi.ToAQI(p, float64(concentration))
	if errors.Is(err, aqi.ErrOutOfRange) {
		logger.Warnf("%s concentration %d is off the scale, reporting %d", p, concentration, idx)
		return idx, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to compute %s index", p)
	}
	return idx, nil
}
