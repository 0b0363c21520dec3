// Package waveplus reads the climate channels of an Airthings Wave Plus over BLE, as an
// alternative temperature and humidity source.
package waveplus

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const sensorServiceUuidStr = "b42e1c08ade711e489d3123b93f75cba"
const sensorCharacteristicUuidStr = "b42e2a68ade711e489d3123b93f75cba"

var (
	sensorServiceUuid        = ble.MustParse(sensorServiceUuidStr)
	sensorCharacteristicUuid = ble.MustParse(sensorCharacteristicUuidStr)
)

// Values is one decoded sensor record.
type Values struct {
	// units: % of relative Humidity
	Humidity float64

	// units: degrees Celsius
	Temperature float64

	// units: hPa
	AtmPressure float64
}

// BleSensor talks to one Wave Plus. A record is fetched at most once per MaxAge, so that
// reading temperature and then humidity within a cycle costs a single connection.
type BleSensor struct {
	Addr           string
	ConnectTimeout time.Duration
	Retries        int
	MaxAge         time.Duration

	mu      sync.Mutex
	last    Values
	fetched time.Time
}

func (sensor *BleSensor) Temperature() (float64, error) {
	v, err := sensor.values()
	return v.Temperature, err
}

func (sensor *BleSensor) Humidity() (float64, error) {
	v, err := sensor.values()
	return v.Humidity, err
}

func (sensor *BleSensor) values() (Values, error) {
	sensor.mu.Lock()
	defer sensor.mu.Unlock()

	if !sensor.fetched.IsZero() && time.Since(sensor.fetched) < sensor.MaxAge {
		return sensor.last, nil
	}

	v, err := sensor.Receive()
	if err != nil {
		return Values{}, err
	}
	sensor.last, sensor.fetched = v, time.Now()
	return v, nil
}

func (sensor *BleSensor) Receive() (Values, error) {
	var values Values
	// self-pacing interval between attempts in an attempt to fix freezes
	err := retry(sensor.Retries, sensor.ConnectTimeout, "receive", func() error {
		var err error
		values, err = sensor.receive()
		return err
	})
	if err != nil {
		return Values{}, err
	}
	return values, nil
}

// retry calls fn up to tries times, and at least once, pausing between failed calls.
func retry(tries int, pause time.Duration, what string, fn func() error) error {
	if tries < 1 {
		tries = 1
	}

	var err error
	for i := 0; i < tries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		log.Errorf("retrying error in %s: %s", what, err)
		if i < tries-1 {
			time.Sleep(pause)
		}
	}
	return errors.Wrapf(err, "all retries to %s failed", what)
}

func (sensor *BleSensor) receive() (Values, error) {
	filter := func(a ble.Advertisement) bool {
		return strings.EqualFold(a.Addr().String(), sensor.Addr)
	}

	log.Debugf("connecting to wave plus %s", sensor.Addr)
	ctx := ble.WithSigHandler(context.WithTimeout(context.Background(), sensor.ConnectTimeout))
	cln, err := ble.Connect(ctx, filter)
	if err != nil {
		return Values{}, errors.Wrap(err, "couldn't connect to ble")
	}

	// The peripheral may drop the connection on its own, so wait for the disconnect in
	// the background rather than assuming our cancel is what ends it.
	done := make(chan struct{})
	go func() {
		<-cln.Disconnected()
		log.Debugf("device disconnected")
		close(done)
	}()
	defer func() {
		_ = cln.CancelConnection()
		<-done
	}()

	services, err := cln.DiscoverServices([]ble.UUID{sensorServiceUuid})
	if err != nil {
		return Values{}, errors.Wrap(err, "couldn't discover services")
	}
	if len(services) == 0 {
		return Values{}, errors.New("did not find expected sensor service")
	}

	characteristics, err := cln.DiscoverCharacteristics([]ble.UUID{sensorCharacteristicUuid}, services[0])
	if err != nil {
		return Values{}, errors.Wrap(err, "couldn't discover characteristic")
	}
	if len(characteristics) == 0 {
		return Values{}, errors.New("did not find expected characteristic")
	}

	sensorBytes, err := cln.ReadCharacteristic(characteristics[0])
	if err != nil {
		return Values{}, errors.Wrap(err, "failed to read characteristic value")
	}

	return decode(sensorBytes)
}

// rawValues mirrors the characteristic layout, little endian.
type rawValues struct {
	Version     uint8
	Humidity    uint8
	AmbientLow  uint8
	AmbientHigh uint8
	RadonShort  uint16
	RadonLong   uint16
	Temperature uint16
	AtmPressure uint16
	Co2Level    uint16
	VocLevel    uint16
	Reserved1   uint16
	Reserved2   uint16
}

func decode(b []byte) (Values, error) {
	var raw rawValues
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &raw); err != nil {
		return Values{}, errors.Wrapf(err, "short sensor record (%d bytes)", len(b))
	}

	return Values{
		Humidity:    float64(raw.Humidity) / 2.0,
		Temperature: float64(raw.Temperature) / 100.0,
		AtmPressure: float64(raw.AtmPressure) / 50.0,
	}, nil
}
