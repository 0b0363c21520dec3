package main

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/alepar/aqmonitor/airquality"
	"github.com/alepar/aqmonitor/airquality/collect"
	"github.com/alepar/aqmonitor/airquality/lps22hb"
	"github.com/alepar/aqmonitor/airquality/pms"
	"github.com/alepar/aqmonitor/airquality/shtc3"
	"github.com/alepar/aqmonitor/airquality/ubidots"
	"github.com/alepar/aqmonitor/airquality/waveplus"
	"github.com/alepar/aqmonitor/router"
)

// CLI args
var (
	serialPort     = flag.String("serial-port", "/dev/ttyS0", "serial port of the particulate sensor")
	baudRate       = flag.Int("baud", 9600, "particulate sensor baud rate")
	serialTimeout  = flag.Duration("serial-timeout", 2*time.Second, "serial read timeout")
	verifyChecksum = flag.Bool("verify-checksum", true, "reject particulate frames with a bad length or checksum")

	i2cBus       = flag.String("i2c-bus", "", "I2C bus name, empty for the first one available")
	lpsAddr      = flag.Uint("lps-addr", uint(lps22hb.Address), "LPS22HB I2C address")
	resetPolls   = flag.Int("reset-polls", 100, "max reads waiting for the barometer reset to complete")
	readyPolls   = flag.Int("ready-polls", 1, "times the barometer data-ready bit is checked per cycle")
	readyPollInt = flag.Duration("ready-poll-int", 10*time.Millisecond, "interval between data-ready checks")

	thermo       = flag.String("thermo", "shtc3", "temperature/humidity source: shtc3 or waveplus")
	shtc3Addr    = flag.Uint("shtc3-addr", uint(shtc3.Address), "SHTC3 I2C address")
	waveplusAddr = flag.String("waveplus-addr", "", "Wave Plus BLE address, scanned for when empty")
	waveplusSN   = flag.String("waveplus-serial", "", "Wave Plus serial number to pick when scanning")
	scanDuration = flag.Duration("scan-dur", 5000*time.Millisecond, "BLE scan and connect duration")
	retries      = flag.Int("retries", 5, "max number of tries in case of BLE errors")

	ubidotsURL      = flag.String("ubidots-url", ubidots.DefaultBaseURL, "telemetry API base url")
	deviceLabel     = flag.String("device", "", "telemetry device label")
	token           = flag.String("token", "", "telemetry API token, defaults to $UBIDOTS_TOKEN")
	publishAttempts = flag.Int("publish-attempts", 5, "max publish attempts per cycle")
	publishDelay    = flag.Duration("publish-delay", time.Second, "delay between publish attempts")

	readInterval = flag.Duration("read-int", 60*time.Second, "time interval between acquisition cycles")
	once         = flag.Bool("once", false, "run a single acquisition cycle and exit")
	listenAddr   = flag.String("listen-address", ":8080", "The address to listen on for HTTP requests.")
	logLevel     = flag.String("log-level", "info", "log level")
)

// metrics to expose to Prometheus
var (
	gauges = map[string]*prometheus.GaugeVec{
		airquality.LabelPM25:        newGauge("aq_pm25", "Particles >= 2.5um (units: count per 0.1L)"),
		airquality.LabelPM10:        newGauge("aq_pm10", "Particles >= 10um (units: count per 0.1L)"),
		airquality.LabelAQI25:       newGauge("aq_aqi25", "PM2.5 air quality index"),
		airquality.LabelAQI10:       newGauge("aq_aqi10", "PM10 air quality index"),
		airquality.LabelTemperature: newGauge("aq_temperature", "Air Temperature (units: degrees Celsius)"),
		airquality.LabelPressure:    newGauge("aq_pressure", "Atmospheric Pressure (units: hPa)"),
		airquality.LabelHumidity:    newGauge("aq_humidity", "Humidity (units: % of relative Humidity)"),
	}
	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aq_cycles_total",
			Help: "Acquisition cycles by result",
		},
		[]string{"result"},
	)
)

func newGauge(name string, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		[]string{"device"},
	)
}

func init() {
	for _, g := range gauges {
		prometheus.MustRegister(g)
	}
	prometheus.MustRegister(cycles)

	// Add Go module build info.
	prometheus.MustRegister(prometheus.NewBuildInfoCollector())

	//logging
	formatter := &log.TextFormatter{
		FullTimestamp: true,
	}
	log.SetFormatter(formatter)
}

func main() {
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level: %s", err)
	}
	log.SetLevel(level)

	if *token == "" {
		*token = os.Getenv("UBIDOTS_TOKEN")
	}
	if *deviceLabel == "" || *token == "" {
		log.Fatal("both -device and a token (-token or UBIDOTS_TOKEN) are required")
	}

	collector, cleanup, err := setupSensors()
	if err != nil {
		log.Fatalf("failed to set up sensors: %s", err)
	}
	defer cleanup()

	publisher := ubidots.New(*ubidotsURL, *deviceLabel, *token)
	publisher.Attempts = *publishAttempts
	publisher.Delay = *publishDelay

	if *once {
		runCycle(collector, publisher)
		return
	}

	go func() {
		r := router.SetupRouter(chi.NewRouter(), prometheus.DefaultGatherer)
		log.Panic(r.Start(*listenAddr))
	}()

	ticker := time.NewTicker(*readInterval)
	defer ticker.Stop()
	for {
		runCycle(collector, publisher)
		<-ticker.C
	}
}

func setupSensors() (*collect.Collector, func(), error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize periph host")
	}

	bus, err := i2creg.Open(*i2cBus)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open I2C bus")
	}

	port, err := pms.Open(*serialPort, pms.PortOptions{BaudRate: *baudRate, ReadTimeout: *serialTimeout})
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	decoder := pms.NewDecoder(port)
	decoder.VerifyChecksum = *verifyChecksum

	closers := []func() error{port.Close, bus.Close}
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Errorf("failed to close: %s", err)
			}
		}
	}

	climate, err := setupThermoHygrometer(bus)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if *thermo == "waveplus" {
		closers = append(closers, ble.Stop)
	}

	return &collect.Collector{
		Particulates:      decoder,
		Climate:           climate,
		OpenPressure:      pressureOpener(bus),
		ReadyPolls:        *readyPolls,
		ReadyPollInterval: *readyPollInt,
	}, cleanup, nil
}

// pressureOpener brings the barometer up from reset on every cycle.
func pressureOpener(bus i2c.Bus) func() (airquality.PressureSensor, error) {
	opts := &lps22hb.Opts{Addr: uint16(*lpsAddr), ResetPolls: *resetPolls}
	return func() (airquality.PressureSensor, error) {
		return lps22hb.New(bus, opts)
	}
}

func setupThermoHygrometer(bus i2c.Bus) (airquality.ThermoHygrometer, error) {
	switch *thermo {
	case "shtc3":
		dev := shtc3.New(bus, uint16(*shtc3Addr))
		dev.MaxAge = *readInterval / 2
		return dev, nil
	case "waveplus":
		d, err := linux.NewDevice()
		if err != nil {
			return nil, errors.Wrap(err, "failed to open ble")
		}
		ble.SetDefaultDevice(d)

		addr := *waveplusAddr
		if addr == "" {
			scanner := waveplus.BleScanner{ScanDuration: *scanDuration, Retries: *retries}
			if addr, err = scanner.Find(*waveplusSN); err != nil {
				_ = ble.Stop()
				return nil, err
			}
		}
		return &waveplus.BleSensor{
			Addr:           addr,
			ConnectTimeout: *scanDuration,
			Retries:        *retries,
			MaxAge:         *readInterval / 2,
		}, nil
	default:
		return nil, errors.Errorf("unknown thermo-hygrometer %q", *thermo)
	}
}

func runCycle(collector *collect.Collector, publisher *ubidots.Client) {
	logger := log.WithField("cycle", uuid.New().String())
	started := time.Now()

	payload, err := collector.BuildPayload(logger)
	if err != nil {
		logger.Errorf("acquisition failed: %s", err)
		cycles.WithLabelValues("acquire_failed").Inc()
		return
	}

	for _, v := range payload.Variables() {
		gauges[v.Label].WithLabelValues(*deviceLabel).Set(v.Value)
	}
	logger.WithFields(log.Fields{
		airquality.LabelPM25:        payload.PM25,
		airquality.LabelPM10:        payload.PM10,
		airquality.LabelAQI25:       payload.AQI25,
		airquality.LabelAQI10:       payload.AQI10,
		airquality.LabelTemperature: strconv.FormatFloat(payload.Temperature, 'f', 2, 64),
		airquality.LabelPressure:    strconv.FormatFloat(payload.Pressure, 'f', 2, 64),
		airquality.LabelHumidity:    strconv.FormatFloat(payload.Humidity, 'f', 2, 64),
	}).Info("attempting to send data")

	if err := publisher.Publish(context.Background(), logger, payload); err != nil {
		logger.Errorf("could not send data, check the token and the network connection: %s", err)
		cycles.WithLabelValues("publish_failed").Inc()
		return
	}

	logger.Infof("request made properly, device updated in %s", time.Since(started).Round(time.Millisecond))
	cycles.WithLabelValues("ok").Inc()
}
