package airquality

// Variable labels as known by the telemetry device.
const (
	LabelPM25        = "pm-2.5"
	LabelPM10        = "pm-10"
	LabelAQI25       = "aqi-2.5"
	LabelAQI10       = "aqi-10"
	LabelTemperature = "temperature"
	LabelPressure    = "pressure"
	LabelHumidity    = "humidity"
)

// Payload is one cycle's snapshot. The key set is fixed: every field is always encoded,
// in declaration order, even when a sensor contributed a sentinel.
type Payload struct {
	PM25        float64 `json:"pm-2.5"`
	PM10        float64 `json:"pm-10"`
	AQI25       float64 `json:"aqi-2.5"`
	AQI10       float64 `json:"aqi-10"`
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Humidity    float64 `json:"humidity"`
}

type Variable struct {
	Label string
	Value float64
}

// Variables lists the payload entries in wire order.
func (p Payload) Variables() []Variable {
	return []Variable{
		{LabelPM25, p.PM25},
		{LabelPM10, p.PM10},
		{LabelAQI25, p.AQI25},
		{LabelAQI10, p.AQI10},
		{LabelTemperature, p.Temperature},
		{LabelPressure, p.Pressure},
		{LabelHumidity, p.Humidity},
	}
}
