package airquality

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadEncodesSevenKeysInOrder(t *testing.T) {
	p := Payload{PM25: 12, PM10: 40, AQI25: 50, AQI10: 37, Temperature: 21.5, Humidity: 40.25}

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t,
		`{"pm-2.5":12,"pm-10":40,"aqi-2.5":50,"aqi-10":37,"temperature":21.5,"pressure":0,"humidity":40.25}`,
		string(b))

	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Len(t, decoded, 7)
	assert.Contains(t, decoded, LabelPressure)
}

func TestVariablesFollowWireOrder(t *testing.T) {
	vars := Payload{Pressure: 1013.25}.Variables()

	labels := make([]string, 0, len(vars))
	for _, v := range vars {
		labels = append(labels, v.Label)
	}
	assert.Equal(t, []string{
		LabelPM25, LabelPM10, LabelAQI25, LabelAQI10, LabelTemperature, LabelPressure, LabelHumidity,
	}, labels)
	assert.Equal(t, 1013.25, vars[5].Value)
}
