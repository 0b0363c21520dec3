// Package aqi converts pollutant concentrations into US EPA Air Quality Index values.
package aqi

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

// ErrOutOfRange is returned for concentrations beyond the highest published breakpoint.
// The index is clamped to the top of the scale in that case.
var ErrOutOfRange = errors.New("aqi: concentration beyond the highest breakpoint")

type Pollutant int

const (
	PM25 Pollutant = iota
	PM10
)

func (p Pollutant) String() string {
	switch p {
	case PM25:
		return "pm2.5"
	case PM10:
		return "pm10"
	default:
		return "unknown"
	}
}

// Breakpoint is one row of a published table: concentrations [CLow, CHigh] map
// linearly onto indexes [ILow, IHigh].
type Breakpoint struct {
	CLow, CHigh float64
	ILow, IHigh int
}

// Table is an ordered breakpoint table for a single pollutant.
type Table struct {
	Breakpoints []Breakpoint

	// concentrations are truncated to this many decimals before lookup
	Precision int

	curve interp.PiecewiseLinear
}

// EPA breakpoints (40 CFR Part 58, Appendix G, 2012 revision).
var (
	EPAPM25 = MustTable(1, []Breakpoint{
		{0.0, 12.0, 0, 50},
		{12.1, 35.4, 51, 100},
		{35.5, 55.4, 101, 150},
		{55.5, 150.4, 151, 200},
		{150.5, 250.4, 201, 300},
		{250.5, 350.4, 301, 400},
		{350.5, 500.4, 401, 500},
	})
	EPAPM10 = MustTable(0, []Breakpoint{
		{0, 54, 0, 50},
		{55, 154, 51, 100},
		{155, 254, 101, 150},
		{255, 354, 151, 200},
		{355, 424, 201, 300},
		{425, 504, 301, 400},
		{505, 604, 401, 500},
	})
)

// NewTable validates breakpoints and prepares the interpolation curve. Rows must be
// contiguous and increasing in both concentration and index.
func NewTable(precision int, breakpoints []Breakpoint) (*Table, error) {
	if len(breakpoints) == 0 {
		return nil, errors.New("aqi: empty breakpoint table")
	}

	xs := make([]float64, 0, 2*len(breakpoints))
	ys := make([]float64, 0, 2*len(breakpoints))
	for i, bp := range breakpoints {
		if bp.CHigh <= bp.CLow || bp.IHigh < bp.ILow {
			return nil, errors.Errorf("aqi: breakpoint %d is not increasing", i)
		}
		if i > 0 {
			prev := breakpoints[i-1]
			if bp.CLow <= prev.CHigh || bp.ILow <= prev.IHigh {
				return nil, errors.Errorf("aqi: breakpoint %d overlaps the previous one", i)
			}
		}
		xs = append(xs, bp.CLow, bp.CHigh)
		ys = append(ys, float64(bp.ILow), float64(bp.IHigh))
	}

	t := &Table{Breakpoints: breakpoints, Precision: precision}
	if err := t.curve.Fit(xs, ys); err != nil {
		return nil, errors.Wrap(err, "aqi: failed to fit breakpoints")
	}
	return t, nil
}

func MustTable(precision int, breakpoints []Breakpoint) *Table {
	t, err := NewTable(precision, breakpoints)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) truncate(c float64) float64 {
	scale := math.Pow10(t.Precision)
	// the epsilon keeps values like 35.4 from flooring to 35.3 through float error
	return math.Floor(c*scale+1e-9) / scale
}

// Index maps a concentration onto the index scale. Concentrations between two rows
// (e.g. 12.05 for PM2.5) are truncated into the lower row first, as the EPA procedure
// prescribes. Negative concentrations are treated as zero.
func (t *Table) Index(concentration float64) (int, error) {
	c := t.truncate(math.Max(concentration, 0))

	top := t.Breakpoints[len(t.Breakpoints)-1]
	if c > top.CHigh {
		return top.IHigh, errors.Wrapf(ErrOutOfRange, "%g > %g", c, top.CHigh)
	}

	return int(math.RoundToEven(t.curve.Predict(c))), nil
}

// ToAQI converts a concentration of the given pollutant using the EPA tables.
func ToAQI(p Pollutant, concentration float64) (int, error) {
	switch p {
	case PM25:
		return EPAPM25.Index(concentration)
	case PM10:
		return EPAPM10.Index(concentration)
	default:
		return 0, errors.Errorf("aqi: unsupported pollutant %d", int(p))
	}
}
