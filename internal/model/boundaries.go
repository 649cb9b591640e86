package model

import (
	"bytes"
	"encoding/csv"
	"strconv"
)

// Boundaries are the uniform atmospheric boundary conditions of a model.
type Boundaries struct {
	RainfallIntensity float64 // mm/hr
	RainfallDuration  float64 // seconds; zero disables rainfall
	DrainageRate      float64 // mm/hr; zero disables drainage
}

// HasRainfall reports whether a rainfall series is written.
func (b Boundaries) HasRainfall() bool { return b.RainfallDuration > 0 }

// HasDrainage reports whether a drainage series is written.
func (b Boundaries) HasDrainage() bool { return b.DrainageRate > 0 }

// RainfallCSV returns the rainfall time series for a simulation of the
// given duration: rows every RainfallDuration seconds, raining during the
// first interval only.
func (b Boundaries) RainfallCSV(duration float64) ([]byte, error) {
	rows := [][]string{{"Time (s)", "Rainfall intensity (mm/hr)"}}
	if b.HasRainfall() {
		for t := 0.0; t <= duration; t += b.RainfallDuration {
			intensity := 0.0
			if t < b.RainfallDuration {
				intensity = b.RainfallIntensity
			}
			rows = append(rows, []string{formatFloat(t), formatFloat(intensity)})
		}
	}
	return writeCSV(rows)
}

// DrainageCSV returns a constant drainage series over the simulation.
func (b Boundaries) DrainageCSV(duration float64) ([]byte, error) {
	return writeCSV([][]string{
		{"Time (s)", "Drainage rate (mm/hr)"},
		{formatFloat(0), formatFloat(b.DrainageRate)},
		{formatFloat(duration), formatFloat(b.DrainageRate)},
	})
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
