package samplefile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dasannotate/internal/models"
)

// Summary holds descriptive statistics of a sample buffer
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes descriptive statistics over every sample in buf
func Summarize(buf *models.SampleBuffer) (Summary, error) {
	if buf.Empty() {
		return Summary{}, fmt.Errorf("cannot summarize an empty buffer")
	}
	mean, std := stat.MeanStdDev(buf.Data, nil)
	return Summary{
		Count:  len(buf.Data),
		Min:    floats.Min(buf.Data),
		Max:    floats.Max(buf.Data),
		Mean:   mean,
		StdDev: std,
	}, nil
}

// ChannelEnergy returns the root mean square of each channel
func ChannelEnergy(buf *models.SampleBuffer) []float64 {
	energy := make([]float64, buf.Rows)
	if buf.Cols == 0 {
		return energy
	}
	for r := range energy {
		row := buf.Data[r*buf.Cols : (r+1)*buf.Cols]
		energy[r] = floats.Norm(row, 2) / math.Sqrt(float64(buf.Cols))
	}
	return energy
}
