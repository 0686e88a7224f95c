package colormap

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"dasannotate/internal/models"
)

// SuggestRange returns display parameters whose MinValue and MaxValue
// bracket the lowQ and highQ empirical quantiles of buf, expressed as
// fractions of the element type's dynamic range. Flags are copied from base.
func SuggestRange(buf *models.SampleBuffer, base models.DisplayParameters, lowQ, highQ float64) (models.DisplayParameters, error) {
	if buf.Empty() {
		return base, fmt.Errorf("cannot suggest a range for an empty buffer")
	}
	if lowQ < 0 || highQ > 1 || lowQ >= highQ {
		return base, fmt.Errorf("quantiles %g and %g must satisfy 0 <= low < high <= 1", lowQ, highQ)
	}

	typeMax := buf.Type.TypeMax()
	sorted := make([]float64, 0, len(buf.Data))
	for _, v := range buf.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if base.TakeAbsoluteValue {
			v = math.Abs(v)
		}
		sorted = append(sorted, v/typeMax)
	}
	if len(sorted) == 0 {
		return base, fmt.Errorf("buffer holds no finite samples")
	}
	sort.Float64s(sorted)

	lo := clampUnit(stat.Quantile(lowQ, stat.Empirical, sorted, nil))
	hi := clampUnit(stat.Quantile(highQ, stat.Empirical, sorted, nil))
	if buf.Type.IsUnsigned() || base.TakeAbsoluteValue {
		lo = math.Max(lo, 0)
	}
	if hi <= lo {
		// flat signal, widen upwards by one step of the type
		step := 1 / typeMax
		if !buf.Type.IsInteger() {
			step = 1e-6
		}
		hi = math.Min(1, lo+step)
		if hi <= lo {
			lo = hi - step
		}
	}

	params := base
	params.MinValue, params.MaxValue = lo, hi
	return params, nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
