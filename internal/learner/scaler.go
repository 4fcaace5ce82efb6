package learner

import "math"

// Scaler standardizes feature vectors using running mean and variance
// (Welford's online algorithm). PartialFit and Transform are separate so
// training can update statistics while prediction only reads them.
type Scaler struct {
	N    int64     `json:"n"`
	Mean []float64 `json:"mean"`
	M2   []float64 `json:"m2"`
}

// NewScaler creates a scaler for vectors of the given dimension.
func NewScaler(dim int) *Scaler {
	return &Scaler{
		Mean: make([]float64, dim),
		M2:   make([]float64, dim),
	}
}

// PartialFit folds one sample into the running statistics.
func (s *Scaler) PartialFit(x []float64) {
	s.N++
	for i, v := range x {
		delta := v - s.Mean[i]
		s.Mean[i] += delta / float64(s.N)
		s.M2[i] += delta * (v - s.Mean[i])
	}
}

// Transform returns the standardized copy of x. Dimensions with near-zero
// variance pass through centered but unscaled.
func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		sd := s.std(i)
		if sd < 1e-12 {
			out[i] = v - s.Mean[i]
			continue
		}
		out[i] = (v - s.Mean[i]) / sd
	}
	return out
}

func (s *Scaler) std(i int) float64 {
	if s.N < 2 {
		return 0
	}
	return math.Sqrt(s.M2[i] / float64(s.N-1))
}
