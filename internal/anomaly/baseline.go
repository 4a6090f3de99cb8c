package anomaly

import (
	"math"
	"time"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// RollingWindow keeps the recent raw values a baseline recompute draws
// from. The window lives in memory only; the recomputed statistics persist
// on the baseline row.
type RollingWindow struct {
	values []float64
	size   int
}

func NewRollingWindow(size int) *RollingWindow {
	return &RollingWindow{size: size}
}

func (w *RollingWindow) Add(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[len(w.values)-w.size:]
	}
}

func (w *RollingWindow) Len() int { return len(w.values) }

func (w *RollingWindow) MeanStd() (mean, std float64) {
	n := len(w.values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range w.values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var variance float64
	for _, v := range w.values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

// Slope fits a least-squares line over the window's sample indices.
func (w *RollingWindow) Slope() float64 {
	n := len(w.values)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range w.values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// Recompute refreshes baseline_mean/std and the trend from the rolling
// window. It runs on a coarse cadence so the baseline does not chase the
// very drift the detector is watching for.
func Recompute(b *domain.AnomalyBaseline, w *RollingWindow, at time.Time) {
	if w.Len() < 2 {
		return
	}
	mean, std := w.MeanStd()
	b.BaselineMean = mean
	b.BaselineStd = std
	b.TrendSlope = w.Slope()

	// A slope smaller than a small fraction of the std per sample is noise.
	eps := 0.05 * std
	switch {
	case b.TrendSlope > eps:
		b.TrendDir = domain.TrendUp
	case b.TrendSlope < -eps:
		b.TrendDir = domain.TrendDown
	default:
		b.TrendDir = domain.TrendStable
	}
	b.UpdatedAt = at
}
