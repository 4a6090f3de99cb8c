package anomaly

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// Detector runs the EWMA and CUSUM control charts for every (vehicle,
// sensor) baseline. It owns no storage: the caller hands in the baseline
// row, the detector mutates it in memory and returns any events fired.
type Detector struct {
	th config.Thresholds
}

func NewDetector(th config.Thresholds) *Detector {
	return &Detector{th: th}
}

// Observe folds one sensor value into the baseline and returns the anomaly
// events that fired this tick. A missing reading must simply not be passed
// here; skipping a tick leaves the baseline untouched.
func (d *Detector) Observe(b *domain.AnomalyBaseline, value float64, at time.Time) []domain.AnomalyEvent {
	warm := b.SampleCount >= d.th.BaselineWarmup

	prevEWMA := b.EWMAValue
	prevEWMAVar := b.EWMAVariance

	// EWMA of value and of squared deviation.
	if b.SampleCount == 0 {
		b.EWMAValue = value
	} else {
		dev := value - b.EWMAValue
		b.EWMAValue = d.th.EWMAAlpha*value + (1-d.th.EWMAAlpha)*b.EWMAValue
		b.EWMAVariance = d.th.EWMAAlpha*dev*dev + (1-d.th.EWMAAlpha)*b.EWMAVariance
	}

	std := b.BaselineStd
	z := 0.0
	if std > 1e-9 {
		z = (value - b.BaselineMean) / std
	}

	var events []domain.AnomalyEvent

	// CUSUM: two one-sided accumulators of deviation minus slack, floored
	// at zero.
	if warm && std > 1e-9 {
		k := d.th.CusumSlack * std
		h := d.th.CusumThreshold * std

		b.CusumHigh = math.Max(0, b.CusumHigh+(value-b.BaselineMean)-k)
		b.CusumLow = math.Max(0, b.CusumLow+(b.BaselineMean-value)-k)

		if b.CusumHigh > h {
			events = append(events, d.newEvent(b, domain.AnomalyCUSUM, value, z, b.CusumHigh/std, at))
			b.CusumHigh = d.resetCusum(b.CusumHigh, h)
		}
		if b.CusumLow > h {
			events = append(events, d.newEvent(b, domain.AnomalyCUSUM, value, z, b.CusumLow/std, at))
			b.CusumLow = d.resetCusum(b.CusumLow, h)
		}

		// Single-sample crossing of the long-run baseline.
		if math.Abs(z) >= d.th.ZMedium {
			events = append(events, d.newEvent(b, domain.AnomalyThreshold, value, z, 0, at))
		}
	}

	// EWMA chart: the reading against the smoothed recent signal. Catches a
	// sharp departure from a quiet stretch even when the long-run baseline
	// is too wide to flag it.
	if warm && prevEWMAVar > 1e-9 {
		ewmaZ := (value - prevEWMA) / math.Sqrt(prevEWMAVar)
		if math.Abs(ewmaZ) >= d.th.ZMedium {
			events = append(events, d.newEvent(b, domain.AnomalyEWMA, value, ewmaZ, 0, at))
		}
	}

	b.SampleCount++
	b.UpdatedAt = at
	return events
}

func (d *Detector) resetCusum(v, threshold float64) float64 {
	if d.th.CusumReset == config.CusumResetSubtract {
		return math.Max(0, v-threshold)
	}
	return 0
}

func (d *Detector) newEvent(b *domain.AnomalyBaseline, typ domain.AnomalyType, value, z, cusumStd float64, at time.Time) domain.AnomalyEvent {
	return domain.AnomalyEvent{
		ID:          uuid.NewString(),
		VehicleID:   b.VehicleID,
		SensorName:  b.SensorName,
		AnomalyType: typ,
		Severity:    d.Severity(z, cusumStd),
		SensorValue: value,
		ZScore:      z,
		DetectedAt:  at,
	}
}

// Severity maps z-score and CUSUM magnitude (in std units) onto the fixed
// breakpoint ladder.
func (d *Detector) Severity(z, cusumStd float64) domain.Severity {
	az := math.Abs(z)
	switch {
	case az >= d.th.ZCritical || cusumStd >= 2*d.th.CusumThreshold:
		return domain.SeverityCritical
	case az >= d.th.ZHigh:
		return domain.SeverityHigh
	case az >= d.th.ZMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
