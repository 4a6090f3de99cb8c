package estimator

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// FuelEstimator is a scalar recursive filter tracking one vehicle's fuel
// level in liters. Predict integrates the resolved consumption rate; update
// blends in raw level readings with a gain derived from an adaptive
// measurement-noise estimate, so a volatile sensor is trusted less than a
// quiet one.
type FuelEstimator struct {
	th    config.Thresholds
	tankL float64
	state *domain.FilterState
}

// NewFuelEstimator wraps persisted state, or initializes fresh state when
// the vehicle has never been estimated.
func NewFuelEstimator(th config.Thresholds, tankCapacityL float64, persisted *domain.FilterState, vehicleID string) *FuelEstimator {
	st := persisted
	if st == nil {
		st = &domain.FilterState{
			VehicleID:     vehicleID,
			LevelEstimate: tankCapacityL / 2,
			LevelVariance: th.DefaultMeasNoise,
			AdaptiveNoise: th.DefaultMeasNoise,
		}
	}
	return &FuelEstimator{th: th, tankL: tankCapacityL, state: st}
}

// Estimate is the filter output consumed by the event detectors and sinks.
type Estimate struct {
	LevelL        float64
	Variance      float64
	BiasDetected  bool
	AdaptiveNoise float64
}

// Predict advances the level by the resolved rate over the elapsed time.
// The blend-correction multiplier absorbs a known fuel-density adjustment.
// Uncertainty grows by the process-noise term.
func (e *FuelEstimator) Predict(rateLph, elapsedHours float64) {
	burned := rateLph * e.th.BlendCorrection * elapsedHours
	e.state.LevelEstimate = clamp(e.state.LevelEstimate-burned, 0, e.tankL)
	e.state.LevelVariance += e.th.ProcessNoise * elapsedHours
	if e.state.LevelVariance < 0 {
		e.state.LevelVariance = 0
	}
}

// Update incorporates a raw level reading. Gain comes from the current
// variance against the adaptive measurement-noise estimate.
func (e *FuelEstimator) Update(levelReadingL float64, at time.Time) {
	innovation := levelReadingL - e.state.LevelEstimate

	e.pushInnovation(innovation)
	e.state.AdaptiveNoise = e.measurementNoise()

	s := e.state.LevelVariance + e.state.AdaptiveNoise
	if s <= 0 {
		s = e.th.DefaultMeasNoise
	}
	gain := e.state.LevelVariance / s

	e.state.LevelEstimate = clamp(e.state.LevelEstimate+gain*innovation, 0, e.tankL)
	e.state.LevelVariance *= (1 - gain)
	if e.state.LevelVariance < 0 {
		e.state.LevelVariance = 0
	}

	e.detectBias()
	e.state.LastSampleAt = at
	e.state.Initialized = true

	sigma := math.Sqrt(s)
	if sigma > 0 && math.Abs(innovation) > 3*sigma {
		log.Debug().Str("vehicle", e.state.VehicleID).
			Float64("innovation", innovation).Float64("sigma", sigma).
			Msg("large fuel-level residual")
	}
}

// measurementNoise derives R from the spread of the last N innovations.
// Until warm-up, the configured default applies.
func (e *FuelEstimator) measurementNoise() float64 {
	n := len(e.state.Innovations)
	if n < e.th.WarmupSamples {
		return e.th.DefaultMeasNoise
	}
	var sum float64
	for _, v := range e.state.Innovations {
		sum += v
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range e.state.Innovations {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	if variance < 1e-6 {
		variance = 1e-6
	}
	return variance
}

// detectBias flags innovations that are systematically offset rather than
// merely noisy: a mis-calibrated sender, not random error.
func (e *FuelEstimator) detectBias() {
	n := len(e.state.Innovations)
	if n < e.th.WarmupSamples {
		return
	}
	var sum float64
	for _, v := range e.state.Innovations {
		sum += v
	}
	mean := sum / float64(n)
	biased := math.Abs(mean) > e.th.BiasThresholdL
	if biased && !e.state.BiasDetected {
		log.Warn().Str("vehicle", e.state.VehicleID).Float64("mean_innovation_l", mean).
			Msg("persistent fuel sensor bias detected")
	}
	e.state.BiasDetected = biased
}

func (e *FuelEstimator) pushInnovation(v float64) {
	e.state.Innovations = append(e.state.Innovations, v)
	if len(e.state.Innovations) > e.th.InnovationWindow {
		e.state.Innovations = e.state.Innovations[len(e.state.Innovations)-e.th.InnovationWindow:]
	}
}

func (e *FuelEstimator) GetEstimate() Estimate {
	return Estimate{
		LevelL:        e.state.LevelEstimate,
		Variance:      e.state.LevelVariance,
		BiasDetected:  e.state.BiasDetected,
		AdaptiveNoise: e.state.AdaptiveNoise,
	}
}

// State exposes the mutable filter state for persistence flushes.
func (e *FuelEstimator) State() *domain.FilterState { return e.state }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
