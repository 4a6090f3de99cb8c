package fuelevents

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// Detector classifies step changes in the estimator's level trajectory that
// the consumption model cannot explain: upward jumps are refuels, fast
// unexplained drops are theft.
type Detector struct {
	th    config.Thresholds
	tankL float64
}

func NewDetector(th config.Thresholds, tankCapacityL float64) *Detector {
	return &Detector{th: th, tankL: tankCapacityL}
}

// CheckRefuel fires when the level jumps upward by more than the configured
// share of tank capacity inside a short window. Consumption only ever moves
// the level down, so any significant rise needs an external explanation.
func (d *Detector) CheckRefuel(vehicleID string, beforeL, afterL float64, elapsed time.Duration, at time.Time) *domain.FuelEvent {
	if d.tankL <= 0 || elapsed > d.th.RefuelWindow {
		return nil
	}
	jump := afterL - beforeL
	if jump <= d.th.RefuelJumpPct/100.0*d.tankL {
		return nil
	}

	// Confidence scales with the jump relative to capacity; a near-full
	// fill is unambiguous, a barely-over-threshold jump is not.
	confidence := clamp01(jump / (0.5 * d.tankL))

	ev := &domain.FuelEvent{
		ID:          uuid.NewString(),
		VehicleID:   vehicleID,
		Kind:        domain.FuelEventRefuel,
		BeforeLevel: beforeL,
		AfterLevel:  afterL,
		DeltaL:      jump,
		Confidence:  confidence,
		DetectedAt:  at,
	}
	log.Info().Str("vehicle", vehicleID).
		Float64("before_l", beforeL).Float64("after_l", afterL).
		Float64("confidence", confidence).Msg("refuel detected")
	return ev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
