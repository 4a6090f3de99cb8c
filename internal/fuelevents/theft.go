package fuelevents

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// CheckTheft fires when the level drops faster than burning fuel can
// explain: either the vehicle is stationary while losing a meaningful
// amount, or the drop rate exceeds the maximum plausible consumption rate
// by the configured slack factor. The event is only emitted once confidence
// clears the threshold.
func (d *Detector) CheckTheft(vehicleID string, beforeL, afterL, speedKmh, elapsedHours, maxPlausibleLph float64, at time.Time) *domain.FuelEvent {
	if elapsedHours <= 0 {
		return nil
	}
	drop := beforeL - afterL
	if drop <= 0 {
		return nil
	}
	dropRate := drop / elapsedHours

	stationary := speedKmh <= d.th.IdleSpeedKmh
	explainable := maxPlausibleLph * elapsedHours

	var confidence float64
	switch {
	case stationary && drop > explainable:
		// An idle vehicle can only burn the idle band; everything above
		// that left through the filler neck.
		confidence = clamp01((drop - explainable) / (0.25 * d.tankL))
	case dropRate > d.th.TheftRateSlackFactor*maxPlausibleLph:
		confidence = clamp01((dropRate - maxPlausibleLph) / (d.th.TheftRateSlackFactor * maxPlausibleLph))
	default:
		return nil
	}

	if confidence < d.th.TheftConfidenceMin {
		return nil
	}

	ev := &domain.FuelEvent{
		ID:          uuid.NewString(),
		VehicleID:   vehicleID,
		Kind:        domain.FuelEventTheft,
		BeforeLevel: beforeL,
		AfterLevel:  afterL,
		DeltaL:      drop,
		Confidence:  confidence,
		DetectedAt:  at,
	}
	log.Warn().Str("vehicle", vehicleID).
		Float64("loss_l", drop).Float64("drop_rate_lph", dropRate).
		Float64("confidence", confidence).Msg("possible fuel theft detected")
	return ev
}
