package estimator

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// ValidateIdleHours compares the pipeline's accumulated idle-hours against
// the counter the vehicle itself reports. A deviation beyond the configured
// percentage is flagged for investigation with a confidence tier; it never
// blocks processing.
func ValidateIdleHours(th config.Thresholds, vehicleID string, calculated, reported float64, at time.Time) domain.IdleValidationRecord {
	rec := domain.IdleValidationRecord{
		VehicleID:       vehicleID,
		CalculatedHours: calculated,
		ReportedHours:   reported,
		CheckedAt:       at,
	}

	if reported <= 0 {
		rec.Confidence = domain.IdleConfidenceLow
		return rec
	}

	rec.DeviationPct = math.Abs(calculated-reported) / reported * 100

	// Confidence grows with how much idle history backs the comparison.
	switch {
	case reported >= 100:
		rec.Confidence = domain.IdleConfidenceHigh
	case reported >= 20:
		rec.Confidence = domain.IdleConfidenceMedium
	default:
		rec.Confidence = domain.IdleConfidenceLow
	}

	if rec.DeviationPct > th.IdleDeviationPct {
		rec.Flagged = true
		log.Warn().Str("vehicle", vehicleID).
			Float64("calculated_h", calculated).
			Float64("reported_h", reported).
			Float64("deviation_pct", rec.DeviationPct).
			Str("confidence", string(rec.Confidence)).
			Msg("idle-hours deviation flagged for investigation")
	}
	return rec
}
