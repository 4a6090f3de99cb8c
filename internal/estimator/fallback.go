package estimator

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

var (
	ErrMissingSensor    = errors.New("no raw consumption value this tick")
	ErrImplausibleValue = errors.New("raw consumption value outside plausible bounds")
	ErrGapTooLarge      = errors.New("elapsed time exceeds contiguity threshold")
)

// FallbackEngine resolves a usable consumption rate from a raw sensor
// reading, or the absence of one, via a tiered decision rule. First match
// wins: SENSOR, IDLE_FALLBACK, MODEL_FALLBACK, CARRY_FORWARD.
type FallbackEngine struct {
	th config.Thresholds
}

func NewFallbackEngine(th config.Thresholds) *FallbackEngine {
	return &FallbackEngine{th: th}
}

// ResolvedRate is the engine's verdict for one tick.
type ResolvedRate struct {
	RateLph   float64
	Source    domain.RateSource
	Integrate bool // false when the tick is a data gap
}

// Plausible reports whether a raw rate lies inside the physical band for
// the current motion state. Idle gets a narrow low-consumption band; a
// moving vehicle gets a wider band that scales with speed.
func (f *FallbackEngine) Plausible(rate, speedKmh float64) bool {
	if rate < 0 {
		return false
	}
	if speedKmh <= f.th.IdleSpeedKmh {
		return rate >= f.th.IdleRateMinLph && rate <= f.th.IdleRateMaxLph
	}
	limit := f.th.MovingPerKmh * speedKmh
	if limit > f.th.MovingRateMaxLph {
		limit = f.th.MovingRateMaxLph
	}
	return rate <= limit
}

// ResolveRate applies the tier chain. raw is nil when the sensor reported
// nothing this tick; both cases route through the same fallbacks.
func (f *FallbackEngine) ResolveRate(vehicleID string, raw *float64, speedKmh, elapsedHours, prevValidRate float64) ResolvedRate {
	if elapsedHours > f.th.MaxGapHours {
		// A long gap is a data gap, not a long idle period. Integrating it
		// would invent hours of consumption from a single tick.
		log.Debug().Str("vehicle", vehicleID).Float64("elapsed_h", elapsedHours).
			AnErr("reason", ErrGapTooLarge).Msg("tick excluded from integration")
		return ResolvedRate{RateLph: prevValidRate, Source: domain.SourceGapExcluded, Integrate: false}
	}

	if raw != nil {
		if f.Plausible(*raw, speedKmh) {
			return ResolvedRate{RateLph: *raw, Source: domain.SourceSensor, Integrate: true}
		}
		// Data-quality signal, not an anomaly.
		log.Debug().Str("vehicle", vehicleID).Float64("raw_lph", *raw).
			Float64("speed_kmh", speedKmh).AnErr("reason", ErrImplausibleValue).
			Msg("raw consumption reading rejected")
	} else {
		log.Trace().Str("vehicle", vehicleID).AnErr("reason", ErrMissingSensor).
			Msg("falling back for consumption rate")
	}

	if speedKmh <= f.th.IdleSpeedKmh {
		return ResolvedRate{RateLph: f.th.IdleConstLph, Source: domain.SourceIdleFallback, Integrate: true}
	}

	if rate, ok := f.modelRate(speedKmh); ok {
		return ResolvedRate{RateLph: rate, Source: domain.SourceModelFallback, Integrate: true}
	}

	return ResolvedRate{RateLph: prevValidRate, Source: domain.SourceCarryForward, Integrate: true}
}

// modelRate converts the speed-bucketed consumption-per-distance model into
// a rate: liters/100km at the current speed regime times km/h.
func (f *FallbackEngine) modelRate(speedKmh float64) (float64, bool) {
	if speedKmh <= 0 {
		return 0, false
	}
	per100 := f.th.HighwayLPer100Km
	if speedKmh <= f.th.CitySpeedMaxKmh {
		per100 = f.th.CityLPer100Km
	}
	return per100 / 100.0 * speedKmh, true
}

// MaxPlausibleRate is the upper consumption bound the theft detector uses:
// any faster drop cannot be explained by burning fuel.
func (f *FallbackEngine) MaxPlausibleRate(speedKmh float64) float64 {
	if speedKmh <= f.th.IdleSpeedKmh {
		return f.th.IdleRateMaxLph
	}
	limit := f.th.MovingPerKmh * speedKmh
	if limit > f.th.MovingRateMaxLph {
		limit = f.th.MovingRateMaxLph
	}
	return limit
}
