package risk

import (
	"time"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// WeightsVersion tags every snapshot with the combination policy that
// produced it. Changing any weight requires bumping this string, or
// historical scores stop being comparable.
const WeightsVersion = "v1"

// Weights of the composite score's components. Must sum to 1.
type Weights struct {
	SensorHealth float64
	DTC          float64
	Trend        float64
	Connectivity float64
	Maintenance  float64
}

var weightsV1 = Weights{
	SensorHealth: 0.30,
	DTC:          0.25,
	Trend:        0.20,
	Connectivity: 0.15,
	Maintenance:  0.10,
}

// Inputs are the already-computed component summaries the aggregator
// reduces. No new estimation happens here.
type Inputs struct {
	Baselines        []domain.AnomalyBaseline
	RecentSeverities []domain.Severity
	ActiveDTCCount   int
	WorstDTCSeverity int // 0..5, from onboard diagnostics
	OfflineFor       time.Duration
	LastServiceAt    *time.Time
}

// Aggregate produces one append-only risk snapshot. Pure and stateless.
func Aggregate(th config.Thresholds, vehicleID string, in Inputs, at time.Time) domain.RiskScoreSnapshot {
	snap := domain.RiskScoreSnapshot{
		VehicleID:        vehicleID,
		SensorHealth:     sensorHealthScore(in.RecentSeverities),
		DTCScore:         dtcScore(in.ActiveDTCCount, in.WorstDTCSeverity),
		TrendScore:       trendScore(in.Baselines),
		Connectivity:     connectivityScore(in.OfflineFor),
		MaintenanceScore: maintenanceScore(in.LastServiceAt, at),
		WeightsVersion:   WeightsVersion,
		Timestamp:        at,
	}

	w := weightsV1
	snap.RiskScore = w.SensorHealth*snap.SensorHealth +
		w.DTC*snap.DTCScore +
		w.Trend*snap.TrendScore +
		w.Connectivity*snap.Connectivity +
		w.Maintenance*snap.MaintenanceScore

	switch {
	case snap.RiskScore >= th.RiskCritical:
		snap.RiskLevel = domain.RiskCritical
	case snap.RiskScore >= th.RiskHigh:
		snap.RiskLevel = domain.RiskHigh
	case snap.RiskScore >= th.RiskMedium:
		snap.RiskLevel = domain.RiskMedium
	default:
		snap.RiskLevel = domain.RiskLow
	}
	return snap
}

// sensorHealthScore weighs the recent anomaly load by severity.
func sensorHealthScore(severities []domain.Severity) float64 {
	var score float64
	for _, s := range severities {
		switch s {
		case domain.SeverityCritical:
			score += 40
		case domain.SeverityHigh:
			score += 25
		case domain.SeverityMedium:
			score += 10
		case domain.SeverityLow:
			score += 3
		}
	}
	return clamp100(score)
}

func dtcScore(count, worstSeverity int) float64 {
	if count == 0 {
		return 0
	}
	score := float64(worstSeverity)*15 + float64(count-1)*5
	return clamp100(score)
}

// trendScore counts baselines drifting away from stable.
func trendScore(baselines []domain.AnomalyBaseline) float64 {
	if len(baselines) == 0 {
		return 0
	}
	drifting := 0
	for _, b := range baselines {
		if b.TrendDir != domain.TrendStable {
			drifting++
		}
	}
	return clamp100(float64(drifting) / float64(len(baselines)) * 100)
}

func connectivityScore(offline time.Duration) float64 {
	hours := offline.Hours()
	switch {
	case hours <= 1:
		return 0
	case hours <= 6:
		return 20
	case hours <= 24:
		return 50
	case hours <= 72:
		return 80
	default:
		return 100
	}
}

// maintenanceScore follows the annual-service ladder: risk climbs as the
// service interval is consumed and saturates past overdue.
func maintenanceScore(lastService *time.Time, now time.Time) float64 {
	if lastService == nil {
		return 50 // unknown history is mid-risk, not zero
	}
	days := now.Sub(*lastService).Hours() / 24
	switch {
	case days <= 90:
		return 0
	case days <= 180:
		return 20
	case days <= 365:
		return 50
	case days <= 545:
		return 80
	default:
		return 100
	}
}

func clamp100(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}
