package anomaly

import (
	"time"

	"github.com/google/uuid"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// CorrelationRule names a documented cross-sensor failure pattern: when at
// least two of its sensors cross their individual thresholds in the same
// cycle, a CORRELATION anomaly fires at the given severity.
type CorrelationRule struct {
	Name     string
	Sensors  []string
	Severity domain.Severity
}

// DefaultCorrelationRules are the documented patterns for this fleet.
var DefaultCorrelationRules = []CorrelationRule{
	{
		Name:     "thermal_cascade",
		Sensors:  []string{"coolant_temp", "oil_temp", "transmission_temp"},
		Severity: domain.SeverityCritical,
	},
	{
		Name:     "electrical_degradation",
		Sensors:  []string{"battery_voltage", "alternator_output"},
		Severity: domain.SeverityHigh,
	},
	{
		Name:     "drivetrain_stress",
		Sensors:  []string{"engine_rpm", "oil_pressure"},
		Severity: domain.SeverityHigh,
	},
}

// Correlate inspects the sensors that fired this cycle and raises one
// CORRELATION event per matched rule.
func Correlate(rules []CorrelationRule, vehicleID string, fired map[string]float64, at time.Time) []domain.AnomalyEvent {
	var events []domain.AnomalyEvent
	for _, rule := range rules {
		matched := 0
		var worstZ float64
		for _, s := range rule.Sensors {
			if z, ok := fired[s]; ok {
				matched++
				if abs(z) > abs(worstZ) {
					worstZ = z
				}
			}
		}
		if matched < 2 {
			continue
		}
		events = append(events, domain.AnomalyEvent{
			ID:          uuid.NewString(),
			VehicleID:   vehicleID,
			SensorName:  rule.Name,
			AnomalyType: domain.AnomalyCorrelation,
			Severity:    rule.Severity,
			ZScore:      worstZ,
			DetectedAt:  at,
		})
	}
	return events
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
