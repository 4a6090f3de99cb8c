package sink

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/cloud"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
	"github.com/ruiztomas88/fuel-copilot/internal/estimator"
	"github.com/ruiztomas88/fuel-copilot/internal/state"
)

// Fanout forwards pipeline outputs to the live-state mirror and, when cloud
// services are enabled, to the SNS/DynamoDB boundaries. Everything here is
// best effort: the durable write already happened.
type Fanout struct {
	Mirror *state.Mirror
	SNS    *cloud.SNSClient
	Dynamo *cloud.DynamoDBClient

	FleetOf func(vehicleID string) string
}

func (f *Fanout) AnomalyDetected(ctx context.Context, ev domain.AnomalyEvent) {
	if f.Mirror != nil {
		f.Mirror.PublishEvent(ctx, f.fleet(ev.VehicleID), ev)
	}
	if f.SNS != nil && ev.Severity == domain.SeverityCritical {
		if err := f.SNS.SendAnomalyAlert(ctx, ev); err != nil {
			log.Warn().Err(err).Str("vehicle", ev.VehicleID).Msg("sns anomaly alert failed")
		}
	}
}

func (f *Fanout) FuelEventDetected(ctx context.Context, ev domain.FuelEvent) {
	if f.Mirror != nil {
		f.Mirror.PublishEvent(ctx, f.fleet(ev.VehicleID), ev)
	}
	if f.SNS != nil && ev.Kind == domain.FuelEventTheft {
		if err := f.SNS.SendTheftAlert(ctx, ev); err != nil {
			log.Warn().Err(err).Str("vehicle", ev.VehicleID).Msg("sns theft alert failed")
		}
	}
}

func (f *Fanout) RiskUpdated(ctx context.Context, snap domain.RiskScoreSnapshot) {
	if f.Mirror != nil {
		f.Mirror.SetRisk(ctx, snap.VehicleID, snap.RiskScore, string(snap.RiskLevel))
	}
	if f.Dynamo != nil {
		if err := f.Dynamo.PutRiskSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Str("vehicle", snap.VehicleID).Msg("dynamo risk mirror failed")
		}
	}
}

func (f *Fanout) EstimateUpdated(ctx context.Context, vehicleID string, est estimator.Estimate) {
	if f.Mirror != nil {
		f.Mirror.SetEstimate(ctx, vehicleID, est.LevelL, est.Variance, est.BiasDetected)
	}
}

func (f *Fanout) fleet(vehicleID string) string {
	if f.FleetOf == nil {
		return "default"
	}
	return f.FleetOf(vehicleID)
}
