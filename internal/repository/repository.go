package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// Repos is the durable side of the pipeline. Every write is an idempotent
// upsert over the row's natural key, so retries and overlapping cycles
// cannot double-count state.
type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

const (
	writeRetries = 3
	retryBackoff = 200 * time.Millisecond
)

// withRetry runs fn with bounded backoff. In-memory state stays
// authoritative while a write fails; repeated failure degrades, never aborts.
func (r *Repos) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
	log.Warn().Err(err).Str("op", op).Msg("persistence degraded, continuing on in-memory state")
	return fmt.Errorf("%s failed after %d attempts: %w", op, writeRetries, err)
}

func (r *Repos) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	var out []domain.Vehicle
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, fleet_id, name, tank_capacity_l, last_service_at,
		       reported_idle_hours, last_seen_at, active_dtc_count, worst_dtc_severity
		FROM vehicles ORDER BY id`)
	return out, err
}

// LoadFilterState returns the persisted estimator state for a vehicle, or
// (nil, nil) when the vehicle has never been estimated.
func (r *Repos) LoadFilterState(ctx context.Context, vehicleID string) (*domain.FilterState, error) {
	var fs domain.FilterState
	err := r.db.GetContext(ctx, &fs, `
		SELECT vehicle_id, level_estimate, level_variance, bias_detected,
		       adaptive_noise, last_valid_rate, idle_hours_accum,
		       last_sample_at, initialized, innovations
		FROM fuel_filter_state WHERE vehicle_id = $1`, vehicleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if fs.InnovationsJSON != "" {
		if err := json.Unmarshal([]byte(fs.InnovationsJSON), &fs.Innovations); err != nil {
			return nil, fmt.Errorf("decode innovation history for %s: %w", vehicleID, err)
		}
	}
	return &fs, nil
}

func (r *Repos) SaveFilterState(ctx context.Context, fs *domain.FilterState) error {
	buf, err := json.Marshal(fs.Innovations)
	if err != nil {
		return fmt.Errorf("encode innovation history: %w", err)
	}
	return r.withRetry(ctx, "save filter state", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO fuel_filter_state
				(vehicle_id, level_estimate, level_variance, bias_detected,
				 adaptive_noise, last_valid_rate, idle_hours_accum,
				 last_sample_at, initialized, innovations)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (vehicle_id) DO UPDATE SET
				level_estimate = EXCLUDED.level_estimate,
				level_variance = EXCLUDED.level_variance,
				bias_detected = EXCLUDED.bias_detected,
				adaptive_noise = EXCLUDED.adaptive_noise,
				last_valid_rate = EXCLUDED.last_valid_rate,
				idle_hours_accum = EXCLUDED.idle_hours_accum,
				last_sample_at = EXCLUDED.last_sample_at,
				initialized = EXCLUDED.initialized,
				innovations = EXCLUDED.innovations`,
			fs.VehicleID, fs.LevelEstimate, fs.LevelVariance, fs.BiasDetected,
			fs.AdaptiveNoise, fs.LastValidRate, fs.IdleHoursAccum,
			fs.LastSampleAt, fs.Initialized, string(buf))
		return err
	})
}

func (r *Repos) LoadBaselines(ctx context.Context, vehicleID string) ([]domain.AnomalyBaseline, error) {
	var out []domain.AnomalyBaseline
	err := r.db.SelectContext(ctx, &out, `
		SELECT vehicle_id, sensor_name, ewma_value, ewma_variance,
		       cusum_high, cusum_low, baseline_mean, baseline_std,
		       sample_count, trend_direction, trend_slope, updated_at
		FROM anomaly_baselines WHERE vehicle_id = $1`, vehicleID)
	return out, err
}

// SaveBaseline flushes one (vehicle, sensor) baseline. The upsert replaces
// the full row, so flushing an identical snapshot twice stores identical
// state: sample_count is carried in the snapshot, never incremented in SQL.
func (r *Repos) SaveBaseline(ctx context.Context, b *domain.AnomalyBaseline) error {
	return r.withRetry(ctx, "save baseline", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO anomaly_baselines
				(vehicle_id, sensor_name, ewma_value, ewma_variance,
				 cusum_high, cusum_low, baseline_mean, baseline_std,
				 sample_count, trend_direction, trend_slope, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (vehicle_id, sensor_name) DO UPDATE SET
				ewma_value = EXCLUDED.ewma_value,
				ewma_variance = EXCLUDED.ewma_variance,
				cusum_high = EXCLUDED.cusum_high,
				cusum_low = EXCLUDED.cusum_low,
				baseline_mean = EXCLUDED.baseline_mean,
				baseline_std = EXCLUDED.baseline_std,
				sample_count = GREATEST(anomaly_baselines.sample_count, EXCLUDED.sample_count),
				trend_direction = EXCLUDED.trend_direction,
				trend_slope = EXCLUDED.trend_slope,
				updated_at = EXCLUDED.updated_at`,
			b.VehicleID, b.SensorName, b.EWMAValue, b.EWMAVariance,
			b.CusumHigh, b.CusumLow, b.BaselineMean, b.BaselineStd,
			b.SampleCount, b.TrendDir, b.TrendSlope, b.UpdatedAt)
		return err
	})
}

func (r *Repos) InsertAnomalyEvent(ctx context.Context, e *domain.AnomalyEvent) error {
	return r.withRetry(ctx, "insert anomaly event", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO anomaly_events
				(id, vehicle_id, sensor_name, anomaly_type, severity,
				 sensor_value, z_score, detected_at, is_confirmed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false)
			ON CONFLICT (vehicle_id, sensor_name, anomaly_type, detected_at) DO NOTHING`,
			e.ID, e.VehicleID, e.SensorName, e.AnomalyType, e.Severity,
			e.SensorValue, e.ZScore, e.DetectedAt)
		return err
	})
}

func (r *Repos) InsertFuelEvent(ctx context.Context, e *domain.FuelEvent) error {
	return r.withRetry(ctx, "insert fuel event", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO fuel_events
				(id, vehicle_id, kind, before_level, after_level, delta_l,
				 confidence, detected_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (vehicle_id, kind, detected_at) DO NOTHING`,
			e.ID, e.VehicleID, e.Kind, e.BeforeLevel, e.AfterLevel, e.DeltaL,
			e.Confidence, e.DetectedAt)
		return err
	})
}

func (r *Repos) InsertRiskSnapshot(ctx context.Context, s *domain.RiskScoreSnapshot) error {
	return r.withRetry(ctx, "insert risk snapshot", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO risk_score_history
				(vehicle_id, risk_score, risk_level, sensor_health_score,
				 dtc_score, trend_score, connectivity_score, maintenance_score,
				 weights_version, timestamp)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (vehicle_id, timestamp) DO NOTHING`,
			s.VehicleID, s.RiskScore, s.RiskLevel, s.SensorHealth,
			s.DTCScore, s.TrendScore, s.Connectivity, s.MaintenanceScore,
			s.WeightsVersion, s.Timestamp)
		return err
	})
}

func (r *Repos) InsertIdleValidation(ctx context.Context, rec *domain.IdleValidationRecord) error {
	return r.withRetry(ctx, "insert idle validation", func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO idle_validation_log
				(vehicle_id, calculated_hours, reported_hours, deviation_pct,
				 confidence, flagged, checked_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (vehicle_id, checked_at) DO NOTHING`,
			rec.VehicleID, rec.CalculatedHours, rec.ReportedHours,
			rec.DeviationPct, rec.Confidence, rec.Flagged, rec.CheckedAt)
		return err
	})
}

// Read-side queries for the API surface.

func (r *Repos) LatestRiskSnapshots(ctx context.Context) ([]domain.RiskScoreSnapshot, error) {
	var out []domain.RiskScoreSnapshot
	err := r.db.SelectContext(ctx, &out, `
		SELECT DISTINCT ON (vehicle_id)
		       vehicle_id, risk_score, risk_level, sensor_health_score,
		       dtc_score, trend_score, connectivity_score, maintenance_score,
		       weights_version, timestamp
		FROM risk_score_history
		ORDER BY vehicle_id, timestamp DESC`)
	return out, err
}

func (r *Repos) OpenAnomalies(ctx context.Context, limit int) ([]domain.AnomalyEvent, error) {
	var out []domain.AnomalyEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, vehicle_id, sensor_name, anomaly_type, severity,
		       sensor_value, z_score, detected_at, resolved_at,
		       is_confirmed, false_positive
		FROM anomaly_events
		WHERE resolved_at IS NULL
		ORDER BY detected_at DESC LIMIT $1`, limit)
	return out, err
}

func (r *Repos) RecentFuelEvents(ctx context.Context, vehicleID string, limit int) ([]domain.FuelEvent, error) {
	var out []domain.FuelEvent
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, vehicle_id, kind, before_level, after_level, delta_l,
		       confidence, detected_at
		FROM fuel_events
		WHERE vehicle_id = $1
		ORDER BY detected_at DESC LIMIT $2`, vehicleID, limit)
	return out, err
}

func (r *Repos) RiskHistory(ctx context.Context, vehicleID string, limit int) ([]domain.RiskScoreSnapshot, error) {
	var out []domain.RiskScoreSnapshot
	err := r.db.SelectContext(ctx, &out, `
		SELECT vehicle_id, risk_score, risk_level, sensor_health_score,
		       dtc_score, trend_score, connectivity_score, maintenance_score,
		       weights_version, timestamp
		FROM risk_score_history
		WHERE vehicle_id = $1
		ORDER BY timestamp DESC LIMIT $2`, vehicleID, limit)
	return out, err
}
