package domain

import "time"

type Vehicle struct {
	ID               string     `db:"id" json:"id"`
	FleetID          string     `db:"fleet_id" json:"fleet_id"`
	Name             string     `db:"name" json:"name"`
	TankCapacityL    float64    `db:"tank_capacity_l" json:"tank_capacity_l"`
	LastServiceAt    *time.Time `db:"last_service_at" json:"last_service_at,omitempty"`
	ReportedIdleHrs  float64    `db:"reported_idle_hours" json:"reported_idle_hours"`
	LastSeenAt       *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	ActiveDTCCount   int        `db:"active_dtc_count" json:"active_dtc_count"`
	WorstDTCSeverity int        `db:"worst_dtc_severity" json:"worst_dtc_severity"`
}

// TelemetrySample is a single raw reading for one sensor on one vehicle.
// Samples are ephemeral; only derived aggregates persist.
type TelemetrySample struct {
	VehicleID    string    `json:"vehicle_id"`
	SensorName   string    `json:"sensor_name"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	ElapsedHours float64   `json:"elapsed_hours"`
	Missing      bool      `json:"missing"`
}

// RateSource identifies which tier of the fallback chain produced a
// consumption rate.
type RateSource string

const (
	SourceSensor        RateSource = "SENSOR"
	SourceIdleFallback  RateSource = "IDLE_FALLBACK"
	SourceModelFallback RateSource = "MODEL_FALLBACK"
	SourceCarryForward  RateSource = "CARRY_FORWARD"
	SourceGapExcluded   RateSource = "GAP_EXCLUDED"
)

// FilterState is the fuel estimator's recursive state for one vehicle.
// Mutated once per tick by that vehicle's processing path only.
type FilterState struct {
	VehicleID       string    `db:"vehicle_id" json:"vehicle_id"`
	LevelEstimate   float64   `db:"level_estimate" json:"level_estimate"`
	LevelVariance   float64   `db:"level_variance" json:"level_variance"`
	Innovations     []float64 `db:"-" json:"innovations"`
	BiasDetected    bool      `db:"bias_detected" json:"bias_detected"`
	AdaptiveNoise   float64   `db:"adaptive_noise" json:"adaptive_noise"`
	LastValidRate   float64   `db:"last_valid_rate" json:"last_valid_rate"`
	IdleHoursAccum  float64   `db:"idle_hours_accum" json:"idle_hours_accum"`
	LastSampleAt    time.Time `db:"last_sample_at" json:"last_sample_at"`
	Initialized     bool      `db:"initialized" json:"initialized"`
	InnovationsJSON string    `db:"innovations" json:"-"`
}

type TrendDirection string

const (
	TrendUp     TrendDirection = "UP"
	TrendDown   TrendDirection = "DOWN"
	TrendStable TrendDirection = "STABLE"
)

// AnomalyBaseline holds the drift-detection state for one (vehicle, sensor)
// pair. sample_count is monotonically non-decreasing; the CUSUM accumulators
// are clamped at zero.
type AnomalyBaseline struct {
	VehicleID    string         `db:"vehicle_id" json:"vehicle_id"`
	SensorName   string         `db:"sensor_name" json:"sensor_name"`
	EWMAValue    float64        `db:"ewma_value" json:"ewma_value"`
	EWMAVariance float64        `db:"ewma_variance" json:"ewma_variance"`
	CusumHigh    float64        `db:"cusum_high" json:"cusum_high"`
	CusumLow     float64        `db:"cusum_low" json:"cusum_low"`
	BaselineMean float64        `db:"baseline_mean" json:"baseline_mean"`
	BaselineStd  float64        `db:"baseline_std" json:"baseline_std"`
	SampleCount  int64          `db:"sample_count" json:"sample_count"`
	TrendDir     TrendDirection `db:"trend_direction" json:"trend_direction"`
	TrendSlope   float64        `db:"trend_slope" json:"trend_slope"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

type AnomalyType string

const (
	AnomalyEWMA        AnomalyType = "EWMA"
	AnomalyCUSUM       AnomalyType = "CUSUM"
	AnomalyThreshold   AnomalyType = "THRESHOLD"
	AnomalyCorrelation AnomalyType = "CORRELATION"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyEvent is an emitted detection. Resolution and confirmation fields
// are written later by downstream review, never by the detector.
type AnomalyEvent struct {
	ID            string      `db:"id" json:"id"`
	VehicleID     string      `db:"vehicle_id" json:"vehicle_id"`
	SensorName    string      `db:"sensor_name" json:"sensor_name"`
	AnomalyType   AnomalyType `db:"anomaly_type" json:"anomaly_type"`
	Severity      Severity    `db:"severity" json:"severity"`
	SensorValue   float64     `db:"sensor_value" json:"sensor_value"`
	ZScore        float64     `db:"z_score" json:"z_score"`
	DetectedAt    time.Time   `db:"detected_at" json:"detected_at"`
	ResolvedAt    *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
	IsConfirmed   bool        `db:"is_confirmed" json:"is_confirmed"`
	FalsePositive *bool       `db:"false_positive" json:"false_positive,omitempty"`
}

// FuelEventKind distinguishes the two step-change detectors.
type FuelEventKind string

const (
	FuelEventRefuel FuelEventKind = "REFUEL"
	FuelEventTheft  FuelEventKind = "THEFT"
)

// FuelEvent records a refuel jump or theft drop. Immutable once created.
type FuelEvent struct {
	ID          string        `db:"id" json:"id"`
	VehicleID   string        `db:"vehicle_id" json:"vehicle_id"`
	Kind        FuelEventKind `db:"kind" json:"kind"`
	BeforeLevel float64       `db:"before_level" json:"before_level"`
	AfterLevel  float64       `db:"after_level" json:"after_level"`
	DeltaL      float64       `db:"delta_l" json:"delta_l"`
	Confidence  float64       `db:"confidence" json:"confidence"`
	DetectedAt  time.Time     `db:"detected_at" json:"detected_at"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskScoreSnapshot is one row of the append-only risk history.
type RiskScoreSnapshot struct {
	VehicleID        string    `db:"vehicle_id" json:"vehicle_id"`
	RiskScore        float64   `db:"risk_score" json:"risk_score"`
	RiskLevel        RiskLevel `db:"risk_level" json:"risk_level"`
	SensorHealth     float64   `db:"sensor_health_score" json:"sensor_health_score"`
	DTCScore         float64   `db:"dtc_score" json:"dtc_score"`
	TrendScore       float64   `db:"trend_score" json:"trend_score"`
	Connectivity     float64   `db:"connectivity_score" json:"connectivity_score"`
	MaintenanceScore float64   `db:"maintenance_score" json:"maintenance_score"`
	WeightsVersion   string    `db:"weights_version" json:"weights_version"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
}

// IdleValidationConfidence grades how much a calculated-vs-reported
// idle-hours deviation should be trusted.
type IdleValidationConfidence string

const (
	IdleConfidenceHigh   IdleValidationConfidence = "HIGH"
	IdleConfidenceMedium IdleValidationConfidence = "MEDIUM"
	IdleConfidenceLow    IdleValidationConfidence = "LOW"
)

// IdleValidationRecord logs a calculated-vs-reported idle-hours check.
// Flagged deviations are investigated offline; they never block the pipeline.
type IdleValidationRecord struct {
	VehicleID       string                   `db:"vehicle_id" json:"vehicle_id"`
	CalculatedHours float64                  `db:"calculated_hours" json:"calculated_hours"`
	ReportedHours   float64                  `db:"reported_hours" json:"reported_hours"`
	DeviationPct    float64                  `db:"deviation_pct" json:"deviation_pct"`
	Confidence      IdleValidationConfidence `db:"confidence" json:"confidence"`
	Flagged         bool                     `db:"flagged" json:"flagged"`
	CheckedAt       time.Time                `db:"checked_at" json:"checked_at"`
}
