package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/anomaly"
	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
	"github.com/ruiztomas88/fuel-copilot/internal/estimator"
	"github.com/ruiztomas88/fuel-copilot/internal/fuelevents"
	"github.com/ruiztomas88/fuel-copilot/internal/repository"
	"github.com/ruiztomas88/fuel-copilot/internal/risk"
)

// Sensor names with pipeline-level meaning. Everything else is a health
// sensor and goes straight to the anomaly detector.
const (
	SensorSpeed     = "speed_kmh"
	SensorFuelRate  = "fuel_rate_lph"
	SensorFuelLevel = "fuel_level_l"
)

// Sink receives pipeline outputs after they are durably persisted. Optional
// fan-out to dashboards and notification boundaries.
type Sink interface {
	AnomalyDetected(ctx context.Context, ev domain.AnomalyEvent)
	FuelEventDetected(ctx context.Context, ev domain.FuelEvent)
	RiskUpdated(ctx context.Context, snap domain.RiskScoreSnapshot)
	EstimateUpdated(ctx context.Context, vehicleID string, est estimator.Estimate)
}

// VehicleState is the explicit per-vehicle state object owned by the
// scheduler: estimator, fallback chain, baselines, and event bookkeeping.
// Nothing here is shared between vehicles.
type VehicleState struct {
	Vehicle   domain.Vehicle
	Th        config.Thresholds
	Fallback  *estimator.FallbackEngine
	Estimator *estimator.FuelEstimator
	Events    *fuelevents.Detector

	Baselines map[string]*domain.AnomalyBaseline
	Windows   map[string]*anomaly.RollingWindow

	lastRecompute    time.Time
	lastIdleCheck    time.Time
	recentSeverities []domain.Severity
	lastSpeedKmh     float64
	baselinesDirty   bool
}

// Processor runs the full per-vehicle pipeline for one cycle: fallback →
// estimator → anomaly/event detectors → persistence → sink.
type Processor struct {
	th        config.Thresholds
	repos     *repository.Repos
	detector  *anomaly.Detector
	rules     []anomaly.CorrelationRule
	sink      Sink
	dbTimeout time.Duration
}

func NewProcessor(th config.Thresholds, repos *repository.Repos, sink Sink, dbTimeout time.Duration) *Processor {
	return &Processor{
		th:        th,
		repos:     repos,
		detector:  anomaly.NewDetector(th),
		rules:     anomaly.DefaultCorrelationRules,
		sink:      sink,
		dbTimeout: dbTimeout,
	}
}

// LoadVehicleState restores a vehicle's filter state and baselines from the
// store. Load-at-start, save-on-flush: between flushes memory is
// authoritative.
func (p *Processor) LoadVehicleState(ctx context.Context, v domain.Vehicle, ov *config.VehicleOverride) (*VehicleState, error) {
	th := config.ResolveThresholds(p.th, ov)

	fctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()

	fs, err := p.repos.LoadFilterState(fctx, v.ID)
	if err != nil {
		return nil, err
	}
	rows, err := p.repos.LoadBaselines(fctx, v.ID)
	if err != nil {
		return nil, err
	}

	st := &VehicleState{
		Vehicle:   v,
		Th:        th,
		Fallback:  estimator.NewFallbackEngine(th),
		Estimator: estimator.NewFuelEstimator(th, v.TankCapacityL, fs, v.ID),
		Events:    fuelevents.NewDetector(th, v.TankCapacityL),
		Baselines: make(map[string]*domain.AnomalyBaseline),
		Windows:   make(map[string]*anomaly.RollingWindow),
	}
	for i := range rows {
		b := rows[i]
		st.Baselines[b.SensorName] = &b
		st.Windows[b.SensorName] = anomaly.NewRollingWindow(int(th.BaselineWarmup) * 2)
	}
	return st, nil
}

// tick is one timestamp's worth of sensor values for a vehicle.
type tick struct {
	at     time.Time
	values map[string]float64
}

// groupTicks orders a cycle's samples into per-timestamp ticks.
func groupTicks(samples []domain.TelemetrySample) []tick {
	byTime := make(map[time.Time]map[string]float64)
	for _, s := range samples {
		if s.Missing {
			continue
		}
		m, ok := byTime[s.Timestamp]
		if !ok {
			m = make(map[string]float64)
			byTime[s.Timestamp] = m
		}
		m[s.SensorName] = s.Value
	}
	out := make([]tick, 0, len(byTime))
	for at, values := range byTime {
		out = append(out, tick{at: at, values: values})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

// ProcessCycle applies one cycle's samples to the vehicle in non-decreasing
// timestamp order. Out-of-order or duplicate-timestamp ticks are rejected,
// never re-integrated.
func (p *Processor) ProcessCycle(ctx context.Context, st *VehicleState, samples []domain.TelemetrySample, now time.Time) {
	for _, t := range groupTicks(samples) {
		fstate := st.Estimator.State()
		if fstate.Initialized && !t.at.After(fstate.LastSampleAt) {
			log.Debug().Str("vehicle", st.Vehicle.ID).Time("ts", t.at).
				Msg("out-of-order sample rejected")
			continue
		}
		p.processTick(ctx, st, t)
	}

	if now.Sub(st.lastRecompute) >= st.Th.BaselineRecompute {
		for name, b := range st.Baselines {
			anomaly.Recompute(b, st.Windows[name], now)
		}
		st.lastRecompute = now
		st.baselinesDirty = true
	}
}

func (p *Processor) processTick(ctx context.Context, st *VehicleState, t tick) {
	fstate := st.Estimator.State()

	elapsedHours := 0.0
	if fstate.Initialized {
		elapsedHours = t.at.Sub(fstate.LastSampleAt).Hours()
	}

	speed := st.lastSpeedKmh
	if v, ok := t.values[SensorSpeed]; ok {
		speed = v
		st.lastSpeedKmh = v
	}

	var rawRate *float64
	if v, ok := t.values[SensorFuelRate]; ok {
		rawRate = &v
	}

	resolved := st.Fallback.ResolveRate(st.Vehicle.ID, rawRate, speed, elapsedHours, fstate.LastValidRate)
	if resolved.Source == domain.SourceGapExcluded {
		// Gap law: the tick changes neither the level estimate nor any
		// baseline statistic. Only the ordering clock advances.
		fstate.LastSampleAt = t.at
		fstate.Initialized = true
		return
	}
	if resolved.Integrate && elapsedHours > 0 {
		st.Estimator.Predict(resolved.RateLph, elapsedHours)
		fstate.LastValidRate = resolved.RateLph
		if speed <= st.Th.IdleSpeedKmh {
			fstate.IdleHoursAccum += elapsedHours
		}
	}

	wasInitialized := fstate.Initialized
	beforeL := st.Estimator.GetEstimate().LevelL
	if level, ok := t.values[SensorFuelLevel]; ok {
		st.Estimator.Update(level, t.at)
		afterL := st.Estimator.GetEstimate().LevelL

		// First contact calibrates the default half-tank estimate; a step
		// change only means something once the trajectory is established.
		if wasInitialized {
			if ev := st.Events.CheckRefuel(st.Vehicle.ID, beforeL, afterL, time.Duration(elapsedHours*float64(time.Hour)), t.at); ev != nil {
				p.persistFuelEvent(ctx, ev)
			}
			maxRate := st.Fallback.MaxPlausibleRate(speed)
			if ev := st.Events.CheckTheft(st.Vehicle.ID, beforeL, afterL, speed, elapsedHours, maxRate, t.at); ev != nil {
				p.persistFuelEvent(ctx, ev)
			}
		}
	} else {
		// Keep ordering enforcement moving on rate-only ticks.
		fstate.LastSampleAt = t.at
		fstate.Initialized = true
	}

	// Every remaining sensor feeds the drift detector. A sensor missing
	// this tick simply skips its update.
	fired := make(map[string]float64)
	for name, value := range t.values {
		if name == SensorSpeed || name == SensorFuelRate || name == SensorFuelLevel {
			continue
		}
		b, ok := st.Baselines[name]
		if !ok {
			b = &domain.AnomalyBaseline{VehicleID: st.Vehicle.ID, SensorName: name}
			st.Baselines[name] = b
			st.Windows[name] = anomaly.NewRollingWindow(int(st.Th.BaselineWarmup) * 2)
		}
		st.Windows[name].Add(value)
		for _, ev := range p.detector.Observe(b, value, t.at) {
			fired[name] = ev.ZScore
			p.persistAnomaly(ctx, ev)
			st.recentSeverities = append(st.recentSeverities, ev.Severity)
		}
		st.baselinesDirty = true
	}

	for _, ev := range anomaly.Correlate(p.rules, st.Vehicle.ID, fired, t.at) {
		p.persistAnomaly(ctx, ev)
		st.recentSeverities = append(st.recentSeverities, ev.Severity)
	}

	if p.sink != nil {
		p.sink.EstimateUpdated(ctx, st.Vehicle.ID, st.Estimator.GetEstimate())
	}
}

func (p *Processor) persistAnomaly(ctx context.Context, ev domain.AnomalyEvent) {
	wctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()
	if err := p.repos.InsertAnomalyEvent(wctx, &ev); err != nil {
		log.Error().Err(err).Str("vehicle", ev.VehicleID).Str("sensor", ev.SensorName).
			Msg("anomaly event not persisted")
		return
	}
	if p.sink != nil {
		p.sink.AnomalyDetected(ctx, ev)
	}
}

func (p *Processor) persistFuelEvent(ctx context.Context, ev *domain.FuelEvent) {
	wctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()
	if err := p.repos.InsertFuelEvent(wctx, ev); err != nil {
		log.Error().Err(err).Str("vehicle", ev.VehicleID).Str("kind", string(ev.Kind)).
			Msg("fuel event not persisted")
		return
	}
	if p.sink != nil {
		p.sink.FuelEventDetected(ctx, *ev)
	}
}

// Flush writes the vehicle's filter state and dirty baselines. Runs on the
// coarse flush cadence, not per tick, to bound write volume: a restart
// loses at most one flush interval of drift tracking.
func (p *Processor) Flush(ctx context.Context, st *VehicleState, now time.Time) {
	wctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()

	if err := p.repos.SaveFilterState(wctx, st.Estimator.State()); err != nil {
		log.Error().Err(err).Str("vehicle", st.Vehicle.ID).Msg("filter state flush failed")
	}
	if st.baselinesDirty {
		for _, b := range st.Baselines {
			if err := p.repos.SaveBaseline(wctx, b); err != nil {
				log.Error().Err(err).Str("vehicle", st.Vehicle.ID).
					Str("sensor", b.SensorName).Msg("baseline flush failed")
			}
		}
		st.baselinesDirty = false
	}

	// Idle cross-validation rides the flush cadence.
	if now.Sub(st.lastIdleCheck) >= st.Th.BaselineRecompute {
		rec := estimator.ValidateIdleHours(st.Th, st.Vehicle.ID,
			st.Estimator.State().IdleHoursAccum, st.Vehicle.ReportedIdleHrs, now)
		if err := p.repos.InsertIdleValidation(wctx, &rec); err != nil {
			log.Error().Err(err).Str("vehicle", st.Vehicle.ID).Msg("idle validation not persisted")
		}
		st.lastIdleCheck = now
	}
}

// AggregateRisk reduces the vehicle's component summaries into one snapshot
// on the risk cadence.
func (p *Processor) AggregateRisk(ctx context.Context, st *VehicleState, now time.Time) {
	baselines := make([]domain.AnomalyBaseline, 0, len(st.Baselines))
	for _, b := range st.Baselines {
		baselines = append(baselines, *b)
	}

	offline := time.Duration(0)
	if fs := st.Estimator.State(); fs.Initialized {
		offline = now.Sub(fs.LastSampleAt)
	}

	snap := risk.Aggregate(st.Th, st.Vehicle.ID, risk.Inputs{
		Baselines:        baselines,
		RecentSeverities: st.recentSeverities,
		ActiveDTCCount:   st.Vehicle.ActiveDTCCount,
		WorstDTCSeverity: st.Vehicle.WorstDTCSeverity,
		OfflineFor:       offline,
		LastServiceAt:    st.Vehicle.LastServiceAt,
	}, now)

	wctx, cancel := context.WithTimeout(ctx, p.dbTimeout)
	defer cancel()
	if err := p.repos.InsertRiskSnapshot(wctx, &snap); err != nil {
		log.Error().Err(err).Str("vehicle", st.Vehicle.ID).Msg("risk snapshot not persisted")
	} else if p.sink != nil {
		p.sink.RiskUpdated(ctx, snap)
	}

	st.recentSeverities = st.recentSeverities[:0]
}
