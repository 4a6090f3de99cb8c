package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiztomas88/fuel-copilot/internal/anomaly"
	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
	"github.com/ruiztomas88/fuel-copilot/internal/estimator"
	"github.com/ruiztomas88/fuel-copilot/internal/fuelevents"
)

func newTestState(th config.Thresholds) *VehicleState {
	v := domain.Vehicle{ID: "v1", FleetID: "f1", TankCapacityL: 100}
	fs := &domain.FilterState{
		VehicleID:     "v1",
		LevelEstimate: 60,
		LevelVariance: th.DefaultMeasNoise,
		AdaptiveNoise: th.DefaultMeasNoise,
		LastSampleAt:  time.Unix(1000000, 0),
		Initialized:   true,
	}
	return &VehicleState{
		Vehicle:   v,
		Th:        th,
		Fallback:  estimator.NewFallbackEngine(th),
		Estimator: estimator.NewFuelEstimator(th, v.TankCapacityL, fs, v.ID),
		Events:    fuelevents.NewDetector(th, v.TankCapacityL),
		Baselines: make(map[string]*domain.AnomalyBaseline),
		Windows:   make(map[string]*anomaly.RollingWindow),
	}
}

func newTestProcessor(th config.Thresholds) *Processor {
	// No repos: these tests exercise pure pipeline paths that never reach
	// the persistence boundary.
	return NewProcessor(th, nil, nil, time.Second)
}

func sample(vehicle, sensor string, value float64, at time.Time) domain.TelemetrySample {
	return domain.TelemetrySample{VehicleID: vehicle, SensorName: sensor, Value: value, Timestamp: at}
}

func TestGroupTicksOrdersByTimestamp(t *testing.T) {
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	ticks := groupTicks([]domain.TelemetrySample{
		sample("v1", SensorSpeed, 40, t2),
		sample("v1", SensorFuelRate, 9, t1),
		sample("v1", SensorSpeed, 30, t1),
	})

	require.Len(t, ticks, 2)
	assert.Equal(t, t1, ticks[0].at)
	assert.Equal(t, t2, ticks[1].at)
	assert.Len(t, ticks[0].values, 2)
	assert.Equal(t, 30.0, ticks[0].values[SensorSpeed])
}

func TestProcessCycleIntegratesConsumption(t *testing.T) {
	th := config.DefaultThresholds()
	p := newTestProcessor(th)
	st := newTestState(th)
	base := st.Estimator.State().LastSampleAt

	next := base.Add(30 * time.Minute)
	p.ProcessCycle(context.Background(), st, []domain.TelemetrySample{
		sample("v1", SensorSpeed, 45, next),
		sample("v1", SensorFuelRate, 10, next),
	}, next)

	// 10 L/h over 30 minutes.
	assert.InDelta(t, 55, st.Estimator.GetEstimate().LevelL, 1e-9)
	assert.Equal(t, next, st.Estimator.State().LastSampleAt)
}

func TestProcessCycleRejectsOutOfOrder(t *testing.T) {
	th := config.DefaultThresholds()
	p := newTestProcessor(th)
	st := newTestState(th)
	base := st.Estimator.State().LastSampleAt
	level := st.Estimator.GetEstimate().LevelL

	// Before the last applied sample, and a duplicate of it: both rejected.
	p.ProcessCycle(context.Background(), st, []domain.TelemetrySample{
		sample("v1", SensorFuelRate, 10, base.Add(-10*time.Minute)),
		sample("v1", SensorFuelRate, 10, base),
	}, base)

	assert.Equal(t, level, st.Estimator.GetEstimate().LevelL)
	assert.Equal(t, base, st.Estimator.State().LastSampleAt)
}

func TestProcessCycleGapLaw(t *testing.T) {
	th := config.DefaultThresholds()
	p := newTestProcessor(th)
	st := newTestState(th)
	base := st.Estimator.State().LastSampleAt
	level := st.Estimator.GetEstimate().LevelL

	st.Baselines["coolant_temp"] = &domain.AnomalyBaseline{
		VehicleID: "v1", SensorName: "coolant_temp",
		BaselineMean: 85, BaselineStd: 2, SampleCount: 100,
	}
	st.Windows["coolant_temp"] = anomaly.NewRollingWindow(10)
	countBefore := st.Baselines["coolant_temp"].SampleCount

	// 2.5 hours of silence, then a burst: the tick is excluded entirely.
	next := base.Add(150 * time.Minute)
	p.ProcessCycle(context.Background(), st, []domain.TelemetrySample{
		sample("v1", SensorSpeed, 45, next),
		sample("v1", SensorFuelRate, 10, next),
		sample("v1", "coolant_temp", 120, next),
	}, next)

	assert.Equal(t, level, st.Estimator.GetEstimate().LevelL, "gap tick never changes the level")
	assert.Equal(t, countBefore, st.Baselines["coolant_temp"].SampleCount, "gap tick never changes baselines")
	assert.Equal(t, next, st.Estimator.State().LastSampleAt, "ordering clock still advances")
}

func TestProcessCycleCarriesSpeedForward(t *testing.T) {
	th := config.DefaultThresholds()
	p := newTestProcessor(th)
	st := newTestState(th)
	base := st.Estimator.State().LastSampleAt

	t1 := base.Add(10 * time.Minute)
	t2 := base.Add(20 * time.Minute)
	p.ProcessCycle(context.Background(), st, []domain.TelemetrySample{
		sample("v1", SensorSpeed, 90, t1),
		sample("v1", SensorFuelRate, 20, t1),
		// No speed at t2: the last known speed applies, so a 20 L/h rate
		// is still plausible at highway speed.
		sample("v1", SensorFuelRate, 20, t2),
	}, t2)

	assert.Equal(t, 90.0, st.lastSpeedKmh)
	assert.InDelta(t, 60-20.0/6-20.0/6, st.Estimator.GetEstimate().LevelL, 1e-9)
}

func TestFirstReadingCalibratesWithoutFuelEvents(t *testing.T) {
	th := config.DefaultThresholds()
	p := newTestProcessor(th)

	// A never-before-seen vehicle: the estimator starts at half tank and
	// uninitialized.
	v := domain.Vehicle{ID: "v1", FleetID: "f1", TankCapacityL: 100}
	st := &VehicleState{
		Vehicle:   v,
		Th:        th,
		Fallback:  estimator.NewFallbackEngine(th),
		Estimator: estimator.NewFuelEstimator(th, v.TankCapacityL, nil, v.ID),
		Events:    fuelevents.NewDetector(th, v.TankCapacityL),
		Baselines: make(map[string]*domain.AnomalyBaseline),
		Windows:   make(map[string]*anomaly.RollingWindow),
	}

	// A first reading well above half tank is calibration, not a refuel.
	at := time.Unix(1000000, 0)
	p.ProcessCycle(context.Background(), st, []domain.TelemetrySample{
		sample("v1", SensorFuelLevel, 90, at),
	}, at)

	assert.True(t, st.Estimator.State().Initialized)
	assert.Equal(t, at, st.Estimator.State().LastSampleAt)
	assert.Greater(t, st.Estimator.GetEstimate().LevelL, 50.0,
		"the reading pulls the default estimate upward")
}

func TestValidateThresholds(t *testing.T) {
	th := config.DefaultThresholds()
	require.NoError(t, th.Validate())

	bad := th
	bad.MaxGapHours = 0
	assert.Error(t, bad.Validate())

	bad = th
	bad.EWMAAlpha = 1.5
	assert.Error(t, bad.Validate())

	bad = th
	bad.CusumReset = "sometimes"
	assert.Error(t, bad.Validate())
}

func TestResolveThresholdOverrides(t *testing.T) {
	base := config.DefaultThresholds()
	blend := 1.08
	resolved := config.ResolveThresholds(base, &config.VehicleOverride{
		VehicleID:       "v1",
		BlendCorrection: &blend,
	})
	assert.Equal(t, 1.08, resolved.BlendCorrection)
	assert.Equal(t, base.IdleConstLph, resolved.IdleConstLph)

	same := config.ResolveThresholds(base, nil)
	assert.Equal(t, base, same)
}
