package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

func TestPredictIntegratesConsumption(t *testing.T) {
	e := NewFuelEstimator(testThresholds(), 100, nil, "v1")
	start := e.GetEstimate()

	e.Predict(10, 0.5) // 10 L/h for half an hour

	est := e.GetEstimate()
	assert.InDelta(t, start.LevelL-5, est.LevelL, 1e-9)
	assert.Greater(t, est.Variance, start.Variance)
}

func TestPredictAppliesBlendCorrection(t *testing.T) {
	th := testThresholds()
	th.BlendCorrection = 1.1
	e := NewFuelEstimator(th, 100, nil, "v1")
	start := e.GetEstimate()

	e.Predict(10, 1)

	assert.InDelta(t, start.LevelL-11, e.GetEstimate().LevelL, 1e-9)
}

func TestLevelClampedToTank(t *testing.T) {
	e := NewFuelEstimator(testThresholds(), 100, nil, "v1")

	e.Predict(1000, 10) // burn far more than the tank holds
	assert.Equal(t, 0.0, e.GetEstimate().LevelL)

	at := time.Now()
	e.Update(500, at) // reading above capacity
	assert.LessOrEqual(t, e.GetEstimate().LevelL, 100.0)
	assert.GreaterOrEqual(t, e.GetEstimate().Variance, 0.0)
}

func TestUpdatePullsTowardReading(t *testing.T) {
	e := NewFuelEstimator(testThresholds(), 100, nil, "v1")
	before := e.GetEstimate().LevelL

	e.Update(before+10, time.Now())

	after := e.GetEstimate().LevelL
	assert.Greater(t, after, before)
	assert.Less(t, after, before+10, "gain below 1 never jumps fully to the reading")
}

func TestAdaptiveNoiseTracksVolatileInnovations(t *testing.T) {
	th := testThresholds()
	quiet := NewFuelEstimator(th, 100, nil, "quiet")
	noisy := NewFuelEstimator(th, 100, nil, "noisy")

	at := time.Now()
	for i := 0; i < th.InnovationWindow; i++ {
		at = at.Add(time.Minute)
		quiet.Update(quiet.GetEstimate().LevelL+0.2, at)
		offset := 15.0
		if i%2 == 0 {
			offset = -15.0
		}
		noisy.Update(noisy.GetEstimate().LevelL+offset, at)
	}

	assert.Greater(t, noisy.GetEstimate().AdaptiveNoise, quiet.GetEstimate().AdaptiveNoise,
		"volatile innovations must raise the measurement-noise estimate")
}

func TestBiasDetection(t *testing.T) {
	th := testThresholds()
	e := NewFuelEstimator(th, 200, nil, "v1")

	// Readings systematically far above the estimate: a calibration
	// problem, not noise.
	at := time.Now()
	for i := 0; i < th.InnovationWindow; i++ {
		at = at.Add(time.Minute)
		e.Update(e.GetEstimate().LevelL+25, at)
	}
	assert.True(t, e.GetEstimate().BiasDetected)
}

func TestNoBiasOnSymmetricNoise(t *testing.T) {
	th := testThresholds()
	e := NewFuelEstimator(th, 200, nil, "v1")

	at := time.Now()
	for i := 0; i < th.InnovationWindow; i++ {
		at = at.Add(time.Minute)
		offset := 3.0
		if i%2 == 0 {
			offset = -3.0
		}
		e.Update(e.GetEstimate().LevelL+offset, at)
	}
	assert.False(t, e.GetEstimate().BiasDetected)
}

// Round-trip: resuming from persisted state must reproduce the trajectory
// of an uninterrupted run over the same inputs.
func TestStateRoundTripResume(t *testing.T) {
	th := testThresholds()
	inputs := []struct {
		rate, hours, reading float64
	}{
		{10, 0.5, 93}, {9, 0.5, 89.2}, {12, 0.5, 82.5}, {8, 0.5, 79.1},
	}

	continuous := NewFuelEstimator(th, 100, nil, "v1")
	resumed := NewFuelEstimator(th, 100, nil, "v1")

	at := time.Now()
	for i, in := range inputs {
		at = at.Add(30 * time.Minute)
		continuous.Predict(in.rate, in.hours)
		continuous.Update(in.reading, at)

		resumed.Predict(in.rate, in.hours)
		resumed.Update(in.reading, at)

		// Snapshot and reload mid-sequence, as a restart would.
		if i == 1 {
			snap := *resumed.State()
			snap.Innovations = append([]float64(nil), resumed.State().Innovations...)
			resumed = NewFuelEstimator(th, 100, &snap, "v1")
		}
	}

	require.InDelta(t, continuous.GetEstimate().LevelL, resumed.GetEstimate().LevelL, 1e-9)
	require.InDelta(t, continuous.GetEstimate().Variance, resumed.GetEstimate().Variance, 1e-9)
	assert.Equal(t, continuous.GetEstimate().BiasDetected, resumed.GetEstimate().BiasDetected)
}

func TestInnovationHistoryBounded(t *testing.T) {
	th := testThresholds()
	e := NewFuelEstimator(th, 100, nil, "v1")

	at := time.Now()
	for i := 0; i < th.InnovationWindow*3; i++ {
		at = at.Add(time.Minute)
		e.Update(50, at)
	}
	assert.LessOrEqual(t, len(e.State().Innovations), th.InnovationWindow)
}

func TestIdleValidation(t *testing.T) {
	th := testThresholds()
	now := time.Now()

	rec := ValidateIdleHours(th, "v1", 130, 100, now)
	assert.True(t, rec.Flagged)
	assert.Equal(t, domain.IdleConfidenceHigh, rec.Confidence)
	assert.InDelta(t, 30, rec.DeviationPct, 1e-9)

	rec = ValidateIdleHours(th, "v1", 101, 100, now)
	assert.False(t, rec.Flagged)

	// No reported counter: nothing to compare against.
	rec = ValidateIdleHours(th, "v1", 50, 0, now)
	assert.False(t, rec.Flagged)
	assert.Equal(t, domain.IdleConfidenceLow, rec.Confidence)
}
