package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

func testThresholds() config.Thresholds {
	return config.DefaultThresholds()
}

func fptr(v float64) *float64 { return &v }

func TestResolveRateAcceptsPlausibleSensor(t *testing.T) {
	f := NewFallbackEngine(testThresholds())

	// Moving at city speed, a sane rate passes through unchanged.
	got := f.ResolveRate("v1", fptr(9.5), 45, 0.25, 7.0)
	assert.Equal(t, domain.SourceSensor, got.Source)
	assert.Equal(t, 9.5, got.RateLph)
	assert.True(t, got.Integrate)

	// Idle with a rate inside the idle band.
	got = f.ResolveRate("v1", fptr(1.5), 0, 0.25, 7.0)
	assert.Equal(t, domain.SourceSensor, got.Source)
	assert.Equal(t, 1.5, got.RateLph)
}

func TestResolveRateIdleFallback(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	// Scenario A: no raw value, speed ~ 0 -> fixed idle constant.
	got := f.ResolveRate("v1", nil, 0.5, 0.25, 7.0)
	assert.Equal(t, domain.SourceIdleFallback, got.Source)
	assert.Equal(t, th.IdleConstLph, got.RateLph)
}

func TestResolveRateCityModelFallback(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	// Scenario B: no raw value at 30 km/h -> city consumption model.
	got := f.ResolveRate("v1", nil, 30, 0.25, 7.0)
	require.Equal(t, domain.SourceModelFallback, got.Source)
	assert.InDelta(t, th.CityLPer100Km/100*30, got.RateLph, 1e-9)
}

func TestResolveRateHighwayModelFallback(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	got := f.ResolveRate("v1", nil, 90, 0.25, 7.0)
	require.Equal(t, domain.SourceModelFallback, got.Source)
	assert.InDelta(t, th.HighwayLPer100Km/100*90, got.RateLph, 1e-9)
}

func TestResolveRateRejectsSpike(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	// Scenario C: 200 L/h at city speed is physically impossible; the raw
	// value must never come back.
	got := f.ResolveRate("v1", fptr(200), 30, 0.25, 7.0)
	assert.NotEqual(t, domain.SourceSensor, got.Source)
	assert.NotEqual(t, 200.0, got.RateLph)
	assert.Equal(t, domain.SourceModelFallback, got.Source)
}

func TestResolveRateRejectsNegative(t *testing.T) {
	f := NewFallbackEngine(testThresholds())

	// Scenario D: negative rates are rejected at any speed.
	for _, speed := range []float64{0, 30, 90} {
		got := f.ResolveRate("v1", fptr(-5), speed, 0.25, 7.0)
		assert.NotEqual(t, domain.SourceSensor, got.Source, "speed %v", speed)
		assert.NotEqual(t, -5.0, got.RateLph, "speed %v", speed)
	}
}

func TestResolveRateCarryForward(t *testing.T) {
	f := NewFallbackEngine(testThresholds())

	// Implausible raw, speed reported as negative junk: the model cannot
	// apply either, so the last valid rate carries forward.
	got := f.ResolveRate("v1", fptr(500), -1, 0.25, 7.0)
	assert.Equal(t, domain.SourceCarryForward, got.Source)
	assert.Equal(t, 7.0, got.RateLph)
}

func TestResolveRateGapExcluded(t *testing.T) {
	f := NewFallbackEngine(testThresholds())

	// Scenario F: a 2.5 hour gap is a data gap, not a long idle period.
	got := f.ResolveRate("v1", fptr(9.5), 45, 2.5, 7.0)
	assert.Equal(t, domain.SourceGapExcluded, got.Source)
	assert.False(t, got.Integrate)
}

func TestPlausibleBounds(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	assert.True(t, f.Plausible(1.0, 0))
	assert.False(t, f.Plausible(0.1, 0), "below the idle band")
	assert.False(t, f.Plausible(10.0, 0), "far above the idle band")

	// The moving band scales with speed.
	assert.True(t, f.Plausible(10, 40))
	assert.False(t, f.Plausible(30, 40))
}

func TestMaxPlausibleRateCapped(t *testing.T) {
	th := testThresholds()
	f := NewFallbackEngine(th)

	assert.Equal(t, th.IdleRateMaxLph, f.MaxPlausibleRate(0))
	assert.Equal(t, th.MovingRateMaxLph, f.MaxPlausibleRate(500))
}
