package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ruiztomas88/fuel-copilot/internal/config"
	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

type stubSource struct {
	samples []domain.TelemetrySample
}

func (s *stubSource) Drain() []domain.TelemetrySample {
	out := s.samples
	s.samples = nil
	return out
}

func TestRunCycleSkipsWhileBusy(t *testing.T) {
	th := config.DefaultThresholds()
	s := New(newTestProcessor(th), &stubSource{}, time.Second, time.Hour, time.Hour, 2)

	// A cycle is still in flight: the next tick must be dropped, not queued.
	s.inCycle.Store(true)
	s.runCycle(context.Background(), time.Now())
	assert.Equal(t, int64(1), s.SkippedCycles())
	assert.Equal(t, int64(0), s.Cycles())

	s.inCycle.Store(false)
	s.runCycle(context.Background(), time.Now())
	assert.Equal(t, int64(1), s.Cycles())
	assert.Equal(t, int64(1), s.SkippedCycles())
	assert.False(t, s.inCycle.Load(), "guard released once the cycle completes")
}

func TestRunCycleProcessesRegisteredVehicles(t *testing.T) {
	th := config.DefaultThresholds()
	st := newTestState(th)
	base := st.Estimator.State().LastSampleAt
	next := base.Add(30 * time.Minute)

	src := &stubSource{samples: []domain.TelemetrySample{
		sample("v1", SensorSpeed, 45, next),
		sample("v1", SensorFuelRate, 10, next),
	}}
	s := New(newTestProcessor(th), src, time.Second, time.Hour, time.Hour, 2)
	s.Register(st)
	s.lastFlush = next
	s.lastRisk = next

	s.runCycle(context.Background(), next)

	// 10 L/h over 30 minutes, fanned out through the worker pool.
	assert.InDelta(t, 55, st.Estimator.GetEstimate().LevelL, 1e-9)
	assert.Equal(t, int64(1), s.Cycles())
	assert.Equal(t, int64(0), s.SkippedCycles())
}
