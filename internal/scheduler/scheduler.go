package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ruiztomas88/fuel-copilot/internal/domain"
)

// Source hands the scheduler everything that arrived since the last cycle.
type Source interface {
	Drain() []domain.TelemetrySample
}

// Scheduler drives one pass over all vehicles at a fixed interval. Vehicles
// are processed independently on a bounded worker pool; one vehicle's
// failure never aborts the cycle. If a cycle is still running when the next
// tick fires, the tick is skipped, never queued.
type Scheduler struct {
	proc   *Processor
	source Source

	interval      time.Duration
	flushInterval time.Duration
	riskInterval  time.Duration
	workers       int

	vehicles  map[string]*VehicleState
	lastFlush time.Time
	lastRisk  time.Time
	inCycle   atomic.Bool
	cycleWG   sync.WaitGroup
	cycles    atomic.Int64
	skipped   atomic.Int64
}

func New(proc *Processor, source Source, interval, flushInterval, riskInterval time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		proc:          proc,
		source:        source,
		interval:      interval,
		flushInterval: flushInterval,
		riskInterval:  riskInterval,
		workers:       workers,
		vehicles:      make(map[string]*VehicleState),
	}
}

// Register adds a vehicle's state object to the schedule. The scheduler
// owns it from here on.
func (s *Scheduler) Register(st *VehicleState) {
	s.vehicles[st.Vehicle.ID] = st
}

// Run blocks until ctx is cancelled, firing a cycle every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Int("vehicles", len(s.vehicles)).
		Int("workers", s.workers).Msg("cycle scheduler running")

	for {
		select {
		case <-ctx.Done():
			// Wait out any in-flight cycle, then flush so a clean shutdown
			// loses nothing.
			s.cycleWG.Wait()
			s.flushAll(context.Background(), time.Now())
			return
		case now := <-ticker.C:
			s.cycleWG.Add(1)
			go func() {
				defer s.cycleWG.Done()
				s.runCycle(ctx, now)
			}()
		}
	}
}

// Cycles and SkippedCycles expose loop counters for health reporting.
func (s *Scheduler) Cycles() int64        { return s.cycles.Load() }
func (s *Scheduler) SkippedCycles() int64 { return s.skipped.Load() }

// runCycle is guarded: when the previous cycle is still in flight, the tick
// is skipped and counted, never queued behind it.
func (s *Scheduler) runCycle(ctx context.Context, now time.Time) {
	if !s.inCycle.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Warn().Time("tick", now).Msg("previous cycle still running, tick skipped")
		return
	}
	defer s.inCycle.Store(false)

	start := time.Now()
	byVehicle := make(map[string][]domain.TelemetrySample)
	for _, sample := range s.source.Drain() {
		byVehicle[sample.VehicleID] = append(byVehicle[sample.VehicleID], sample)
	}

	flush := now.Sub(s.lastFlush) >= s.flushInterval
	riskDue := now.Sub(s.lastRisk) >= s.riskInterval

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for _, st := range s.vehicles {
		wg.Add(1)
		sem <- struct{}{}
		go func(st *VehicleState) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("vehicle", st.Vehicle.ID).Interface("panic", r).
						Msg("vehicle processing panicked, state retained for next cycle")
				}
			}()

			s.proc.ProcessCycle(ctx, st, byVehicle[st.Vehicle.ID], now)
			if flush {
				s.proc.Flush(ctx, st, now)
			}
			if riskDue {
				s.proc.AggregateRisk(ctx, st, now)
			}
		}(st)
	}
	wg.Wait()

	if flush {
		s.lastFlush = now
	}
	if riskDue {
		s.lastRisk = now
	}
	s.cycles.Add(1)

	elapsed := time.Since(start)
	if elapsed > s.interval {
		log.Warn().Dur("elapsed", elapsed).Msg("cycle overran its interval")
	}
	log.Debug().Dur("elapsed", elapsed).Int("vehicles_with_samples", len(byVehicle)).Msg("cycle complete")
}

func (s *Scheduler) flushAll(ctx context.Context, now time.Time) {
	for _, st := range s.vehicles {
		s.proc.Flush(ctx, st, now)
	}
}
