package sim

import (
	"context"
	"errors"
	"time"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/simulation"
)

const (
	DefaultTickRate = 30

	driverTicksMetricKey        = "arena_driver_ticks_total"
	driverTickDurationMetricKey = "arena_driver_tick_duration_micros"
	driverInstancesMetricKey    = "arena_driver_live_instances"
	driverOverrunMetricKey      = "arena_driver_tick_overrun_total"
)

// Registry enumerates the live instances the driver advances.
type Registry interface {
	ForEachLive(fn func(sessionID string, loop *Loop))
}

// SnapshotSink receives every instance's snapshot once per tick.
type SnapshotSink interface {
	Broadcast(sessionID string, snapshot game.Snapshot)
}

// SnapshotSinkFunc adapts a function into a SnapshotSink.
type SnapshotSinkFunc func(sessionID string, snapshot game.Snapshot)

func (f SnapshotSinkFunc) Broadcast(sessionID string, snapshot game.Snapshot) {
	if f == nil {
		return
	}
	f(sessionID, snapshot)
}

// DriverConfig tunes the shared tick.
type DriverConfig struct {
	TickRate int
}

// DriverDeps carries the driver's collaborators. Every field is optional.
type DriverDeps struct {
	Clock     logging.Clock
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// TickResult summarizes one pass over the live instances.
type TickResult struct {
	Tick      uint64
	Instances int
	Failed    int
	Duration  time.Duration
	Budget    time.Duration
}

// Driver advances every live instance on one fixed-rate ticker. A single
// goroutine drives all instances, so no instance is advanced reentrantly.
type Driver struct {
	registry  Registry
	sink      SnapshotSink
	tickRate  int
	dt        float64
	budget    time.Duration
	clock     logging.Clock
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	tick   uint64
	streak uint64
}

// NewDriver constructs a driver over registry. A nil sink discards snapshots.
func NewDriver(registry Registry, sink SnapshotSink, cfg DriverConfig, deps DriverDeps) *Driver {
	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	if sink == nil {
		sink = SnapshotSinkFunc(nil)
	}
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Driver{
		registry:  registry,
		sink:      sink,
		tickRate:  tickRate,
		dt:        1.0 / float64(tickRate),
		budget:    time.Second / time.Duration(tickRate),
		clock:     clock,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		publisher: publisher,
	}
}

// TickRate reports the configured ticks per second.
func (d *Driver) TickRate() int {
	if d == nil {
		return 0
	}
	return d.tickRate
}

// Run ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if d == nil {
		return nil
	}
	ticker := time.NewTicker(d.budget)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick advances every live instance once by 1/TickRate, in turn, and hands
// each snapshot to the sink. An instance that fails to advance is reported
// and skipped; the others are unaffected.
func (d *Driver) Tick(ctx context.Context) TickResult {
	if d == nil || d.registry == nil {
		return TickResult{}
	}
	d.tick++
	start := d.clock.Now()

	type entry struct {
		sessionID string
		loop      *Loop
	}
	var live []entry
	d.registry.ForEachLive(func(sessionID string, loop *Loop) {
		live = append(live, entry{sessionID: sessionID, loop: loop})
	})

	result := TickResult{Tick: d.tick, Instances: len(live), Budget: d.budget}
	for _, item := range live {
		step, err := item.loop.Advance(d.dt)
		if err != nil {
			if errors.Is(err, game.ErrClosed) {
				continue
			}
			result.Failed++
			simulation.AdvanceFailed(ctx, d.publisher, d.tick, item.sessionID, simulation.AdvanceFailedPayload{Error: err.Error()})
			if d.logger != nil {
				d.logger.Printf("[sim] advance failed for instance %s: %v", item.sessionID, err)
			}
			continue
		}
		d.sink.Broadcast(item.sessionID, step.Snapshot)
	}

	result.Duration = d.clock.Now().Sub(start)
	d.record(ctx, result)
	return result
}

func (d *Driver) record(ctx context.Context, result TickResult) {
	if d.metrics != nil {
		d.metrics.Add(driverTicksMetricKey, 1)
		d.metrics.Store(driverTickDurationMetricKey, uint64(result.Duration.Microseconds()))
		d.metrics.Store(driverInstancesMetricKey, uint64(result.Instances))
	}
	if result.Duration <= result.Budget {
		d.streak = 0
		return
	}
	d.streak++
	if d.metrics != nil {
		d.metrics.Add(driverOverrunMetricKey, 1)
	}
	simulation.TickBudgetOverrun(ctx, d.publisher, result.Tick, simulation.TickBudgetOverrunPayload{
		DurationMillis: result.Duration.Milliseconds(),
		BudgetMillis:   result.Budget.Milliseconds(),
		Ratio:          float64(result.Duration) / float64(result.Budget),
		Streak:         d.streak,
		Instances:      result.Instances,
	}, nil)
}
