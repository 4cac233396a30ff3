package sim

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/simulation"
)

type staticRegistry map[string]*Loop

func (r staticRegistry) ForEachLive(fn func(sessionID string, loop *Loop)) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, r[k])
	}
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots map[string][]game.Snapshot
}

func (s *recordingSink) Broadcast(sessionID string, snapshot game.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshots == nil {
		s.snapshots = make(map[string][]game.Snapshot)
	}
	s.snapshots[sessionID] = append(s.snapshots[sessionID], snapshot)
}

func (s *recordingSink) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots[sessionID])
}

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestDriverTickAdvancesEveryInstance(t *testing.T) {
	a, b := newFakeEngine(), newFakeEngine()
	registry := staticRegistry{
		"a": NewLoop("a", a, DefaultLoopConfig(), LoopDeps{}),
		"b": NewLoop("b", b, DefaultLoopConfig(), LoopDeps{}),
	}
	sink := &recordingSink{}
	driver := NewDriver(registry, sink, DriverConfig{TickRate: 30}, DriverDeps{})

	result := driver.Tick(context.Background())
	driver.Tick(context.Background())

	if result.Instances != 2 || result.Failed != 0 || result.Tick != 1 {
		t.Fatalf("unexpected tick result %+v", result)
	}
	for name, engine := range map[string]*fakeEngine{"a": a, "b": b} {
		if len(engine.advances) != 2 {
			t.Fatalf("instance %s advanced %d times, want 2", name, len(engine.advances))
		}
		if engine.advances[0] != 1.0/30 {
			t.Fatalf("instance %s advanced by %v, want 1/30", name, engine.advances[0])
		}
		if sink.count(name) != 2 {
			t.Fatalf("instance %s broadcast %d snapshots, want 2", name, sink.count(name))
		}
	}
}

func TestDriverIsolatesFailingInstance(t *testing.T) {
	broken := newFakeEngine()
	broken.err = errors.New("boom")
	closed := newFakeEngine()
	closed.err = game.ErrClosed
	healthy := newFakeEngine()
	registry := staticRegistry{
		"broken":  NewLoop("broken", broken, DefaultLoopConfig(), LoopDeps{}),
		"closed":  NewLoop("closed", closed, DefaultLoopConfig(), LoopDeps{}),
		"healthy": NewLoop("healthy", healthy, DefaultLoopConfig(), LoopDeps{}),
	}
	sink := &recordingSink{}
	pub := &capturePublisher{}
	driver := NewDriver(registry, sink, DriverConfig{TickRate: 30}, DriverDeps{Publisher: pub})

	result := driver.Tick(context.Background())
	if result.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", result)
	}
	if sink.count("healthy") != 1 || sink.count("broken") != 0 || sink.count("closed") != 0 {
		t.Fatalf("unexpected broadcasts %+v", sink.snapshots)
	}
	events := pub.byType(simulation.EventAdvanceFailed)
	if len(events) != 1 || events[0].Actor.ID != "broken" {
		t.Fatalf("expected one failure event for broken, got %+v", events)
	}
}

func TestDriverReportsTickBudgetOverrun(t *testing.T) {
	registry := staticRegistry{"a": NewLoop("a", newFakeEngine(), DefaultLoopConfig(), LoopDeps{})}
	pub := &capturePublisher{}
	clock := &steppingClock{now: time.Unix(0, 0), step: 100 * time.Millisecond}
	driver := NewDriver(registry, nil, DriverConfig{TickRate: 30}, DriverDeps{Clock: clock, Publisher: pub})

	driver.Tick(context.Background())
	driver.Tick(context.Background())

	events := pub.byType(simulation.EventTickBudgetOverrun)
	if len(events) != 2 {
		t.Fatalf("expected two overrun events, got %d", len(events))
	}
	payload, ok := events[1].Payload.(simulation.TickBudgetOverrunPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[1].Payload)
	}
	if payload.Streak != 2 || payload.Instances != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if events[0].Severity != logging.SeverityWarn {
		t.Fatalf("expected warning severity, got %v", events[0].Severity)
	}
}

func TestDriverRunStopsOnCancel(t *testing.T) {
	engine := newFakeEngine()
	registry := staticRegistry{"a": NewLoop("a", engine, DefaultLoopConfig(), LoopDeps{})}
	sink := &recordingSink{}
	driver := NewDriver(registry, sink, DriverConfig{TickRate: 200}, DriverDeps{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count("a") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("driver did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
