package instance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/sim"
)

type countingFactory struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *countingFactory) build(name string) (physics.World, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return physics.NewChipmunkWorld(name, physics.DefaultConfig())
}

func testConfig(grace time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Game.EnemyCount = 3
	cfg.IdleGrace = grace
	return cfg
}

func newTestManager(t *testing.T, cfg Config, factory *countingFactory) *Manager {
	t.Helper()
	manager, err := NewManager(cfg, Deps{Factory: factory.build, Seed: "test"})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewManagerRequiresFactory(t *testing.T) {
	if _, err := NewManager(DefaultConfig(), Deps{}); err == nil {
		t.Fatalf("expected error without physics factory")
	}
}

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	factory := &countingFactory{}
	manager := newTestManager(t, testConfig(time.Second), factory)

	first, err := manager.GetOrCreate(context.Background(), "room")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	second, err := manager.GetOrCreate(context.Background(), "room")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same instance on repeated lookups")
	}
	if first.Label != "game:0" {
		t.Fatalf("expected label game:0, got %q", first.Label)
	}
	if got := factory.calls.Load(); got != 1 {
		t.Fatalf("expected one physics initialization, got %d", got)
	}

	other, _ := manager.GetOrCreate(context.Background(), "other")
	if other.Label != "game:1" || other == first {
		t.Fatalf("expected a distinct instance labelled game:1, got %q", other.Label)
	}
}

func TestGetOrCreateRejectsEmptySessionID(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	if _, err := manager.GetOrCreate(context.Background(), ""); !errors.Is(err, ErrEmptySessionID) {
		t.Fatalf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestConcurrentFirstContactCreatesOneInstance(t *testing.T) {
	factory := &countingFactory{delay: 20 * time.Millisecond}
	manager := newTestManager(t, testConfig(time.Second), factory)

	const callers = 16
	results := make([]*Instance, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			inst, err := manager.GetOrCreate(context.Background(), "race")
			if err != nil {
				t.Errorf("GetOrCreate returned error: %v", err)
				return
			}
			results[i] = inst
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different instance", i)
		}
	}
	if got := factory.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one physics initialization, got %d", got)
	}
	if manager.Len() != 1 {
		t.Fatalf("expected one registered instance, got %d", manager.Len())
	}
}

func TestFailedCreationRegistersNothing(t *testing.T) {
	boom := errors.New("no physics today")
	factory := &countingFactory{err: boom}
	manager := newTestManager(t, testConfig(time.Second), factory)

	if _, err := manager.GetOrCreate(context.Background(), "room"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if _, ok := manager.Get("room"); ok {
		t.Fatalf("failed instance must not be registered")
	}

	factory.err = nil
	if _, err := manager.GetOrCreate(context.Background(), "room"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestGetOrCreateHonoursCancelledContext(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := manager.GetOrCreate(ctx, "room"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGetIsSideEffectFree(t *testing.T) {
	factory := &countingFactory{}
	manager := newTestManager(t, testConfig(time.Second), factory)
	if _, ok := manager.Get("missing"); ok {
		t.Fatalf("expected absence for unknown session")
	}
	if factory.calls.Load() != 0 || manager.Len() != 0 {
		t.Fatalf("Get must not create instances")
	}
}

func TestRemoveReleasesEngine(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	inst, _, err := manager.Join(context.Background(), "room", "conn")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	manager.Remove("room")
	manager.Remove("room")

	if _, ok := manager.Get("room"); ok {
		t.Fatalf("expected instance to be unregistered")
	}
	if !inst.Engine.Closed() {
		t.Fatalf("expected engine to be closed")
	}
}

func TestForEachLiveVisitsEveryInstance(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	for _, id := range []string{"c", "a", "b"} {
		if _, err := manager.GetOrCreate(context.Background(), id); err != nil {
			t.Fatalf("GetOrCreate(%s) returned error: %v", id, err)
		}
	}
	var seen []string
	manager.ForEachLive(func(sessionID string, loop *sim.Loop) {
		if loop == nil || loop.SessionID() != sessionID {
			t.Fatalf("unexpected loop for %s", sessionID)
		}
		seen = append(seen, sessionID)
		// Mutating the registry from the callback must not deadlock.
		manager.Remove(sessionID)
	})
	if len(seen) != 3 || seen[0] != "a" || seen[2] != "c" {
		t.Fatalf("unexpected visit order %v", seen)
	}
	if manager.Len() != 0 {
		t.Fatalf("expected callback removals to apply")
	}
}

func TestIdleInstanceIsEvictedAfterGrace(t *testing.T) {
	manager := newTestManager(t, testConfig(20*time.Millisecond), &countingFactory{})
	inst, _, err := manager.Join(context.Background(), "room", "conn")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if !manager.Leave("room", "conn") {
		t.Fatalf("expected Leave to remove the player")
	}
	if _, ok := manager.Get("room"); !ok {
		t.Fatalf("instance must survive until the grace period elapses")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, ok := manager.Get("room")
		return !ok
	}, "idle instance eviction")
	if !inst.Engine.Closed() {
		t.Fatalf("expected evicted engine to be closed")
	}
}

func TestInstanceAbandonedDuringCreationIsEvicted(t *testing.T) {
	factory := &countingFactory{delay: 50 * time.Millisecond}
	manager := newTestManager(t, testConfig(10*time.Millisecond), factory)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, _, err := manager.Join(ctx, "room", "conn"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return factory.calls.Load() == 1 && manager.Len() == 0
	}, "eviction of an instance nobody joined")
}

func TestNewInstanceSurvivesGraceOnceJoined(t *testing.T) {
	manager := newTestManager(t, testConfig(10*time.Millisecond), &countingFactory{})
	inst, _, err := manager.Join(context.Background(), "room", "conn")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	current, ok := manager.Get("room")
	if !ok || current != inst || inst.Engine.Closed() {
		t.Fatalf("instance joined before its creation grace must stay live")
	}
}

func TestReconnectDuringGraceKeepsInstance(t *testing.T) {
	manager := newTestManager(t, testConfig(30*time.Millisecond), &countingFactory{})
	first, _, err := manager.Join(context.Background(), "room", "conn-1")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	manager.Leave("room", "conn-1")
	second, _, err := manager.Join(context.Background(), "room", "conn-2")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if first != second {
		t.Fatalf("reconnect within grace must reuse the instance")
	}

	time.Sleep(100 * time.Millisecond)
	inst, ok := manager.Get("room")
	if !ok || inst != first {
		t.Fatalf("instance with a player must not be evicted")
	}
	if inst.Engine.PlayerCount() != 1 {
		t.Fatalf("expected one player, got %d", inst.Engine.PlayerCount())
	}
}

func TestJoinAfterEvictionCreatesFreshInstance(t *testing.T) {
	factory := &countingFactory{}
	manager := newTestManager(t, testConfig(10*time.Millisecond), factory)
	first, _, _ := manager.Join(context.Background(), "room", "a")
	manager.Leave("room", "a")
	waitFor(t, 2*time.Second, func() bool {
		_, ok := manager.Get("room")
		return !ok
	}, "eviction")

	second, _, err := manager.Join(context.Background(), "room", "b")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if second == first {
		t.Fatalf("expected a fresh instance after eviction")
	}
	if factory.calls.Load() != 2 {
		t.Fatalf("expected a second physics initialization, got %d", factory.calls.Load())
	}
}

func TestJoinGivesUpOnPersistentlyClosedEngine(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	stale, err := manager.GetOrCreate(context.Background(), "room")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	// A closed engine that is still registered cannot accept players.
	stale.Engine.Close()

	if _, _, err := manager.Join(context.Background(), "room", "conn"); !errors.Is(err, game.ErrClosed) {
		t.Fatalf("expected ErrClosed after bounded retries, got %v", err)
	}

	manager.Remove("room")
	inst, id, err := manager.Join(context.Background(), "room", "conn")
	if err != nil {
		t.Fatalf("Join returned error: %v", err)
	}
	if inst == stale || id != game.EntityID(0) {
		t.Fatalf("expected a fresh engine starting at entity id 0, got id %d", id)
	}
}

func TestListDescribesInstances(t *testing.T) {
	manager := newTestManager(t, testConfig(time.Second), &countingFactory{})
	manager.Join(context.Background(), "room", "conn")

	infos := manager.List()
	if len(infos) != 1 {
		t.Fatalf("expected one instance, got %+v", infos)
	}
	info := infos[0]
	if info.ID != "room" || info.Players != 1 || info.Entities != 4 {
		t.Fatalf("unexpected info %+v", info)
	}
}
