// Package instance owns the registry of live arena instances keyed by
// session id.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/sim"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/lifecycle"
)

const (
	DefaultIdleGrace = 5 * time.Second

	// joinAttempts bounds retries when a join races an eviction.
	joinAttempts = 3

	instancesCreatedMetricKey = "arena_instances_created_total"
	instancesEvictedMetricKey = "arena_instances_evicted_total"
	instancesLiveMetricKey    = "arena_instances_live"
)

var (
	// ErrEmptySessionID is returned when a caller supplies no session id.
	ErrEmptySessionID = errors.New("instance: empty session id")
	// ErrManagerClosed is returned once the manager has shut down.
	ErrManagerClosed = errors.New("instance: manager closed")
)

// Config holds the settings applied to every instance the manager creates.
type Config struct {
	Game      game.Config
	Loop      sim.LoopConfig
	IdleGrace time.Duration
}

// DefaultConfig returns the stock arena with a five second idle grace.
func DefaultConfig() Config {
	return Config{
		Game:      game.DefaultConfig(),
		Loop:      sim.DefaultLoopConfig(),
		IdleGrace: DefaultIdleGrace,
	}
}

// Deps carries the manager's collaborators. Factory is required.
type Deps struct {
	Factory   physics.Factory
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	// Seed roots each instance's RNG. Empty picks a time based seed.
	Seed string
}

// Instance is one live arena.
type Instance struct {
	ID        string
	Label     string
	CreatedAt time.Time
	Engine    *game.Engine
	Loop      *sim.Loop
}

// Info is a diagnostic view of an instance.
type Info struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Players  int    `json:"players"`
	Entities int    `json:"entities"`
	Tick     uint64 `json:"tick"`
}

// Manager creates instances lazily, hands out existing ones and evicts idle
// ones. It is safe for concurrent use.
type Manager struct {
	cfg  Config
	deps Deps

	mu        sync.RWMutex
	instances map[string]*Instance
	timers    map[*time.Timer]struct{}
	closed    bool

	group singleflight.Group
}

// NewManager validates deps and returns an empty manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Factory == nil {
		return nil, fmt.Errorf("instance: physics factory is required")
	}
	if cfg.IdleGrace <= 0 {
		cfg.IdleGrace = DefaultIdleGrace
	}
	cfg.Game = cfg.Game.Normalized()
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Seed == "" {
		deps.Seed = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		instances: make(map[string]*Instance),
		timers:    make(map[*time.Timer]struct{}),
	}, nil
}

// GetOrCreate returns the instance registered under sessionID, creating it on
// first contact. Concurrent callers for the same unseen id share one
// creation. A failed creation registers nothing.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID string) (*Instance, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if inst, ok := m.Get(sessionID); ok {
		return inst, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := m.group.DoChan(sessionID, func() (any, error) {
		return m.create(sessionID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) create(sessionID string) (*Instance, error) {
	m.mu.RLock()
	existing, ok := m.instances[sessionID]
	size := len(m.instances)
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if ok {
		return existing, nil
	}

	// The label is diagnostic only; concurrent creations may share it.
	label := "game:" + strconv.Itoa(size)
	world, err := m.deps.Factory(label)
	if err != nil {
		return nil, fmt.Errorf("create physics world for instance %s: %w", sessionID, err)
	}

	publisher := logging.WithFields(m.deps.Publisher, map[string]any{"instanceId": sessionID})
	engine, err := game.New(world, m.cfg.Game, game.Deps{
		Publisher: publisher,
		RNG:       game.NewDeterministicRNG(m.deps.Seed, sessionID),
	})
	if err != nil {
		world.Close()
		return nil, fmt.Errorf("create engine for instance %s: %w", sessionID, err)
	}

	inst := &Instance{
		ID:        sessionID,
		Label:     label,
		CreatedAt: time.Now(),
		Engine:    engine,
		Loop: sim.NewLoop(sessionID, engine, m.cfg.Loop, sim.LoopDeps{
			Logger:    m.deps.Logger,
			Metrics:   m.deps.Metrics,
			Publisher: publisher,
		}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		engine.Close()
		return nil, ErrManagerClosed
	}
	m.instances[sessionID] = inst
	live := len(m.instances)
	m.mu.Unlock()

	lifecycle.InstanceCreated(context.Background(), m.deps.Publisher, sessionID, lifecycle.InstancePayload{Label: label})
	if m.deps.Metrics != nil {
		m.deps.Metrics.Add(instancesCreatedMetricKey, 1)
		m.deps.Metrics.Store(instancesLiveMetricKey, uint64(live))
	}
	if m.deps.Logger != nil {
		m.deps.Logger.Printf("[instance] created %s (%s)", sessionID, label)
	}
	// The creator may never join, e.g. when its context expires mid-creation.
	m.ScheduleEviction(sessionID)
	return inst, nil
}

// Get looks up an instance without side effects.
func (m *Manager) Get(sessionID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[sessionID]
	return inst, ok
}

// Remove unregisters sessionID and releases its engine. Unknown ids are
// ignored.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	inst, ok := m.instances[sessionID]
	if ok {
		delete(m.instances, sessionID)
	}
	live := len(m.instances)
	m.mu.Unlock()
	if !ok {
		return
	}
	entities := inst.Engine.EntityCount()
	inst.Engine.Close()
	m.evicted(inst, entities, live)
}

// Len reports the number of live instances.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// ForEachLive calls fn for every registered instance. fn runs on a copy of
// the registry taken up front, so it may call back into the manager.
func (m *Manager) ForEachLive(fn func(sessionID string, loop *sim.Loop)) {
	for _, inst := range m.live() {
		fn(inst.ID, inst.Loop)
	}
}

// List describes every live instance, ordered by id.
func (m *Manager) List() []Info {
	live := m.live()
	infos := make([]Info, 0, len(live))
	for _, inst := range live {
		infos = append(infos, Info{
			ID:       inst.ID,
			Label:    inst.Label,
			Players:  inst.Engine.PlayerCount(),
			Entities: inst.Engine.EntityCount(),
			Tick:     inst.Engine.Tick(),
		})
	}
	return infos
}

func (m *Manager) live() []*Instance {
	m.mu.RLock()
	live := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		live = append(live, inst)
	}
	m.mu.RUnlock()
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live
}

// Join adds a player for connID to the instance keyed by sessionID, creating
// the instance if needed. A join that loses a race with an eviction retries
// against a fresh instance.
func (m *Manager) Join(ctx context.Context, sessionID, connID string) (*Instance, game.EntityID, error) {
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		inst, err := m.GetOrCreate(ctx, sessionID)
		if err != nil {
			return nil, 0, err
		}
		id, err := inst.Engine.AddPlayer(connID)
		if err == nil {
			return inst, id, nil
		}
		if !errors.Is(err, game.ErrClosed) {
			inst.Engine.RemovePlayer(connID)
			m.ScheduleEviction(sessionID)
			return nil, 0, err
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("join instance %s: %w", sessionID, lastErr)
}

// Leave removes connID's player and schedules an idle check.
func (m *Manager) Leave(sessionID, connID string) bool {
	inst, ok := m.Get(sessionID)
	if !ok {
		return false
	}
	removed := inst.Engine.RemovePlayer(connID)
	inst.Loop.ForgetActor(connID)
	m.ScheduleEviction(sessionID)
	return removed
}

// ScheduleEviction evicts sessionID after the idle grace if it still has no
// players then. A join in the meantime keeps it alive; the timer itself is
// never cancelled.
func (m *Manager) ScheduleEviction(sessionID string) {
	inst, ok := m.Get(sessionID)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.IdleGrace, func() {
		m.mu.Lock()
		delete(m.timers, timer)
		m.mu.Unlock()
		m.evictIfIdle(inst)
	})
	m.timers[timer] = struct{}{}
}

// evictIfIdle removes inst when it is still the registered instance for its
// id and has no players. The idle check and the close happen under the
// registry lock, so a concurrent join either lands first or observes
// game.ErrClosed.
func (m *Manager) evictIfIdle(inst *Instance) {
	m.mu.Lock()
	current, ok := m.instances[inst.ID]
	if !ok || current != inst {
		m.mu.Unlock()
		return
	}
	entities := inst.Engine.EntityCount()
	if !inst.Engine.CloseIfIdle() {
		m.mu.Unlock()
		return
	}
	delete(m.instances, inst.ID)
	live := len(m.instances)
	m.mu.Unlock()

	m.evicted(inst, entities, live)
}

func (m *Manager) evicted(inst *Instance, entities, live int) {
	lifecycle.InstanceEvicted(context.Background(), m.deps.Publisher, inst.ID, lifecycle.InstancePayload{Label: inst.Label, Entities: entities})
	if m.deps.Metrics != nil {
		m.deps.Metrics.Add(instancesEvictedMetricKey, 1)
		m.deps.Metrics.Store(instancesLiveMetricKey, uint64(live))
	}
	if m.deps.Logger != nil {
		m.deps.Logger.Printf("[instance] evicted %s (%s)", inst.ID, inst.Label)
	}
}

// Close stops pending eviction timers and releases every instance.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for timer := range m.timers {
		timer.Stop()
	}
	m.timers = nil
	instances := m.instances
	m.instances = make(map[string]*Instance)
	m.mu.Unlock()

	for _, inst := range instances {
		inst.Engine.Close()
	}
}

var _ sim.Registry = (*Manager)(nil)
