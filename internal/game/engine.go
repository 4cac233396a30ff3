// Package game implements the authoritative per-instance arena simulation.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/elliotchance/orderedmap/v2"

	"arena-shooter/server/internal/physics"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/lifecycle"
)

// ErrClosed is returned by mutating calls on an engine that has been closed.
var ErrClosed = errors.New("game: engine closed")

// Deps carries the engine's collaborators.
type Deps struct {
	Publisher logging.Publisher
	RNG       *rand.Rand
}

// Engine owns one instance's entities and drives its physics world. All
// exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	bounds    Bounds
	world     physics.World
	rng       *rand.Rand
	publisher logging.Publisher

	entities *orderedmap.OrderedMap[EntityID, *Entity]
	byBody   map[physics.BodyID]EntityID
	nextID   EntityID

	playerCount int
	enemyCount  int
	tick        uint64
	closed      bool
}

// New wraps world in an engine. The engine takes ownership of the world.
func New(world physics.World, cfg Config, deps Deps) (*Engine, error) {
	if world == nil {
		return nil, fmt.Errorf("game: nil physics world")
	}
	normalized := cfg.Normalized()

	rng := deps.RNG
	if rng == nil {
		rng = NewDeterministicRNG(world.Name(), "engine")
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	return &Engine{
		cfg:       normalized,
		bounds:    normalized.Bounds(),
		world:     world,
		rng:       rng,
		publisher: publisher,
		entities:  orderedmap.NewOrderedMap[EntityID, *Entity](),
		byBody:    make(map[physics.BodyID]EntityID),
	}, nil
}

// Label is the diagnostic name of the underlying physics world.
func (e *Engine) Label() string {
	return e.world.Name()
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) PlayerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playerCount
}

func (e *Engine) EnemyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enemyCount
}

func (e *Engine) EntityCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entities.Len()
}

func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// AddPlayer spawns a player for connID at a random arena corner and tops the
// enemy population up to the configured target.
func (e *Engine) AddPlayer(connID string) (EntityID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}

	corners := e.bounds.Corners()
	spawn := corners[e.rng.Intn(len(corners))]
	player, err := e.spawnLocked(KindPlayer, spawn, e.cfg.PlayerRadius)
	if err != nil {
		return 0, fmt.Errorf("spawn player %s: %w", connID, err)
	}
	player.Owner = connID

	for e.enemyCount < e.cfg.EnemyCount {
		if _, err := e.spawnEnemyLocked(); err != nil {
			return player.ID, fmt.Errorf("top up enemies: %w", err)
		}
	}

	lifecycle.PlayerJoined(
		context.Background(),
		e.publisher,
		e.tick,
		logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		lifecycle.PlayerJoinedPayload{EntityID: uint64(player.ID), SpawnX: spawn.X, SpawnY: spawn.Y},
		nil,
	)
	return player.ID, nil
}

// RemovePlayer deletes the player owned by connID. It reports false when no
// such player exists.
func (e *Engine) RemovePlayer(connID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	player := e.findPlayerLocked(connID)
	if player == nil {
		return false
	}
	e.removeLocked(player)
	lifecycle.PlayerDisconnected(
		context.Background(),
		e.publisher,
		e.tick,
		logging.EntityRef{ID: connID, Kind: logging.EntityKindPlayer},
		lifecycle.PlayerDisconnectedPayload{Reason: "removed"},
		nil,
	)
	return true
}

// PlayerShoot fires a bullet from connID's player along dir at bullet speed.
// Nothing is fired for an unknown owner or a zero direction.
func (e *Engine) PlayerShoot(connID string, dir physics.Vec) (EntityID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, false
	}
	player := e.findPlayerLocked(connID)
	if player == nil {
		return 0, false
	}
	unit, ok := dir.Normalize()
	if !ok {
		return 0, false
	}
	origin, ok := e.world.Position(player.Body)
	if !ok {
		return 0, false
	}
	bullet, err := e.spawnLocked(KindBullet, origin, e.cfg.BulletRadius)
	if err != nil {
		return 0, false
	}
	e.world.SetVelocity(bullet.Body, unit.Scale(e.cfg.BulletSpeed))
	return bullet.ID, true
}

// Close releases every body and the physics world. It is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

// CloseIfIdle closes the engine only when no player is present.
func (e *Engine) CloseIfIdle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.playerCount != 0 {
		return false
	}
	e.closeLocked()
	return true
}

func (e *Engine) closeLocked() {
	if e.closed {
		return
	}
	for el := e.entities.Front(); el != nil; el = el.Next() {
		e.world.RemoveBody(el.Value.Body)
	}
	e.entities = orderedmap.NewOrderedMap[EntityID, *Entity]()
	clear(e.byBody)
	e.playerCount = 0
	e.enemyCount = 0
	e.world.Close()
	e.closed = true
}

func (e *Engine) findPlayerLocked(connID string) *Entity {
	for el := e.entities.Front(); el != nil; el = el.Next() {
		ent := el.Value
		if ent.Kind == KindPlayer && ent.Owner == connID {
			return ent
		}
	}
	return nil
}

func (e *Engine) spawnLocked(kind Kind, pos physics.Vec, radius float64) (*Entity, error) {
	body, err := e.world.CreateBody(physics.BodySpec{
		Position: pos,
		Radius:   radius,
		Mass:     bodyMass,
		Category: kind.category(),
	})
	if err != nil {
		return nil, err
	}
	ent := &Entity{ID: e.nextID, Kind: kind, Body: body}
	e.nextID++
	e.entities.Set(ent.ID, ent)
	e.byBody[body] = ent.ID
	switch kind {
	case KindPlayer:
		e.playerCount++
	case KindEnemy:
		e.enemyCount++
	}
	return ent, nil
}

func (e *Engine) spawnEnemyLocked() (*Entity, error) {
	pos := physics.Vec{
		X: randomRange(e.rng, e.bounds.MinX, e.bounds.MaxX),
		Y: randomRange(e.rng, e.bounds.MinY, e.bounds.MaxY),
	}
	enemy, err := e.spawnLocked(KindEnemy, pos, e.cfg.EnemyRadius)
	if err != nil {
		return nil, err
	}
	e.redirectLocked(enemy)
	return enemy, nil
}

// redirectLocked gives an enemy a fresh random heading at enemy speed.
func (e *Engine) redirectLocked(enemy *Entity) {
	e.world.SetVelocity(enemy.Body, randomDirection(e.rng).Scale(e.cfg.EnemySpeed))
}

// removeLocked deletes the entity together with its body.
func (e *Engine) removeLocked(ent *Entity) {
	if _, ok := e.entities.Get(ent.ID); !ok {
		return
	}
	e.world.RemoveBody(ent.Body)
	e.entities.Delete(ent.ID)
	delete(e.byBody, ent.Body)
	switch ent.Kind {
	case KindPlayer:
		e.playerCount--
	case KindEnemy:
		e.enemyCount--
	}
}

func (e *Engine) entityForBodyLocked(body physics.BodyID) (*Entity, bool) {
	id, ok := e.byBody[body]
	if !ok {
		return nil, false
	}
	return e.entities.Get(id)
}
