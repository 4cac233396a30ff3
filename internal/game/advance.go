package game

import (
	"context"

	"arena-shooter/server/logging"
	"arena-shooter/server/logging/combat"
)

// Advance steps physics by dt, applies boundary containment and resolves
// contacts, in that order.
func (e *Engine) Advance(dt float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked(dt)
}

// Step advances by dt and captures the resulting snapshot without releasing
// the engine lock in between, so joins, leaves and shots land either before
// the step or after the snapshot.
func (e *Engine) Step(dt float64) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.advanceLocked(dt); err != nil {
		return Snapshot{}, err
	}
	return e.snapshotLocked(), nil
}

func (e *Engine) advanceLocked(dt float64) error {
	if e.closed {
		return ErrClosed
	}
	e.tick++
	e.world.Step(dt)
	e.containLocked()
	return e.resolveCollisionsLocked()
}

// containLocked keeps enemies inside the arena and destroys bullets that
// leave it. Players are never clamped.
func (e *Engine) containLocked() {
	for el := e.entities.Front(); el != nil; {
		next := el.Next()
		ent := el.Value
		el = next

		if ent.Kind != KindEnemy && ent.Kind != KindBullet {
			continue
		}
		pos, ok := e.world.Position(ent.Body)
		if !ok {
			continue
		}
		vel, _ := e.world.Velocity(ent.Body)

		if ent.Kind == KindBullet {
			if e.bounds.Exits(pos, vel) {
				e.removeLocked(ent)
			}
			continue
		}

		clampedPos, reflected, clamped := e.bounds.Reflect(pos, vel)
		if !clamped {
			continue
		}
		e.world.SetPosition(ent.Body, clampedPos)
		e.world.SetVelocity(ent.Body, reflected)
		e.redirectLocked(ent)
	}
}

// resolveCollisionsLocked applies the bullet/enemy rule to the contacts of
// the last step. Pairs naming a body without an entity are skipped, which
// covers bullets already removed this tick. Every other kind pairing is
// observed without effect.
func (e *Engine) resolveCollisionsLocked() error {
	for _, contact := range e.world.ContactPairs() {
		a, ok := e.entityForBodyLocked(contact.A)
		if !ok {
			continue
		}
		b, ok := e.entityForBodyLocked(contact.B)
		if !ok {
			continue
		}

		bullet, enemy, ok := bulletEnemyPair(a, b)
		if !ok {
			continue
		}
		e.removeLocked(bullet)
		e.removeLocked(enemy)

		combat.EnemyDestroyed(
			context.Background(),
			e.publisher,
			e.tick,
			logging.EntityRef{ID: entityRefID(bullet.ID), Kind: bullet.Kind.logKind()},
			logging.EntityRef{ID: entityRefID(enemy.ID), Kind: enemy.Kind.logKind()},
		)

		if _, err := e.spawnEnemyLocked(); err != nil {
			return err
		}
	}
	return nil
}

func bulletEnemyPair(a, b *Entity) (*Entity, *Entity, bool) {
	switch {
	case a.Kind == KindBullet && b.Kind == KindEnemy:
		return a, b, true
	case a.Kind == KindEnemy && b.Kind == KindBullet:
		return b, a, true
	default:
		return nil, nil, false
	}
}
