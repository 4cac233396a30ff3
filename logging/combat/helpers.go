package combat

import (
	"context"

	"arena-shooter/server/logging"
)

const (
	// EventEnemyDestroyed is emitted when a bullet and an enemy annihilate.
	EventEnemyDestroyed logging.EventType = "combat.enemy_destroyed"
)

// EnemyDestroyed publishes a bullet/enemy annihilation. The bullet is the
// actor and the enemy the sole target.
func EnemyDestroyed(ctx context.Context, pub logging.Publisher, tick uint64, bullet logging.EntityRef, enemy logging.EntityRef) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventEnemyDestroyed,
		Tick:     tick,
		Actor:    bullet,
		Targets:  []logging.EntityRef{enemy},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
	}
	pub.Publish(ctx, event)
}
