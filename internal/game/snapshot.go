package game

import (
	"strconv"

	"arena-shooter/server/internal/physics"
)

// EntityState is the public projection of one entity.
type EntityState struct {
	ID       EntityID    `json:"id"`
	Owner    string      `json:"owner,omitempty"`
	Position physics.Vec `json:"position"`
	Kind     Kind        `json:"type"`
}

// Snapshot lists every live entity in insertion order.
type Snapshot struct {
	Tick     uint64        `json:"tick"`
	Entities []EntityState `json:"entities"`
}

// Snapshot projects the current state without mutating it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	states := make([]EntityState, 0, e.entities.Len())
	for el := e.entities.Front(); el != nil; el = el.Next() {
		ent := el.Value
		pos, _ := e.world.Position(ent.Body)
		states = append(states, EntityState{
			ID:       ent.ID,
			Owner:    ent.Owner,
			Position: pos,
			Kind:     ent.Kind,
		})
	}
	return Snapshot{Tick: e.tick, Entities: states}
}

// Count returns how many entities of kind the snapshot holds.
func (s Snapshot) Count(kind Kind) int {
	n := 0
	for _, ent := range s.Entities {
		if ent.Kind == kind {
			n++
		}
	}
	return n
}

func entityRefID(id EntityID) string {
	return strconv.FormatUint(uint64(id), 10)
}
