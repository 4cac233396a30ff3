package game

import (
	"arena-shooter/server/internal/physics"
)

type fakeBody struct {
	spec physics.BodySpec
	pos  physics.Vec
	vel  physics.Vec
}

// fakeWorld integrates positions linearly and reports whatever contacts the
// test queued before the next Step.
type fakeWorld struct {
	name     string
	bodies   map[physics.BodyID]*fakeBody
	nextID   physics.BodyID
	frozen   bool
	pending  []physics.Contact
	contacts []physics.Contact
	steps    int
	closed   bool
	onStep   func()
}

func newFakeWorld(name string) *fakeWorld {
	return &fakeWorld{name: name, bodies: make(map[physics.BodyID]*fakeBody)}
}

func (w *fakeWorld) Name() string { return w.name }

func (w *fakeWorld) CreateBody(spec physics.BodySpec) (physics.BodyID, error) {
	if w.closed {
		return 0, physics.ErrClosed
	}
	w.nextID++
	w.bodies[w.nextID] = &fakeBody{spec: spec, pos: spec.Position}
	return w.nextID, nil
}

func (w *fakeWorld) RemoveBody(id physics.BodyID) { delete(w.bodies, id) }

func (w *fakeWorld) Step(dt float64) {
	w.steps++
	w.contacts = w.pending
	w.pending = nil
	if w.onStep != nil {
		w.onStep()
	}
	if w.frozen {
		return
	}
	for _, b := range w.bodies {
		b.pos.X += b.vel.X * dt
		b.pos.Y += b.vel.Y * dt
	}
}

func (w *fakeWorld) Position(id physics.BodyID) (physics.Vec, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return physics.Vec{}, false
	}
	return b.pos, true
}

func (w *fakeWorld) SetPosition(id physics.BodyID, pos physics.Vec) bool {
	b, ok := w.bodies[id]
	if !ok {
		return false
	}
	b.pos = pos
	return true
}

func (w *fakeWorld) Velocity(id physics.BodyID) (physics.Vec, bool) {
	b, ok := w.bodies[id]
	if !ok {
		return physics.Vec{}, false
	}
	return b.vel, true
}

func (w *fakeWorld) SetVelocity(id physics.BodyID, vel physics.Vec) bool {
	b, ok := w.bodies[id]
	if !ok {
		return false
	}
	b.vel = vel
	return true
}

func (w *fakeWorld) ContactPairs() []physics.Contact { return w.contacts }

func (w *fakeWorld) BodyCount() int { return len(w.bodies) }

func (w *fakeWorld) Close() {
	w.bodies = make(map[physics.BodyID]*fakeBody)
	w.closed = true
}
