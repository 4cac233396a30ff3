package physics

import (
	"fmt"
	"math"

	"github.com/jakecoffman/cp"
)

const (
	defaultFixedStep   = 1.0 / 60.0
	defaultMaxSubSteps = 10
)

// Config tunes the Chipmunk integrator.
type Config struct {
	// FixedStep is the longest sub-step, in seconds.
	FixedStep float64
	// MaxSubSteps bounds how many sub-steps one Step may take.
	MaxSubSteps int
}

// DefaultConfig mirrors the stepping used by the arena: 60 Hz sub-steps, at
// most ten per call.
func DefaultConfig() Config {
	return Config{FixedStep: defaultFixedStep, MaxSubSteps: defaultMaxSubSteps}
}

func (cfg Config) validate() error {
	if cfg.FixedStep <= 0 || math.IsNaN(cfg.FixedStep) || math.IsInf(cfg.FixedStep, 0) {
		return fmt.Errorf("%w: fixed step %v", ErrInvalidConfig, cfg.FixedStep)
	}
	if cfg.MaxSubSteps < 1 {
		return fmt.Errorf("%w: max sub-steps %d", ErrInvalidConfig, cfg.MaxSubSteps)
	}
	return nil
}

type chipmunkBody struct {
	body  *cp.Body
	shape *cp.Shape
}

type contactKey struct {
	lo BodyID
	hi BodyID
}

// ChipmunkWorld implements World on a zero-gravity cp.Space. Every shape is a
// sensor so contacts are reported without any collision response.
type ChipmunkWorld struct {
	name   string
	cfg    Config
	space  *cp.Space
	bodies map[BodyID]*chipmunkBody
	nextID BodyID

	collisionTypes []cp.CollisionType
	contacts       []Contact
	seen           map[contactKey]struct{}
	closed         bool
}

// NewChipmunkWorld constructs an empty world.
func NewChipmunkWorld(name string, cfg Config) (*ChipmunkWorld, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	space := cp.NewSpace()
	space.SetGravity(cp.Vector{})
	return &ChipmunkWorld{
		name:   name,
		cfg:    cfg,
		space:  space,
		bodies: make(map[BodyID]*chipmunkBody),
		seen:   make(map[contactKey]struct{}),
	}, nil
}

// ChipmunkFactory returns a Factory producing Chipmunk worlds with cfg.
func ChipmunkFactory(cfg Config) Factory {
	return func(name string) (World, error) {
		world, err := NewChipmunkWorld(name, cfg)
		if err != nil {
			return nil, err
		}
		return world, nil
	}
}

func (w *ChipmunkWorld) Name() string {
	return w.name
}

func (w *ChipmunkWorld) CreateBody(spec BodySpec) (BodyID, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if !spec.valid() {
		return 0, fmt.Errorf("%w: radius=%v mass=%v", ErrInvalidBody, spec.Radius, spec.Mass)
	}
	w.registerCollisionType(spec.Category.Bits)

	w.nextID++
	id := w.nextID

	body := cp.NewBody(spec.Mass, cp.MomentForCircle(spec.Mass, 0, spec.Radius, cp.Vector{}))
	body.SetPosition(cp.Vector{X: spec.Position.X, Y: spec.Position.Y})
	body.UserData = id
	w.space.AddBody(body)

	shape := cp.NewCircle(body, spec.Radius, cp.Vector{})
	shape.SetSensor(true)
	shape.SetCollisionType(cp.CollisionType(spec.Category.Bits))
	shape.SetFilter(cp.NewShapeFilter(cp.NO_GROUP, spec.Category.Bits, spec.Category.Mask))
	w.space.AddShape(shape)

	w.bodies[id] = &chipmunkBody{body: body, shape: shape}
	return id, nil
}

func (w *ChipmunkWorld) RemoveBody(id BodyID) {
	rec, ok := w.bodies[id]
	if !ok {
		return
	}
	delete(w.bodies, id)
	w.space.RemoveShape(rec.shape)
	w.space.RemoveBody(rec.body)
}

// Step advances the space by dt split into equal sub-steps no longer than
// FixedStep. Contacts from every sub-step are accumulated and deduplicated.
func (w *ChipmunkWorld) Step(dt float64) {
	w.contacts = w.contacts[:0]
	clear(w.seen)
	if w.closed || dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return
	}
	steps := int(math.Ceil(dt / w.cfg.FixedStep))
	if steps < 1 {
		steps = 1
	}
	if steps > w.cfg.MaxSubSteps {
		steps = w.cfg.MaxSubSteps
	}
	h := dt / float64(steps)
	for i := 0; i < steps; i++ {
		w.space.Step(h)
	}
}

func (w *ChipmunkWorld) Position(id BodyID) (Vec, bool) {
	rec, ok := w.bodies[id]
	if !ok {
		return Vec{}, false
	}
	p := rec.body.Position()
	return Vec{X: p.X, Y: p.Y}, true
}

func (w *ChipmunkWorld) SetPosition(id BodyID, pos Vec) bool {
	rec, ok := w.bodies[id]
	if !ok {
		return false
	}
	rec.body.SetPosition(cp.Vector{X: pos.X, Y: pos.Y})
	return true
}

func (w *ChipmunkWorld) Velocity(id BodyID) (Vec, bool) {
	rec, ok := w.bodies[id]
	if !ok {
		return Vec{}, false
	}
	v := rec.body.Velocity()
	return Vec{X: v.X, Y: v.Y}, true
}

func (w *ChipmunkWorld) SetVelocity(id BodyID, vel Vec) bool {
	rec, ok := w.bodies[id]
	if !ok {
		return false
	}
	rec.body.SetVelocityVector(cp.Vector{X: vel.X, Y: vel.Y})
	return true
}

func (w *ChipmunkWorld) ContactPairs() []Contact {
	if len(w.contacts) == 0 {
		return nil
	}
	return append([]Contact(nil), w.contacts...)
}

func (w *ChipmunkWorld) BodyCount() int {
	return len(w.bodies)
}

// Close removes every body. The world rejects new bodies afterwards.
func (w *ChipmunkWorld) Close() {
	if w.closed {
		return
	}
	for id := range w.bodies {
		w.RemoveBody(id)
	}
	w.contacts = nil
	w.closed = true
}

// registerCollisionType installs contact recorders between bits and every
// collision type seen so far, itself included. Filtering stays the job of
// the shape filters; the handlers only observe.
func (w *ChipmunkWorld) registerCollisionType(bits uint) {
	ct := cp.CollisionType(bits)
	for _, existing := range w.collisionTypes {
		if existing == ct {
			return
		}
	}
	w.collisionTypes = append(w.collisionTypes, ct)
	for _, other := range w.collisionTypes {
		handler := w.space.NewCollisionHandler(ct, other)
		handler.PreSolveFunc = w.recordContact
	}
}

func (w *ChipmunkWorld) recordContact(arb *cp.Arbiter, _ *cp.Space, _ interface{}) bool {
	if arb.Count() == 0 {
		return true
	}
	a, b := arb.Bodies()
	idA, okA := a.UserData.(BodyID)
	idB, okB := b.UserData.(BodyID)
	if !okA || !okB {
		return true
	}
	key := contactKey{lo: idA, hi: idB}
	if key.lo > key.hi {
		key.lo, key.hi = key.hi, key.lo
	}
	if _, dup := w.seen[key]; dup {
		return true
	}
	w.seen[key] = struct{}{}
	w.contacts = append(w.contacts, Contact{A: idA, B: idB})
	return true
}

var _ World = (*ChipmunkWorld)(nil)
