// Package physics defines the rigid-body capability the simulation drives and
// a Chipmunk2D backed implementation of it.
package physics

import (
	"errors"
	"math"
)

var (
	// ErrClosed is returned when a body is created in a released world.
	ErrClosed = errors.New("physics: world closed")
	// ErrInvalidBody is returned for bodies with a non-positive radius or mass.
	ErrInvalidBody = errors.New("physics: invalid body spec")
	// ErrInvalidConfig is returned by constructors given an unusable config.
	ErrInvalidConfig = errors.New("physics: invalid config")
)

// AllCategories collides with every category.
const AllCategories = ^uint(0)

// Vec is a 2D vector.
type Vec struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Len returns the euclidean length.
func (v Vec) Len() float64 {
	return math.Hypot(v.X, v.Y)
}

// Scale multiplies both components by s.
func (v Vec) Scale(s float64) Vec {
	return Vec{X: v.X * s, Y: v.Y * s}
}

// Normalize returns the unit vector pointing along v. The second result is
// false for zero or non-finite input, in which case the zero vector is
// returned instead of NaNs.
func (v Vec) Normalize() (Vec, bool) {
	length := v.Len()
	if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return Vec{}, false
	}
	return Vec{X: v.X / length, Y: v.Y / length}, true
}

// BodyID is an opaque handle to a body owned by a World. Zero is never issued.
type BodyID uint64

// Category encodes collision filtering: two bodies are tested for contact
// only when each one's Bits intersect the other's Mask.
type Category struct {
	Bits uint
	Mask uint
}

// Collides reports whether bodies of the two categories can touch.
func (c Category) Collides(other Category) bool {
	return c.Bits&other.Mask != 0 && other.Bits&c.Mask != 0
}

// BodySpec describes a circular body to create.
type BodySpec struct {
	Position Vec
	Radius   float64
	Mass     float64
	Category Category
}

func (s BodySpec) valid() bool {
	return s.Radius > 0 && s.Mass > 0 && !math.IsNaN(s.Position.X) && !math.IsNaN(s.Position.Y)
}

// Contact is an unordered pair of bodies found touching during the last Step.
type Contact struct {
	A BodyID
	B BodyID
}

// World is the physics capability consumed by the simulation engine.
// Implementations are not safe for concurrent use; callers serialize access.
type World interface {
	Name() string
	CreateBody(spec BodySpec) (BodyID, error)
	// RemoveBody is a no-op for unknown or already removed bodies.
	RemoveBody(id BodyID)
	Step(dt float64)
	Position(id BodyID) (Vec, bool)
	SetPosition(id BodyID, pos Vec) bool
	Velocity(id BodyID) (Vec, bool)
	SetVelocity(id BodyID, vel Vec) bool
	// ContactPairs lists the pairs in contact during the most recent Step.
	ContactPairs() []Contact
	BodyCount() int
	Close()
}

// Factory builds a named world. Failures are fatal to the instance requesting
// the world only.
type Factory func(name string) (World, error)
