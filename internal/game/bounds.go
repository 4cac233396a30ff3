package game

import "arena-shooter/server/internal/physics"

// Bounds is an axis-aligned arena rectangle.
type Bounds struct {
	MinX float64
	MaxX float64
	MinY float64
	MaxY float64
}

// Corners lists the player spawn points: bottom-left, bottom-right,
// top-left, top-right.
func (b Bounds) Corners() [4]physics.Vec {
	return [4]physics.Vec{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MinX, Y: b.MaxY},
		{X: b.MaxX, Y: b.MaxY},
	}
}

// Contains reports whether pos lies inside or on the rectangle.
func (b Bounds) Contains(pos physics.Vec) bool {
	return pos.X >= b.MinX && pos.X <= b.MaxX && pos.Y >= b.MinY && pos.Y <= b.MaxY
}

// Reflect clamps each axis that crossed an edge back onto it and points the
// matching velocity component inward. Axes are handled independently.
func (b Bounds) Reflect(pos, vel physics.Vec) (physics.Vec, physics.Vec, bool) {
	clamped := false
	if pos.X < b.MinX {
		pos.X = b.MinX
		vel.X = abs(vel.X)
		clamped = true
	}
	if pos.X > b.MaxX {
		pos.X = b.MaxX
		vel.X = -abs(vel.X)
		clamped = true
	}
	if pos.Y < b.MinY {
		pos.Y = b.MinY
		vel.Y = abs(vel.Y)
		clamped = true
	}
	if pos.Y > b.MaxY {
		pos.Y = b.MaxY
		vel.Y = -abs(vel.Y)
		clamped = true
	}
	return pos, vel, clamped
}

// Exits reports whether a projectile has left the arena: it crossed an edge,
// or sits exactly on one while heading outward.
func (b Bounds) Exits(pos, vel physics.Vec) bool {
	if _, _, crossed := b.Reflect(pos, vel); crossed {
		return true
	}
	return (pos.X == b.MinX && vel.X < 0) ||
		(pos.X == b.MaxX && vel.X > 0) ||
		(pos.Y == b.MinY && vel.Y < 0) ||
		(pos.Y == b.MaxY && vel.Y > 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
