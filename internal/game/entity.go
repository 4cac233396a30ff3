package game

import (
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/logging"
)

// EntityID is unique within one engine and never reused while it lives.
type EntityID uint64

// Kind classifies an entity.
type Kind string

const (
	KindPlayer Kind = "player"
	KindEnemy  Kind = "enemy"
	KindBullet Kind = "bullet"
)

// Collision categories. Bullets only touch enemies, enemies touch players
// and bullets, players use the default category.
var (
	PlayerCategory = physics.Category{Bits: 1, Mask: physics.AllCategories}
	BulletCategory = physics.Category{Bits: 2, Mask: 4}
	EnemyCategory  = physics.Category{Bits: 4, Mask: 1 | 2}
)

func (k Kind) category() physics.Category {
	switch k {
	case KindBullet:
		return BulletCategory
	case KindEnemy:
		return EnemyCategory
	default:
		return PlayerCategory
	}
}

func (k Kind) logKind() logging.EntityKind {
	switch k {
	case KindPlayer:
		return logging.EntityKindPlayer
	case KindEnemy:
		return logging.EntityKindEnemy
	case KindBullet:
		return logging.EntityKindBullet
	default:
		return logging.EntityKindUnknown
	}
}

// Entity is a game object backed by exactly one physics body. Kinematics are
// read from the body, never cached here.
type Entity struct {
	ID    EntityID
	Kind  Kind
	Owner string
	Body  physics.BodyID
}
