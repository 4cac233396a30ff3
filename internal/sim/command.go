package sim

import (
	"time"

	"arena-shooter/server/internal/physics"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandShoot CommandType = "Shoot"
)

// ShootCommand carries the requested firing direction. It does not need to be
// normalized.
type ShootCommand struct {
	Direction physics.Vec `json:"direction"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64        `json:"originTick"`
	ActorID    string        `json:"actorId"`
	Type       CommandType   `json:"type"`
	IssuedAt   time.Time     `json:"issuedAt"`
	Sequence   uint64        `json:"seq,omitempty"`
	Shoot      *ShootCommand `json:"shoot,omitempty"`
}
