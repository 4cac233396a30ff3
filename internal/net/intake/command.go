// Package intake validates client messages and stages the commands they carry.
package intake

import (
	"time"

	"arena-shooter/server/internal/net/proto"
	"arena-shooter/server/internal/sim"
)

// Enqueuer accepts staged commands. *sim.Loop satisfies it.
type Enqueuer interface {
	Enqueue(cmd sim.Command) (bool, string)
}

type CommandContext struct {
	Loop Enqueuer
	Tick func() uint64
	Now  func() time.Time
}

// StageClientCommand stamps msg with the actor and timing metadata and hands it
// to the loop. The reject reason is empty when the command was staged.
func StageClientCommand(ctx CommandContext, actorID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok {
		return zero, false, sim.CommandRejectInvalid
	}
	switch command.Type {
	case sim.CommandShoot:
		if command.Shoot == nil {
			return zero, false, sim.CommandRejectInvalid
		}
	default:
		return zero, false, sim.CommandRejectInvalid
	}

	command.ActorID = actorID
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Loop == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Loop.Enqueue(command); !ok {
		return zero, false, reason
	}

	return command, true, ""
}
