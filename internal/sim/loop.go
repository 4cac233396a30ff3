package sim

import (
	"context"
	"sync"

	"arena-shooter/server/internal/game"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
	"arena-shooter/server/logging/network"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the instance command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
	// CommandRejectInvalid indicates the command carried no usable payload.
	CommandRejectInvalid = "invalid_command"

	DefaultCommandCapacity = 256
	DefaultPerActorLimit   = 8
)

// Engine is the part of the simulation engine the loop drives.
type Engine interface {
	PlayerShoot(connID string, dir physics.Vec) (game.EntityID, bool)
	// Step advances by dt and returns the snapshot of the state it
	// produced, atomically with respect to other engine calls.
	Step(dt float64) (game.Snapshot, error)
}

// LoopConfig tunes command staging for one instance.
type LoopConfig struct {
	CommandCapacity int
	// PerActorLimit caps the commands one actor may stage per tick. Zero
	// disables throttling.
	PerActorLimit int
}

// DefaultLoopConfig returns the stock staging limits.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{CommandCapacity: DefaultCommandCapacity, PerActorLimit: DefaultPerActorLimit}
}

// LoopDeps carries the loop's collaborators. Every field is optional.
type LoopDeps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// StepResult describes one advanced tick.
type StepResult struct {
	Snapshot game.Snapshot
	Commands []Command
	Fired    int
}

// Loop stages commands for one instance and applies them at the start of the
// next tick.
type Loop struct {
	sessionID string
	engine    Engine
	buffer    *CommandBuffer
	config    LoopConfig
	logger    telemetry.Logger
	publisher logging.Publisher

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps engine with a ring-buffer command queue.
func NewLoop(sessionID string, engine Engine, cfg LoopConfig, deps LoopDeps) *Loop {
	if engine == nil {
		return nil
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = DefaultCommandCapacity
	}
	if cfg.PerActorLimit < 0 {
		cfg.PerActorLimit = 0
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Loop{
		sessionID:     sessionID,
		engine:        engine,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, deps.Metrics),
		config:        cfg,
		logger:        deps.Logger,
		publisher:     publisher,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

func (l *Loop) SessionID() string {
	if l == nil {
		return ""
	}
	return l.sessionID
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	if cmd.Type == CommandShoot && cmd.Shoot == nil {
		l.reportDrop(CommandRejectInvalid, cmd, 0)
		return false, CommandRejectInvalid
	}

	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" && !l.buffer.Push(cmd) {
		reason = CommandRejectQueueFull
		dropCount = l.incrementDropLocked(cmd.ActorID)
		if cmd.ActorID != "" && l.perActorCount[cmd.ActorID] > 0 {
			l.perActorCount[cmd.ActorID]--
		}
	}
	l.queueMu.Unlock()

	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance applies the staged commands, steps the engine by dt and returns the
// resulting snapshot.
func (l *Loop) Advance(dt float64) (StepResult, error) {
	if l == nil {
		return StepResult{}, nil
	}
	commands := l.drainCommands()
	fired := l.apply(commands)
	snapshot, err := l.engine.Step(dt)
	if err != nil {
		return StepResult{Commands: commands, Fired: fired}, err
	}
	return StepResult{
		Snapshot: snapshot,
		Commands: commands,
		Fired:    fired,
	}, nil
}

// ForgetActor clears throttling state for an actor that left.
func (l *Loop) ForgetActor(actorID string) {
	if l == nil {
		return
	}
	l.queueMu.Lock()
	delete(l.perActorCount, actorID)
	delete(l.dropCounts, actorID)
	l.queueMu.Unlock()
}

func (l *Loop) apply(commands []Command) int {
	fired := 0
	for _, cmd := range commands {
		switch cmd.Type {
		case CommandShoot:
			if _, ok := l.engine.PlayerShoot(cmd.ActorID, cmd.Shoot.Direction); ok {
				fired++
			}
		default:
			if l.logger != nil {
				l.logger.Printf("[sim] %s: ignoring unsupported command %q from %s", l.sessionID, cmd.Type, cmd.ActorID)
			}
		}
	}
	return fired
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

// reportDrop publishes every rejection and logs throttling at powers of two
// so a flooding client does not flood the log.
func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	network.CommandDropped(
		context.Background(),
		l.publisher,
		cmd.OriginTick,
		logging.EntityRef{ID: cmd.ActorID, Kind: logging.EntityKindPlayer},
		network.CommandDroppedPayload{Reason: reason, CommandType: string(cmd.Type)},
		map[string]any{"instanceId": l.sessionID},
	)
	if reason == CommandRejectQueueLimit && count > 0 && count&(count-1) == 0 && l.logger != nil {
		l.logger.Printf(
			"[backpressure] dropping command instance=%s actor=%s type=%s count=%d limit=%d",
			l.sessionID,
			cmd.ActorID,
			cmd.Type,
			count,
			l.config.PerActorLimit,
		)
	}
}
