package simulation

import (
	"context"

	"arena-shooter/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when one driver tick exceeds its interval.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventAdvanceFailed is emitted when an instance fails to advance.
	EventAdvanceFailed logging.EventType = "simulation.advance_failed"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
	Instances      int     `json:"instances"`
}

// AdvanceFailedPayload names the instance and the failure.
type AdvanceFailedPayload struct {
	Error string `json:"error"`
}

// TickBudgetOverrun publishes a warning when a driver tick exceeds the configured budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// AdvanceFailed publishes an error for a single instance. Other instances keep running.
func AdvanceFailed(ctx context.Context, pub logging.Publisher, tick uint64, sessionID string, payload AdvanceFailedPayload) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventAdvanceFailed,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: sessionID, Kind: logging.EntityKindInstance},
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
	}
	pub.Publish(ctx, event)
}
