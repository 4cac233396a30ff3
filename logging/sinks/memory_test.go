package sinks

import (
	"context"
	"testing"

	"arena-shooter/server/logging"
)

func TestMemorySinkKeepsMostRecentEvents(t *testing.T) {
	sink := NewMemorySink(3)
	for tick := uint64(1); tick <= 5; tick++ {
		if err := sink.Write(logging.Event{Type: "simulation.tick_budget_overrun", Tick: tick}); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
	}

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(events))
	}
	for i, want := range []uint64{3, 4, 5} {
		if events[i].Tick != want {
			t.Fatalf("event %d: expected tick %d, got %d", i, want, events[i].Tick)
		}
	}
	if sink.Seen() != 5 {
		t.Fatalf("expected 5 events seen, got %d", sink.Seen())
	}
}

func TestMemorySinkBeforeWrapping(t *testing.T) {
	sink := NewMemorySink(4)
	sink.Write(logging.Event{Type: "lifecycle.player_joined", Tick: 1})
	sink.Write(logging.Event{Type: "lifecycle.player_disconnected", Tick: 2})

	events := sink.Events()
	if len(events) != 2 || events[0].Tick != 1 || events[1].Tick != 2 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestMemorySinkCopiesEvents(t *testing.T) {
	sink := NewMemorySink(2)
	extra := map[string]any{"instanceId": "room"}
	targets := []logging.EntityRef{{ID: "2", Kind: logging.EntityKindEnemy}}
	sink.Write(logging.Event{Type: "combat.enemy_destroyed", Extra: extra, Targets: targets})

	extra["instanceId"] = "changed"
	targets[0].ID = "9"
	got := sink.Events()[0]
	if got.Extra["instanceId"] != "room" || got.Targets[0].ID != "2" {
		t.Fatalf("stored event aliases caller data: %+v", got)
	}
}

func TestMemorySinkStopsAfterClose(t *testing.T) {
	sink := NewMemorySink(2)
	sink.Write(logging.Event{Type: "lifecycle.instance_created", Tick: 1})
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	sink.Write(logging.Event{Type: "lifecycle.instance_evicted", Tick: 2})

	events := sink.Events()
	if len(events) != 1 || events[0].Tick != 1 {
		t.Fatalf("expected only the event written before close, got %+v", events)
	}
}

func TestNewMemorySinkClampsLimit(t *testing.T) {
	sink := NewMemorySink(0)
	sink.Write(logging.Event{Type: "a.one", Tick: 1})
	sink.Write(logging.Event{Type: "a.two", Tick: 2})
	events := sink.Events()
	if len(events) != 1 || events[0].Tick != 2 {
		t.Fatalf("expected a single retained event, got %+v", events)
	}
}
