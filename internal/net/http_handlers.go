package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"arena-shooter/server/internal/instance"
	"arena-shooter/server/internal/observability"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
)

// Registry lists the live instances for diagnostics.
type Registry interface {
	List() []instance.Info
}

type HTTPHandlerConfig struct {
	ClientDir     string
	Logger        telemetry.Logger
	TickRate      int
	Observability observability.Config
	// Metrics returns the current counter values, if any are collected.
	Metrics func() map[string]uint64
	// EventStats and RecentEvents expose the event router, when available.
	EventStats   func() logging.RouterStats
	RecentEvents func() []logging.Event
	Now          func() time.Time
}

type diagnosticsPayload struct {
	Status       string            `json:"status"`
	ServerTime   int64             `json:"serverTime"`
	TickRate     int               `json:"tickRate"`
	Instances    []instance.Info   `json:"instances"`
	Metrics      map[string]uint64 `json:"metrics,omitempty"`
	Events       *eventCounts      `json:"events,omitempty"`
	RecentEvents []logging.Event   `json:"recentEvents,omitempty"`
}

type eventCounts struct {
	Routed      uint64            `json:"routed"`
	Dropped     uint64            `json:"dropped"`
	ByCategory  map[string]uint64 `json:"byCategory"`
	SinkDropped map[string]uint64 `json:"sinkDropped,omitempty"`
}

// NewHTTPHandler mounts the websocket endpoint next to the health and
// diagnostics routes.
func NewHTTPHandler(registry Registry, ws nethttp.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		payload := diagnosticsPayload{
			Status:     "ok",
			ServerTime: now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Instances:  registry.List(),
		}
		if payload.Instances == nil {
			payload.Instances = []instance.Info{}
		}
		if cfg.Metrics != nil {
			payload.Metrics = cfg.Metrics()
		}
		if cfg.EventStats != nil {
			stats := cfg.EventStats()
			payload.Events = &eventCounts{
				Routed:      stats.EventsTotal,
				Dropped:     stats.DroppedTotal,
				ByCategory:  stats.ByCategory,
				SinkDropped: stats.SinkDropped,
			}
		}
		if cfg.RecentEvents != nil {
			payload.RecentEvents = cfg.RecentEvents()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			logger.Printf("[http] failed to encode diagnostics: %v", err)
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if ws != nil {
		mux.Handle("/ws", ws)
	}

	if cfg.Observability.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
