package logging

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

const (
	defaultRouterBuffer = 512
	minLaneBuffer       = 32
	maxLaneBuffer       = 1024
	maxSinkBackoff      = 32 * time.Second
)

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// NamedSink attaches a sink to the router. Categories restricts the sink to
// events of those categories; empty means every category.
type NamedSink struct {
	Name       string
	Sink       Sink
	Categories []string
}

// RouterStats is a point-in-time view of the router counters.
type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
	// ByCategory counts routed events per category.
	ByCategory map[string]uint64
	// SinkDropped counts events a sink's backlog had no room for, per sink.
	SinkDropped map[string]uint64
}

// Router fans game events out to sinks. Publish never blocks the caller: a
// single dispatcher stamps and counts events, then hands each sink a copy
// through its own lane so one slow sink cannot hold back the others.
type Router struct {
	clock       Clock
	fallback    *log.Logger
	minSeverity Severity
	fields      map[string]any
	warnEvery   time.Duration

	queue  chan Event
	lanes  []*sinkLane
	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	routed       atomic.Uint64
	dropped      atomic.Uint64
	nextDropWarn atomic.Int64

	mu         sync.Mutex
	byCategory map[string]uint64
}

// NewRouter starts the dispatcher and one lane per sink. Sink failures and
// drops are reported on fallback, which defaults to stderr.
func NewRouter(cfg Config, clock Clock, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultRouterBuffer
	}
	warnEvery := cfg.DropWarnInterval
	if warnEvery <= 0 {
		warnEvery = 5 * time.Second
	}

	r := &Router{
		clock:       clock,
		fallback:    fallback,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		warnEvery:   warnEvery,
		queue:       make(chan Event, buffer),
		stop:        make(chan struct{}),
		byCategory:  make(map[string]uint64),
	}

	laneBuffer := buffer
	if laneBuffer > maxLaneBuffer {
		laneBuffer = maxLaneBuffer
	}
	if laneBuffer < minLaneBuffer {
		laneBuffer = minLaneBuffer
	}
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.lanes = append(r.lanes, newSinkLane(named, laneBuffer, fallback, r.stop))
	}

	for _, lane := range r.lanes {
		r.wg.Add(1)
		go func(l *sinkLane) {
			defer r.wg.Done()
			l.run()
		}(lane)
	}
	r.wg.Add(1)
	go r.dispatch()
	return r, nil
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	defer func() {
		for _, lane := range r.lanes {
			close(lane.events)
		}
	}()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.route(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) route(event Event) {
	if event.Severity < r.minSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event.Category = CategoryOf(event)
	if len(r.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}

	r.routed.Add(1)
	r.mu.Lock()
	r.byCategory[event.Category]++
	r.mu.Unlock()

	for _, lane := range r.lanes {
		if lane.accepts(event.Category) {
			lane.offer(event)
		}
	}
}

// Publish enqueues event without blocking; a full queue drops it.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.drop(event)
	}
}

func (r *Router) drop(event Event) {
	r.dropped.Add(1)
	now := time.Now().UnixNano()
	next := r.nextDropWarn.Load()
	if now < next {
		return
	}
	if r.nextDropWarn.CompareAndSwap(next, now+r.warnEvery.Nanoseconds()) {
		r.fallback.Printf("router queue full, dropping %s event type=%s tick=%d", CategoryOf(event), event.Type, event.Tick)
	}
}

// Close drains queued events, stops the lanes and closes every sink.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var err error
	for _, lane := range r.lanes {
		err = multierr.Append(err, lane.sink.Close(ctx))
	}
	return err
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.routed.Load(),
		DroppedTotal: r.dropped.Load(),
		ByCategory:   make(map[string]uint64),
		SinkDropped:  make(map[string]uint64, len(r.lanes)),
	}
	r.mu.Lock()
	for category, n := range r.byCategory {
		stats.ByCategory[category] = n
	}
	r.mu.Unlock()
	for _, lane := range r.lanes {
		stats.SinkDropped[lane.name] = lane.dropped.Load()
	}
	return stats
}

// Sink returns the sink registered under name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, lane := range r.lanes {
		if lane.name == name {
			return lane.sink
		}
	}
	return nil
}

// SinkNames lists the attached sinks in name order.
func (r *Router) SinkNames() []string {
	names := make([]string, 0, len(r.lanes))
	for _, lane := range r.lanes {
		names = append(names, lane.name)
	}
	sort.Strings(names)
	return names
}

// sinkLane feeds one sink from its own goroutine. A failing sink backs off
// exponentially, up to maxSinkBackoff, until a write succeeds again.
type sinkLane struct {
	name       string
	sink       Sink
	categories map[string]struct{}
	events     chan Event
	fallback   *log.Logger
	stop       <-chan struct{}
	dropped    atomic.Uint64
	backoff    time.Duration
}

func newSinkLane(named NamedSink, buffer int, fallback *log.Logger, stop <-chan struct{}) *sinkLane {
	lane := &sinkLane{
		name:     named.Name,
		sink:     named.Sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
		stop:     stop,
	}
	if len(named.Categories) > 0 {
		lane.categories = make(map[string]struct{}, len(named.Categories))
		for _, category := range named.Categories {
			lane.categories[category] = struct{}{}
		}
	}
	return lane
}

func (l *sinkLane) accepts(category string) bool {
	if l.categories == nil {
		return true
	}
	_, ok := l.categories[category]
	return ok
}

func (l *sinkLane) offer(event Event) {
	select {
	case l.events <- cloneForFields(event):
	default:
		if l.dropped.Add(1) == 1 {
			l.fallback.Printf("sink %s backlog full, dropping %s events", l.name, event.Category)
		}
	}
}

func (l *sinkLane) run() {
	for event := range l.events {
		l.pause()
		if err := l.sink.Write(event); err != nil {
			l.failed(err)
			continue
		}
		l.backoff = 0
	}
}

// pause waits out the current backoff. Shutdown cuts the wait short so the
// backlog can still be flushed.
func (l *sinkLane) pause() {
	if l.backoff == 0 {
		return
	}
	timer := time.NewTimer(l.backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-l.stop:
	}
}

func (l *sinkLane) failed(err error) {
	switch {
	case l.backoff == 0:
		l.backoff = time.Second
	case l.backoff < maxSinkBackoff:
		l.backoff *= 2
	}
	l.fallback.Printf("sink %s failed: %v (retry in %s)", l.name, err, l.backoff)
}
