// Package publisher is the driver-side half of live tracking: it forwards GPS
// fixes to the server, queues them while the transport is down and replays
// them in capture order once it is back.
package publisher

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bus_tracker/internal/events"
)

// Transport delivers one inbound event to the server.
type Transport interface {
	Send(ctx context.Context, ev events.Inbound) error
}

// Metrics receives publisher gauges. A nil Metrics is allowed.
type Metrics interface {
	QueueDepthSet(n int)
	SampleSent()
	SampleQueued()
	ConnectedSet(connected bool)
}

// Publisher owns the offline queue. The queue has no size bound.
type Publisher struct {
	transport Transport
	metrics   Metrics
	now       func() time.Time

	mu     sync.Mutex
	online bool
	queue  []events.UpdateLocation // ascending CapturedAt
	rooms  []string                // joined routes, re-issued on reconnect
	starts []string                // start-trip not yet delivered, sent before the replay
	stops  []string                // stop-trip not yet delivered, sent after the replay
}

type Option func(*Publisher)

func WithMetrics(m Metrics) Option { return func(p *Publisher) { p.metrics = m } }

func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

// New returns a Publisher that starts offline; the transport reports the
// first connection through Reconnected.
func New(t Transport, opts ...Option) *Publisher {
	p := &Publisher{transport: t, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends a sample, or queues it while offline. Samples are also queued
// while older ones are still waiting, so the server sees capture order.
func (p *Publisher) Publish(ctx context.Context, s events.UpdateLocation) {
	if s.CapturedAt.IsZero() {
		s.CapturedAt = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.online || len(p.queue) > 0 {
		p.enqueueLocked(s)
		return
	}
	if err := p.transport.Send(ctx, s); err != nil {
		logrus.WithError(err).WithField("route_id", s.RouteID).Warn("Send failed, switching to offline queue.")
		p.setOnlineLocked(false)
		p.enqueueLocked(s)
		return
	}
	p.sent()
}

// Join subscribes to a route room and remembers it for reconnects. While
// offline the join goes out with the others on the next Reconnected.
func (p *Publisher) Join(ctx context.Context, routeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rememberLocked(routeID)
	if p.online {
		p.commandLocked(ctx, events.JoinRoute{RouteID: routeID})
	}
}

// StartTrip announces the trip. While offline it is held and sent on
// reconnect ahead of the queued samples.
func (p *Publisher) StartTrip(ctx context.Context, routeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rememberLocked(routeID)
	p.stops = remove(p.stops, routeID)
	if p.online && p.commandLocked(ctx, events.StartTrip{RouteID: routeID}) {
		return
	}
	p.starts = add(p.starts, routeID)
}

// Stop issues stop-trip. While offline, or while samples are still queued,
// it is held and sent on reconnect after the replay.
func (p *Publisher) Stop(ctx context.Context, routeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgetLocked(routeID)
	if p.online && len(p.queue) == 0 && len(p.starts) == 0 &&
		p.commandLocked(ctx, events.StopTrip{RouteID: routeID}) {
		return
	}
	p.stops = add(p.stops, routeID)
}

// Track starts a trip on routeID and forwards every fix from src until the
// source closes or ctx is done.
func (p *Publisher) Track(ctx context.Context, routeID string, src LocationSource) error {
	p.StartTrip(ctx, routeID)

	fixes, cancel, err := src.Start(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			p.Publish(ctx, events.UpdateLocation{
				RouteID:    routeID,
				Lat:        fix.Lat,
				Lng:        fix.Lng,
				CapturedAt: fix.CapturedAt,
			})
		}
	}
}

// Disconnected switches to queueing. Called by the transport.
func (p *Publisher) Disconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online {
		logrus.Warn("Connection lost. Queueing location samples.")
	}
	p.setOnlineLocked(false)
}

// Reconnected re-joins every remembered room, sends held start-trips, replays
// the queue oldest first with original capture times and finally sends held
// stop-trips. If a send fails everything unsent stays held in order and the
// publisher goes back offline.
func (p *Publisher) Reconnected(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setOnlineLocked(true)
	for _, routeID := range p.rooms {
		if err := p.transport.Send(ctx, events.JoinRoute{RouteID: routeID}); err != nil {
			p.setOnlineLocked(false)
			return err
		}
	}
	for len(p.starts) > 0 {
		if err := p.transport.Send(ctx, events.StartTrip{RouteID: p.starts[0]}); err != nil {
			p.setOnlineLocked(false)
			return err
		}
		p.starts = p.starts[1:]
	}

	if n := len(p.queue); n > 0 {
		logrus.WithField("pending", n).Info("Back online. Replaying queued location samples.")
	}
	for len(p.queue) > 0 {
		if err := p.transport.Send(ctx, p.queue[0]); err != nil {
			logrus.WithError(err).WithField("pending", len(p.queue)).Warn("Replay interrupted.")
			p.setOnlineLocked(false)
			return err
		}
		p.queue[0] = events.UpdateLocation{}
		p.queue = p.queue[1:]
		p.sent()
		p.depthLocked()
	}
	p.queue = nil

	for len(p.stops) > 0 {
		if err := p.transport.Send(ctx, events.StopTrip{RouteID: p.stops[0]}); err != nil {
			p.setOnlineLocked(false)
			return err
		}
		p.stops = p.stops[1:]
	}
	return nil
}

// Pending returns the number of queued samples.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Online reports whether the publisher believes the transport is up.
func (p *Publisher) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Idle reports whether the publisher is online with no held samples or commands.
func (p *Publisher) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online && len(p.queue) == 0 && len(p.starts) == 0 && len(p.stops) == 0
}

// commandLocked sends ev and reports whether it was delivered. A failed send
// takes the publisher offline.
func (p *Publisher) commandLocked(ctx context.Context, ev events.Inbound) bool {
	if err := p.transport.Send(ctx, ev); err != nil {
		logrus.WithError(err).WithField("event", ev.EventName()).Warn("Command not delivered, holding it for reconnect.")
		p.setOnlineLocked(false)
		return false
	}
	return true
}

// enqueueLocked inserts s after every queued sample captured at or before it.
func (p *Publisher) enqueueLocked(s events.UpdateLocation) {
	i := sort.Search(len(p.queue), func(i int) bool {
		return p.queue[i].CapturedAt.After(s.CapturedAt)
	})
	p.queue = append(p.queue, events.UpdateLocation{})
	copy(p.queue[i+1:], p.queue[i:])
	p.queue[i] = s

	if p.metrics != nil {
		p.metrics.SampleQueued()
	}
	p.depthLocked()
}

func (p *Publisher) rememberLocked(routeID string) {
	p.rooms = add(p.rooms, routeID)
}

func (p *Publisher) forgetLocked(routeID string) {
	p.rooms = remove(p.rooms, routeID)
}

func (p *Publisher) setOnlineLocked(online bool) {
	p.online = online
	if p.metrics != nil {
		p.metrics.ConnectedSet(online)
	}
}

func (p *Publisher) depthLocked() {
	if p.metrics != nil {
		p.metrics.QueueDepthSet(len(p.queue))
	}
}

func (p *Publisher) sent() {
	if p.metrics != nil {
		p.metrics.SampleSent()
	}
}

func add(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
