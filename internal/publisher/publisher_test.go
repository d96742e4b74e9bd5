package publisher

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"bus_tracker/internal/events"
)

var errSocket = errors.New("socket closed")

type fakeTransport struct {
	mu     sync.Mutex
	sent   []events.Inbound
	failAt int // fail the n-th send from now, 0 = never
	down   bool
}

func (f *fakeTransport) Send(_ context.Context, ev events.Inbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errSocket
	}
	if f.failAt > 0 {
		f.failAt--
		if f.failAt == 0 {
			f.down = true
			return errSocket
		}
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeTransport) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeTransport) all() []events.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Inbound(nil), f.sent...)
}

func (f *fakeTransport) locations() []events.UpdateLocation {
	var out []events.UpdateLocation
	for _, ev := range f.all() {
		if u, ok := ev.(events.UpdateLocation); ok {
			out = append(out, u)
		}
	}
	return out
}

type fakeMetrics struct {
	mu        sync.Mutex
	depth     int
	sent      int
	queued    int
	connected bool
}

func (m *fakeMetrics) QueueDepthSet(n int) { m.mu.Lock(); m.depth = n; m.mu.Unlock() }
func (m *fakeMetrics) SampleSent()         { m.mu.Lock(); m.sent++; m.mu.Unlock() }
func (m *fakeMetrics) SampleQueued()       { m.mu.Lock(); m.queued++; m.mu.Unlock() }
func (m *fakeMetrics) ConnectedSet(c bool) { m.mu.Lock(); m.connected = c; m.mu.Unlock() }

var base = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

func sample(route string, sec int) events.UpdateLocation {
	return events.UpdateLocation{
		RouteID:    route,
		Lat:        -1.28 + float64(sec)/1000,
		Lng:        36.82,
		CapturedAt: base.Add(time.Duration(sec) * time.Second),
	}
}

func online(t *testing.T, tr *fakeTransport, opts ...Option) *Publisher {
	t.Helper()
	p := New(tr, opts...)
	if err := p.Reconnected(context.Background()); err != nil {
		t.Fatalf("Reconnected: %v", err)
	}
	return p
}

func TestPublishSendsWhileOnline(t *testing.T) {
	tr := &fakeTransport{}
	m := &fakeMetrics{}
	p := online(t, tr, WithMetrics(m))

	p.Publish(context.Background(), sample("r1", 1))

	if got := tr.locations(); len(got) != 1 || !got[0].CapturedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("sent = %+v", got)
	}
	if p.Pending() != 0 || m.sent != 1 || m.queued != 0 || !m.connected {
		t.Errorf("pending=%d metrics=%+v", p.Pending(), m)
	}
}

func TestPublishStampsMissingCaptureTime(t *testing.T) {
	tr := &fakeTransport{}
	p := online(t, tr, WithClock(func() time.Time { return base }))

	p.Publish(context.Background(), events.UpdateLocation{RouteID: "r1", Lat: 1, Lng: 1})

	if got := tr.locations(); len(got) != 1 || !got[0].CapturedAt.Equal(base) {
		t.Fatalf("sent = %+v", got)
	}
}

func TestOfflineSamplesReplayInCaptureOrder(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	m := &fakeMetrics{}
	p := online(t, tr, WithMetrics(m))
	p.StartTrip(ctx, "r1")

	p.Disconnected()
	tr.setDown(true)
	p.Publish(ctx, sample("r1", 1))
	p.Publish(ctx, sample("r1", 2))
	p.Publish(ctx, sample("r1", 3))

	if p.Pending() != 3 || m.depth != 3 || m.connected {
		t.Fatalf("pending=%d metrics=%+v", p.Pending(), m)
	}

	tr.setDown(false)
	if err := p.Reconnected(ctx); err != nil {
		t.Fatalf("Reconnected: %v", err)
	}

	evs := tr.all()
	// start-trip, join-route (rejoin), then t1 t2 t3
	if len(evs) != 5 {
		t.Fatalf("got %d events: %+v", len(evs), evs)
	}
	if _, ok := evs[1].(events.JoinRoute); !ok {
		t.Errorf("event 1 = %T, want JoinRoute before replay", evs[1])
	}
	for i, ev := range evs[2:] {
		u := ev.(events.UpdateLocation)
		want := base.Add(time.Duration(i+1) * time.Second)
		if !u.CapturedAt.Equal(want) {
			t.Errorf("replay %d capturedAt = %v, want %v", i, u.CapturedAt, want)
		}
	}
	if p.Pending() != 0 || m.depth != 0 || !m.connected {
		t.Errorf("pending=%d metrics=%+v", p.Pending(), m)
	}
}

func TestPartialFlushKeepsTail(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := New(tr)

	for sec := 1; sec <= 4; sec++ {
		p.Publish(ctx, sample("r1", sec))
	}

	tr.failAt = 3 // t1 and t2 go out, t3 fails
	if err := p.Reconnected(ctx); !errors.Is(err, errSocket) {
		t.Fatalf("Reconnected err = %v, want %v", err, errSocket)
	}
	if p.Online() {
		t.Error("publisher should be offline after a failed flush")
	}
	if p.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", p.Pending())
	}

	// live sample while offline goes behind the tail
	p.Publish(ctx, sample("r1", 5))

	tr.setDown(false)
	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}

	got := tr.locations()
	if len(got) != 5 {
		t.Fatalf("sent %d samples, want 5", len(got))
	}
	for i, u := range got {
		if want := base.Add(time.Duration(i+1) * time.Second); !u.CapturedAt.Equal(want) {
			t.Errorf("sample %d capturedAt = %v, want %v", i, u.CapturedAt, want)
		}
	}
}

func TestSendFailureQueuesSample(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := online(t, tr)

	tr.setDown(true)
	p.Publish(ctx, sample("r1", 1))
	tr.setDown(false)
	// still offline until the transport reconnects
	p.Publish(ctx, sample("r1", 2))

	if p.Online() || p.Pending() != 2 {
		t.Fatalf("online=%v pending=%d", p.Online(), p.Pending())
	}
	if len(tr.locations()) != 0 {
		t.Errorf("nothing should have been sent")
	}
}

func TestOutOfOrderSampleInsertedByCaptureTime(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := New(tr)

	p.Publish(ctx, sample("r1", 1))
	p.Publish(ctx, sample("r1", 3))
	p.Publish(ctx, sample("r1", 2))
	p.Publish(ctx, sample("r1", 3))

	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}
	got := tr.locations()
	want := []int{1, 2, 3, 3}
	if len(got) != len(want) {
		t.Fatalf("sent %d, want %d", len(got), len(want))
	}
	for i, sec := range want {
		if !got[i].CapturedAt.Equal(base.Add(time.Duration(sec) * time.Second)) {
			t.Errorf("sample %d = %v, want +%ds", i, got[i].CapturedAt, sec)
		}
	}
}

func TestStopForgetsRoom(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := online(t, tr)

	p.Join(ctx, "r1")
	p.StartTrip(ctx, "r2")
	p.Stop(ctx, "r2")

	p.Disconnected()
	before := len(tr.all())
	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}
	rejoined := tr.all()[before:]
	if len(rejoined) != 1 || rejoined[0].(events.JoinRoute).RouteID != "r1" {
		t.Errorf("rejoined = %+v, want only r1", rejoined)
	}
}

func names(evs []events.Inbound) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventName()
	}
	return out
}

func TestStartTripHeldUntilConnect(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := New(tr)

	p.StartTrip(ctx, "r1")
	p.Publish(ctx, sample("r1", 1))
	if len(tr.all()) != 0 || p.Idle() {
		t.Fatalf("sent while offline: %v", names(tr.all()))
	}

	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{events.NameJoinRoute, events.NameStartTrip, events.NameUpdateLocation}
	if got := names(tr.all()); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if st := tr.all()[1].(events.StartTrip); st.RouteID != "r1" {
		t.Errorf("start-trip = %+v", st)
	}
	if !p.Idle() {
		t.Error("publisher should be idle after the replay")
	}
}

func TestTripCommandsBracketReplay(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, p *Publisher, tr *fakeTransport)
		want []string
	}{
		{
			name: "whole trip offline",
			run: func(ctx context.Context, p *Publisher, tr *fakeTransport) {
				p.StartTrip(ctx, "r1")
				p.Publish(ctx, sample("r1", 1))
				p.Publish(ctx, sample("r1", 2))
				p.Stop(ctx, "r1")
			},
			want: []string{events.NameStartTrip, events.NameUpdateLocation, events.NameUpdateLocation, events.NameStopTrip},
		},
		{
			name: "stop sent live fails",
			run: func(ctx context.Context, p *Publisher, tr *fakeTransport) {
				tr.setDown(false)
				p.Reconnected(ctx)
				p.StartTrip(ctx, "r1")
				tr.setDown(true)
				p.Publish(ctx, sample("r1", 1))
				p.Stop(ctx, "r1")
			},
			want: []string{events.NameStartTrip, events.NameUpdateLocation, events.NameStopTrip},
		},
		{
			name: "restart cancels held stop",
			run: func(ctx context.Context, p *Publisher, tr *fakeTransport) {
				p.Stop(ctx, "r1")
				p.StartTrip(ctx, "r1")
			},
			want: []string{events.NameJoinRoute, events.NameStartTrip},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tr := &fakeTransport{down: true}
			p := New(tr)
			tt.run(ctx, p, tr)
			if p.Idle() {
				t.Fatal("publisher should hold commands while offline")
			}

			tr.setDown(false)
			if err := p.Reconnected(ctx); err != nil {
				t.Fatal(err)
			}
			if got := names(tr.all()); !slices.Equal(got, tt.want) {
				t.Errorf("events = %v, want %v", got, tt.want)
			}
			if !p.Idle() {
				t.Error("nothing should be held after reconnect")
			}
		})
	}
}

func TestFailedStopStaysHeld(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := New(tr)

	p.StartTrip(ctx, "r1")
	p.Publish(ctx, sample("r1", 1))
	p.Stop(ctx, "r1")

	tr.failAt = 3 // start-trip and the sample go out, stop-trip fails
	if err := p.Reconnected(ctx); !errors.Is(err, errSocket) {
		t.Fatalf("Reconnected err = %v, want %v", err, errSocket)
	}
	if p.Online() || p.Pending() != 0 || p.Idle() {
		t.Fatalf("online=%v pending=%d idle=%v", p.Online(), p.Pending(), p.Idle())
	}

	tr.setDown(false)
	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{events.NameStartTrip, events.NameUpdateLocation, events.NameStopTrip}
	if got := names(tr.all()); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

type sliceSource struct {
	fixes     []Fix
	cancelled bool
}

func (s *sliceSource) Start(context.Context) (<-chan Fix, CancelFunc, error) {
	ch := make(chan Fix, len(s.fixes))
	for _, f := range s.fixes {
		ch <- f
	}
	close(ch)
	return ch, func() { s.cancelled = true }, nil
}

func TestTrackPumpsSource(t *testing.T) {
	tr := &fakeTransport{}
	p := online(t, tr)
	src := &sliceSource{fixes: []Fix{
		{Lat: 1, Lng: 2, CapturedAt: base},
		{Lat: 3, Lng: 4, CapturedAt: base.Add(time.Second)},
	}}

	if err := p.Track(context.Background(), "r1", src); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if !src.cancelled {
		t.Error("source not cancelled")
	}

	evs := tr.all()
	if len(evs) != 3 {
		t.Fatalf("got %d events, want start-trip + 2 samples", len(evs))
	}
	if st, ok := evs[0].(events.StartTrip); !ok || st.RouteID != "r1" {
		t.Errorf("first event = %+v", evs[0])
	}
	if u := evs[2].(events.UpdateLocation); u.RouteID != "r1" || u.Lat != 3 {
		t.Errorf("last event = %+v", u)
	}
}

func TestTrackWhileOfflineQueues(t *testing.T) {
	p := New(&fakeTransport{})
	src := &sliceSource{fixes: []Fix{{Lat: 1, Lng: 2, CapturedAt: base}}}

	if err := p.Track(context.Background(), "r1", src); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if p.Pending() != 1 {
		t.Errorf("pending = %d, want 1", p.Pending())
	}
}

func TestConcurrentPublishAndReconnect(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	p := New(tr)

	for sec := 1; sec <= 50; sec++ {
		p.Publish(ctx, sample("r1", sec))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for sec := 51; sec <= 100; sec++ {
			p.Publish(ctx, sample("r1", sec))
		}
	}()
	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if err := p.Reconnected(ctx); err != nil {
		t.Fatal(err)
	}

	got := tr.locations()
	if len(got) != 100 {
		t.Fatalf("sent %d, want 100", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CapturedAt.Before(got[i-1].CapturedAt) {
			t.Fatalf("sample %d out of order", i)
		}
	}
}
