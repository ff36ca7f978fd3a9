package netmon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"foxco2-go/bus"
	"foxco2-go/errcode"
	"foxco2-go/types"
)

type fakeRadio struct {
	mu       sync.Mutex
	sink     func(Event)
	initErr  error
	connErr  error
	connects int
	stops    int
}

func (r *fakeRadio) Init(sink func(Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	return r.initErr
}

func (r *fakeRadio) Start() error { return nil }

func (r *fakeRadio) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	return r.connErr
}

func (r *fakeRadio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRadio) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestMonitor(t *testing.T, cfg Config) (*Monitor, *fakeRadio, *clock) {
	t.Helper()
	r := &fakeRadio{}
	m := New(cfg, r, nil, quiet(), nil)
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clk.Now
	if err := m.Prepare(); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := m.TurnOn(); err != nil {
		t.Fatalf("turn on: %v", err)
	}
	return m, r, clk
}

func disassoc(reason Reason) Event { return Event{Kind: EventDisassociated, Reason: reason} }

func TestPrepareFailureIsUnrecoverable(t *testing.T) {
	r := &fakeRadio{initErr: errors.New("no chip")}
	m := New(Config{}, r, nil, quiet(), nil)
	err := m.Prepare()
	if errcode.Of(err) != errcode.Unrecoverable {
		t.Fatalf("code = %v, want unrecoverable", errcode.Of(err))
	}
	if err := m.TurnOn(); err == nil {
		t.Fatal("TurnOn without Prepare should fail")
	}
}

func TestTurnOnConnects(t *testing.T) {
	m, r, _ := newTestMonitor(t, Config{})
	if r.Connects() != 1 {
		t.Fatalf("connects = %d, want 1", r.Connects())
	}
	if m.State() != types.NetConnecting {
		t.Fatalf("state = %v, want connecting", m.State())
	}
	m.handle(Event{Kind: EventAssociated, Channel: 6})
	if m.State() != types.NetConnected {
		t.Fatalf("state = %v, want connected", m.State())
	}
}

func TestDisassociationBurstIssuesOneReconnect(t *testing.T) {
	m, r, clk := newTestMonitor(t, Config{})
	m.handle(Event{Kind: EventAssociated})

	for i := 0; i < 100; i++ {
		m.handle(disassoc(ReasonBeaconTimeout))
		clk.Advance(10 * time.Millisecond)
	}
	if got := r.Connects() - 1; got != 1 {
		t.Fatalf("reconnects in window = %d, want 1", got)
	}
	if m.State() != types.NetReconnectCooldown {
		t.Fatalf("state = %v, want reconnect-cooldown", m.State())
	}

	clk.Advance(5 * time.Second)
	m.handle(disassoc(ReasonAuthExpire))
	if got := r.Connects() - 1; got != 2 {
		t.Fatalf("reconnects after window = %d, want 2", got)
	}
}

func TestFirstFailureAfterTurnOnReconnectsAtOnce(t *testing.T) {
	m, r, clk := newTestMonitor(t, Config{})
	clk.Advance(2 * time.Second)

	m.handle(disassoc(ReasonNoAPFound))
	if r.Connects() != 2 {
		t.Fatalf("connects = %d, want 2", r.Connects())
	}

	// That reconnect opened the window.
	clk.Advance(2 * time.Second)
	m.handle(disassoc(ReasonNoAPFound))
	if r.Connects() != 2 {
		t.Fatalf("connects = %d, want 2 inside the window", r.Connects())
	}
	if m.State() != types.NetReconnectCooldown {
		t.Fatalf("state = %v, want reconnect-cooldown", m.State())
	}
}

func TestAssocLeaveDoesNotReconnect(t *testing.T) {
	m, r, clk := newTestMonitor(t, Config{})
	m.handle(Event{Kind: EventAssociated})
	clk.Advance(time.Minute)

	m.handle(disassoc(ReasonAssocLeave))
	if r.Connects() != 1 {
		t.Fatalf("connects = %d, want only the initial one", r.Connects())
	}
	if m.State() != types.NetDisconnected {
		t.Fatalf("state = %v, want disconnected", m.State())
	}
}

func TestEventsIgnoredWhenOff(t *testing.T) {
	m, r, clk := newTestMonitor(t, Config{})
	if err := m.TurnOff(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	m.handle(Event{Kind: EventAssociated})
	m.handle(disassoc(ReasonBeaconTimeout))
	if m.State() != types.NetDisconnected {
		t.Fatalf("state = %v, want disconnected", m.State())
	}
	if r.Connects() != 1 {
		t.Fatalf("connects = %d, want 1", r.Connects())
	}
}

func TestGotAddressSetsStickyReadiness(t *testing.T) {
	m, _, _ := newTestMonitor(t, Config{})
	m.handle(Event{Kind: EventAssociated})
	m.handle(Event{
		Kind:    EventGotAddress,
		Addr:    netip.MustParseAddr("192.168.1.50"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: netip.MustParseAddr("192.168.1.1"),
	})

	// A waiter that arrives after the fact must still see the level.
	if err := m.WaitReady(context.Background(), 0); err != nil {
		t.Fatalf("late wait: %v", err)
	}
	if st := m.Status(); !st.Ready || st.Addr != "192.168.1.50" {
		t.Fatalf("status = %+v", st)
	}

	// Readiness survives a disassociation until TurnOff.
	m.handle(disassoc(ReasonBeaconTimeout))
	if !m.Ready() {
		t.Fatal("readiness cleared by disassociation")
	}
}

func TestTurnOffReleasesWaiters(t *testing.T) {
	m, r, _ := newTestMonitor(t, Config{})

	done := make(chan error, 1)
	go func() { done <- m.WaitReady(context.Background(), 10*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	if err := m.TurnOff(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if errcode.Of(err) != errcode.Offline {
			t.Fatalf("err = %v, want offline", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by TurnOff")
	}
	if r.stops != 1 {
		t.Fatalf("stops = %d, want 1", r.stops)
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	m, _, _ := newTestMonitor(t, Config{})
	err := m.WaitReady(context.Background(), 20*time.Millisecond)
	if errcode.Of(err) != errcode.Timeout {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestSuppressedReconnectIsRetried(t *testing.T) {
	r := &fakeRadio{}
	m := New(Config{Cooldown: 40 * time.Millisecond}, r, nil, quiet(), nil)
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	if err := m.TurnOn(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// The first drop reconnects at once; the second lands inside the
	// window it opened and is retried by the timer.
	m.Post(disassoc(ReasonBeaconTimeout))
	m.Post(disassoc(ReasonBeaconTimeout))

	deadline := time.Now().Add(time.Second)
	for r.Connects() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Connects() != 3 {
		t.Fatalf("connects = %d, want 3 after cooldown retry", r.Connects())
	}
}

func TestConnectFailureEntersCooldown(t *testing.T) {
	r := &fakeRadio{connErr: errors.New("busy")}
	m := New(Config{}, r, nil, quiet(), nil)
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	if err := m.TurnOn(); err != nil {
		t.Fatalf("connect failure should not fail TurnOn: %v", err)
	}
	if m.State() != types.NetReconnectCooldown {
		t.Fatalf("state = %v, want reconnect-cooldown", m.State())
	}
}

func TestPostDropsOldest(t *testing.T) {
	m := New(Config{QueueLen: 2}, &fakeRadio{}, nil, quiet(), nil)
	m.Post(Event{Kind: EventAssociated, Channel: 1})
	m.Post(Event{Kind: EventAssociated, Channel: 2})
	m.Post(Event{Kind: EventAssociated, Channel: 3})

	first := <-m.events
	second := <-m.events
	if first.Channel != 2 || second.Channel != 3 {
		t.Fatalf("queue = %d,%d want 2,3", first.Channel, second.Channel)
	}
}

func TestStatePublishedRetained(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("netmon")
	m := New(Config{}, &fakeRadio{}, conn, quiet(), nil)
	if err := m.Prepare(); err != nil {
		t.Fatal(err)
	}
	if err := m.TurnOn(); err != nil {
		t.Fatal(err)
	}

	sub := b.NewConnection("reader").Subscribe(TopicState)
	select {
	case msg := <-sub.Channel():
		st, ok := msg.Payload.(types.NetStatus)
		if !ok || st.State != types.NetConnecting {
			t.Fatalf("payload = %#v", msg.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no retained state")
	}
}
