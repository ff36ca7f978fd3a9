// Package netmon keeps the wireless association alive. It is an explicit
// state machine fed by link-layer events through an injectable queue:
//
//	Disconnected --TurnOn--> Connecting --associated--> Connected
//	Connected/Connecting --disassociated(other)--> ReconnectCooldown
//	ReconnectCooldown --associated--> Connected
//	any --disassociated(assoc leave) or TurnOff--> Disconnected
//
// Reconnect requests are capped to one per cooldown window no matter how
// many disassociation events arrive; a suppressed attempt is retried by a
// timer when the window closes. Address acquisition sets the sticky
// Readiness signal that gates startup work.
package netmon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"foxco2-go/bus"
	"foxco2-go/errcode"
	"foxco2-go/services/metrics"
	"foxco2-go/types"
)

// TopicState carries the retained types.NetStatus document.
var TopicState = bus.T("net", "state")

// Config holds the monitor timings.
type Config struct {
	// Cooldown is the minimum spacing between reconnect requests. Default 5 s.
	Cooldown time.Duration
	// QueueLen bounds the event queue. Default 16; the oldest event is
	// dropped when full.
	QueueLen int
}

// Monitor owns the connection state. All transitions happen on the Run
// goroutine or in the explicit TurnOn/TurnOff calls.
type Monitor struct {
	cfg     Config
	radio   Radio
	conn    *bus.Connection
	log     *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	events chan Event
	wake   chan struct{}
	ready  *Readiness

	mu            sync.Mutex
	state         types.NetState
	prepared      bool
	on            bool
	lastReconnect time.Time
	retryAt       time.Time
	addr          string
}

func New(cfg Config, radio Radio, conn *bus.Connection, log *slog.Logger, rec metrics.Recorder) *Monitor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 16
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		radio:   radio,
		conn:    conn,
		log:     log,
		metrics: metrics.OrNop(rec),
		now:     time.Now,
		events:  make(chan Event, cfg.QueueLen),
		wake:    make(chan struct{}, 1),
		ready:   NewReadiness(),
	}
}

// Prepare initialises the radio and registers the event sink. A failure
// here is unrecoverable.
func (m *Monitor) Prepare() error {
	if err := m.radio.Init(m.Post); err != nil {
		return errcode.Wrap(errcode.Unrecoverable, "netmon.prepare", err)
	}
	m.mu.Lock()
	m.prepared = true
	m.state = types.NetDisconnected
	m.mu.Unlock()
	m.publish()
	return nil
}

// TurnOn starts the radio and issues the first connect request. A failed
// connect request is not fatal: the monitor falls into the cooldown state
// and retries.
func (m *Monitor) TurnOn() error {
	m.mu.Lock()
	if !m.prepared {
		m.mu.Unlock()
		return errcode.New(errcode.Unsupported, "netmon.turn_on", "radio not prepared")
	}
	m.on = true
	m.state = types.NetConnecting
	m.mu.Unlock()
	m.publish()

	if err := m.radio.Start(); err != nil {
		return errcode.Wrap(errcode.Unrecoverable, "netmon.turn_on", err)
	}
	// The first connect request does not open a reconnect window: a link
	// that fails right after power-on is retried at once.
	if err := m.radio.Connect(); err != nil {
		m.log.Warn("wifi:connect-failed", slog.String("err", err.Error()))
		m.enterCooldown()
	}
	return nil
}

// TurnOff clears readiness, releasing any waiter, and stops the radio.
func (m *Monitor) TurnOff() error {
	m.ready.Clear()
	m.mu.Lock()
	m.on = false
	m.state = types.NetDisconnected
	m.retryAt = time.Time{}
	m.addr = ""
	m.mu.Unlock()
	m.publish()

	if err := m.radio.Stop(); err != nil {
		return errcode.Wrap(errcode.Transport, "netmon.turn_off", err)
	}
	return nil
}

// Post enqueues a link-layer event without blocking. When the queue is
// full the oldest event is discarded.
func (m *Monitor) Post(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case old := <-m.events:
			m.log.Warn("wifi:event-dropped", slog.String("kind", old.Kind.String()))
		default:
		}
	}
}

// WaitReady blocks until the network is ready, it is turned off, or the
// timeout elapses.
func (m *Monitor) WaitReady(ctx context.Context, timeout time.Duration) error {
	return m.ready.Wait(ctx, timeout)
}

// Ready reports the readiness level without waiting.
func (m *Monitor) Ready() bool { return m.ready.IsSet() }

// State returns the current connection state.
func (m *Monitor) State() types.NetState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns the document published on TopicState.
func (m *Monitor) Status() types.NetStatus {
	m.mu.Lock()
	st := types.NetStatus{State: m.state, Addr: m.addr}
	m.mu.Unlock()
	st.Ready = m.ready.IsSet()
	return st
}

// Run dispatches queued events and the cooldown timer until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		at := m.retryAt
		m.mu.Unlock()
		d := time.Hour
		if !at.IsZero() {
			d = at.Sub(m.now())
		}
		resetTimer(timer, d)

		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handle(ev)
		case <-m.wake:
		case <-timer.C:
			m.retry()
		}
	}
}

func (m *Monitor) handle(ev Event) {
	switch ev.Kind {
	case EventAssociated:
		m.mu.Lock()
		if !m.on {
			m.mu.Unlock()
			return
		}
		m.state = types.NetConnected
		m.retryAt = time.Time{}
		m.mu.Unlock()
		m.log.Info("wifi:connected",
			slog.Int("channel", int(ev.Channel)),
			slog.String("bssid", net.HardwareAddr(ev.BSSID[:]).String()))

	case EventGotAddress:
		m.mu.Lock()
		if !m.on {
			m.mu.Unlock()
			return
		}
		m.state = types.NetConnected
		m.retryAt = time.Time{}
		m.addr = ev.Addr.String()
		m.mu.Unlock()
		m.ready.Set()
		m.log.Info("wifi:got-address",
			slog.String("ip", ev.Addr.String()),
			slog.String("netmask", ev.Netmask.String()),
			slog.String("gw", ev.Gateway.String()))

	case EventDisassociated:
		m.log.Info("wifi:disconnected", slog.Int("reason", int(ev.Reason)))
		m.mu.Lock()
		m.addr = ""
		if ev.Reason == ReasonAssocLeave || !m.on {
			// Deliberate disconnect, nothing to repair.
			m.state = types.NetDisconnected
			m.retryAt = time.Time{}
			m.mu.Unlock()
			break
		}
		m.state = types.NetReconnectCooldown
		due := m.reconnectDueLocked()
		m.mu.Unlock()
		if due {
			m.reconnect()
		}

	default:
		return
	}
	m.publish()
}

// retry runs when the cooldown timer fires.
func (m *Monitor) retry() {
	m.mu.Lock()
	if !m.on || m.state != types.NetReconnectCooldown {
		m.retryAt = time.Time{}
		m.mu.Unlock()
		return
	}
	due := m.reconnectDueLocked()
	m.mu.Unlock()
	if due {
		m.reconnect()
	}
}

// reconnectDueLocked stamps and returns true when a reconnect may be issued
// now; otherwise it schedules the retry timer for the end of the window.
func (m *Monitor) reconnectDueLocked() bool {
	now := m.now()
	if m.lastReconnect.IsZero() || now.Sub(m.lastReconnect) >= m.cfg.Cooldown {
		m.lastReconnect = now
		m.retryAt = time.Time{}
		return true
	}
	m.retryAt = m.lastReconnect.Add(m.cfg.Cooldown)
	m.kick()
	return false
}

func (m *Monitor) reconnect() {
	m.metrics.Reconnect()
	m.log.Info("wifi:reconnect")
	if err := m.radio.Connect(); err != nil {
		m.log.Warn("wifi:reconnect-failed", slog.String("err", err.Error()))
		m.enterCooldown()
	}
}

// enterCooldown parks the machine until the window after the last attempt
// has passed.
func (m *Monitor) enterCooldown() {
	m.mu.Lock()
	if m.on {
		m.state = types.NetReconnectCooldown
		if m.lastReconnect.IsZero() {
			m.retryAt = m.now()
		} else {
			m.retryAt = m.lastReconnect.Add(m.cfg.Cooldown)
		}
	}
	m.mu.Unlock()
	m.kick()
	m.publish()
}

func (m *Monitor) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) publish() {
	st := m.Status()
	m.metrics.NetState(st.State)
	if m.conn != nil {
		m.conn.Publish(m.conn.NewMessage(TopicState, st, true))
	}
}

// resetTimer safely stops, drains, and resets a timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
