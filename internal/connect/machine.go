package connect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

// State is the client's connect state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Transition is reported to OnTransition subscribers on every state change.
// Err is set when the change was caused by a failure.
type Transition struct {
	From  State
	To    State
	Epoch uint64
	Err   error
}

type SessionEventKind uint8

const (
	SessionConnected SessionEventKind = iota + 1
	SessionDisconnected
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionEvent is reported by a Session for the attempt identified by Epoch.
type SessionEvent struct {
	Epoch    uint64
	Kind     SessionEventKind
	ClientID uint64
	Err      error
}

// Session is the transport that consumes connect tokens. Deliver and
// Disconnect must not block the caller; outcomes come back on Events.
type Session interface {
	Deliver(epoch uint64, token netcode.ConnectToken)
	Disconnect()
	Events() <-chan SessionEvent
}

// Machine drives Disconnected -> Connecting -> Connected. All methods must be
// called from the same goroutine.
type Machine struct {
	ctx     context.Context
	tracker *Tracker
	session Session
	logger  *slog.Logger
	metrics *metrics.Metrics

	state    State
	epoch    uint64
	clientID uint64
	lastErr  error

	onTransition   []func(Transition)
	onDisconnected []func()
}

// NewMachine returns a machine in Disconnected. Fetches are spawned under
// ctx, so cancelling it stops any fetch in flight.
func NewMachine(ctx context.Context, tracker *Tracker, session Session, logger *slog.Logger, m *metrics.Metrics) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		ctx:     ctx,
		tracker: tracker,
		session: session,
		logger:  logger,
		metrics: m,
	}
}

func (m *Machine) State() State { return m.state }

// Epoch identifies the current (or most recent) connect attempt.
func (m *Machine) Epoch() uint64 { return m.epoch }

// ClientID is the id the server assigned, or 0 when not Connected.
func (m *Machine) ClientID() uint64 { return m.clientID }

// LastError is the failure behind the most recent drop to Disconnected.
func (m *Machine) LastError() error { return m.lastErr }

// Pending reports whether a token fetch is in flight.
func (m *Machine) Pending() bool { return m.tracker.Pending() }

func (m *Machine) Endpoint() string { return m.tracker.Endpoint() }

func (m *Machine) OnTransition(fn func(Transition)) {
	m.onTransition = append(m.onTransition, fn)
}

func (m *Machine) OnDisconnected(fn func()) {
	m.onDisconnected = append(m.onDisconnected, fn)
}

// OnConnectClicked starts a connect attempt. It is ignored unless the machine
// is Disconnected, so repeated clicks never spawn a second fetch.
func (m *Machine) OnConnectClicked() bool {
	if m.state != Disconnected {
		m.logger.Debug("connect ignored", "state", m.state, "epoch", m.epoch)
		return false
	}
	if err := m.tracker.StartFetch(m.ctx); err != nil {
		// Disconnected always leaves the slot empty.
		panic(fmt.Sprintf("connect: %v while disconnected", err))
	}
	m.epoch++
	m.lastErr = nil
	m.logger.Info("requesting connect token", "endpoint", m.tracker.Endpoint(), "epoch", m.epoch)
	m.setState(Connecting, nil)
	return true
}

// OnDisconnectClicked abandons any pending fetch, tears down the session and
// returns to Disconnected.
func (m *Machine) OnDisconnectClicked() bool {
	if m.state == Disconnected {
		return false
	}
	m.logger.Info("disconnect requested", "state", m.state, "epoch", m.epoch)
	m.disconnect(nil)
	return true
}

// Toggle connects when Disconnected and disconnects otherwise.
func (m *Machine) Toggle() {
	if m.state == Disconnected {
		m.OnConnectClicked()
		return
	}
	m.OnDisconnectClicked()
}

// Tick polls the pending fetch once and drains session events. It never
// blocks.
func (m *Machine) Tick() {
	m.pollFetch()
	m.drainSession()
}

func (m *Machine) pollFetch() {
	res := m.tracker.Poll()
	switch res.Status {
	case PollReady:
		m.metrics.FetchOutcome("ok")
		m.logger.Info("received connect token, starting connection",
			"epoch", m.epoch, "servers", len(res.Token.ServerAddresses))
		m.session.Deliver(m.epoch, res.Token)
	case PollFailed:
		kind := auth.KindOf(res.Err)
		m.metrics.FetchOutcome(outcome(kind))
		m.logger.Warn("token fetch failed", "kind", outcome(kind), "err", res.Err, "epoch", m.epoch)
		m.lastErr = res.Err
		m.setState(Disconnected, res.Err)
	}
}

func outcome(k auth.FetchErrorKind) string {
	if k == 0 {
		return "error"
	}
	return k.String()
}

func (m *Machine) drainSession() {
	events := m.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleSession(ev)
		default:
			return
		}
	}
}

func (m *Machine) handleSession(ev SessionEvent) {
	if ev.Epoch != m.epoch {
		m.logger.Debug("dropping stale session event", "kind", ev.Kind, "event_epoch", ev.Epoch, "epoch", m.epoch)
		return
	}
	switch ev.Kind {
	case SessionConnected:
		if m.state != Connecting {
			return
		}
		m.clientID = ev.ClientID
		m.logger.Info("session established", "client_id", ev.ClientID, "epoch", m.epoch)
		m.setState(Connected, nil)
	case SessionDisconnected:
		if m.state == Disconnected {
			return
		}
		m.logger.Info("session ended", "err", ev.Err, "epoch", m.epoch)
		m.lastErr = ev.Err
		m.disconnect(ev.Err)
	}
}

func (m *Machine) disconnect(err error) {
	if m.tracker.Abandon() {
		m.logger.Debug("abandoned pending token fetch", "epoch", m.epoch)
	}
	m.session.Disconnect()
	m.clientID = 0
	m.setState(Disconnected, err)
}

func (m *Machine) setState(to State, err error) {
	if to == m.state {
		return
	}
	t := Transition{From: m.state, To: to, Epoch: m.epoch, Err: err}
	m.state = to
	m.metrics.Transition(to.String())
	for _, fn := range m.onTransition {
		fn(t)
	}
	if to == Disconnected {
		for _, fn := range m.onDisconnected {
			fn()
		}
	}
}
