package connect

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/logging"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

type delivery struct {
	epoch uint64
	token netcode.ConnectToken
}

type fakeSession struct {
	delivered   []delivery
	disconnects int
	events      chan SessionEvent
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan SessionEvent, 8)}
}

func (s *fakeSession) Deliver(epoch uint64, token netcode.ConnectToken) {
	s.delivered = append(s.delivered, delivery{epoch, token})
}

func (s *fakeSession) Disconnect() { s.disconnects++ }

func (s *fakeSession) Events() <-chan SessionEvent { return s.events }

func newTestMachine(fetch FetchFunc) (*Machine, *fakeSession) {
	s := newFakeSession()
	m := NewMachine(context.Background(), NewTracker("auth", fetch), s, logging.Discard(), nil)
	return m, s
}

// tickUntil runs the loop until cond holds, as the host would.
func tickUntil(t *testing.T, m *Machine, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, state %s", m.State())
		}
		m.Tick()
		time.Sleep(time.Millisecond)
	}
}

func TestConnectDeliversTokenOnce(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	require.True(t, m.OnConnectClicked())
	assert.Equal(t, Connecting, m.State())
	assert.Equal(t, uint64(1), m.Epoch())
	assert.True(t, m.Pending())

	g.release(t, 0, fetchResult{tok: testToken(9)})
	tickUntil(t, m, func() bool { return len(s.delivered) == 1 })
	assert.Equal(t, uint64(1), s.delivered[0].epoch)
	assert.Equal(t, uint64(9), s.delivered[0].token.ProtocolID)
	assert.Equal(t, Connecting, m.State())

	s.events <- SessionEvent{Epoch: 1, Kind: SessionConnected, ClientID: 42}
	m.Tick()
	assert.Equal(t, Connected, m.State())
	assert.Equal(t, uint64(42), m.ClientID())

	for i := 0; i < 5; i++ {
		m.Tick()
	}
	assert.Len(t, s.delivered, 1)
	assert.Equal(t, 1, g.calls())
}

func TestConnectIgnoredWhileConnecting(t *testing.T) {
	g := &gatedFetch{}
	m, _ := newTestMachine(g.fetch)

	require.True(t, m.OnConnectClicked())
	assert.False(t, m.OnConnectClicked())
	assert.False(t, m.OnConnectClicked())
	assert.Equal(t, uint64(1), m.Epoch())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, g.calls())
}

func TestTickWhileDisconnectedIsQuiet(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	var transitions int
	m.OnTransition(func(Transition) { transitions++ })
	for i := 0; i < 10; i++ {
		m.Tick()
	}
	assert.Equal(t, Disconnected, m.State())
	assert.Zero(t, transitions)
	assert.Zero(t, g.calls())
	assert.Empty(t, s.delivered)
	assert.False(t, m.OnDisconnectClicked())
}

func TestFetchFailureReturnsToDisconnected(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	var got []Transition
	m.OnTransition(func(tr Transition) { got = append(got, tr) })
	disconnected := 0
	m.OnDisconnected(func() { disconnected++ })

	require.True(t, m.OnConnectClicked())
	failure := &auth.FetchError{Kind: auth.ProtocolViolation, Endpoint: "auth", Err: errors.New("short read")}
	g.release(t, 0, fetchResult{err: failure})

	tickUntil(t, m, func() bool { return m.State() == Disconnected })
	assert.Empty(t, s.delivered)
	assert.ErrorIs(t, m.LastError(), auth.ErrProtocolViolation)
	assert.Equal(t, 1, disconnected)
	require.Len(t, got, 2)
	assert.Equal(t, Transition{From: Disconnected, To: Connecting, Epoch: 1}, got[0])
	assert.Equal(t, Connecting, got[1].From)
	assert.Equal(t, Disconnected, got[1].To)
	assert.Error(t, got[1].Err)

	// A new attempt starts fresh.
	require.True(t, m.OnConnectClicked())
	assert.Nil(t, m.LastError())
	assert.Equal(t, uint64(2), m.Epoch())
	g.release(t, 1, fetchResult{tok: testToken(1)})
	tickUntil(t, m, func() bool { return len(s.delivered) == 1 })
	assert.Equal(t, uint64(2), s.delivered[0].epoch)
}

func TestDisconnectDuringFetchDiscardsLateToken(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	disconnected := 0
	m.OnDisconnected(func() { disconnected++ })

	require.True(t, m.OnConnectClicked())
	require.True(t, m.OnDisconnectClicked())
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.Pending())
	assert.Equal(t, 1, disconnected)
	assert.Equal(t, 1, s.disconnects)

	// The abandoned fetch completes anyway.
	g.release(t, 0, fetchResult{tok: testToken(1)})
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		m.Tick()
	}
	assert.Empty(t, s.delivered)
	assert.Equal(t, Disconnected, m.State())
}

func TestConnectDisconnectConnect(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	require.True(t, m.OnConnectClicked())
	require.True(t, m.OnDisconnectClicked())
	require.True(t, m.OnConnectClicked())
	assert.Equal(t, Connecting, m.State())
	assert.Equal(t, uint64(2), m.Epoch())

	require.Eventually(t, func() bool { return g.calls() == 2 }, time.Second, time.Millisecond)

	// The second fetch wins; the first one's token shows up later and is
	// never delivered.
	g.release(t, 1, fetchResult{tok: testToken(2)})
	tickUntil(t, m, func() bool { return len(s.delivered) == 1 })
	g.release(t, 0, fetchResult{tok: testToken(1)})
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 5; i++ {
		m.Tick()
	}

	require.Len(t, s.delivered, 1)
	assert.Equal(t, uint64(2), s.delivered[0].token.ProtocolID)
	assert.Equal(t, uint64(2), s.delivered[0].epoch)
}

func TestStaleSessionEventsDropped(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	require.True(t, m.OnConnectClicked())
	g.release(t, 0, fetchResult{tok: testToken(1)})
	tickUntil(t, m, func() bool { return len(s.delivered) == 1 })
	require.True(t, m.OnDisconnectClicked())
	require.True(t, m.OnConnectClicked())

	// Late reports from attempt 1 must not touch attempt 2.
	s.events <- SessionEvent{Epoch: 1, Kind: SessionConnected, ClientID: 5}
	s.events <- SessionEvent{Epoch: 1, Kind: SessionDisconnected}
	m.Tick()
	assert.Equal(t, Connecting, m.State())
	assert.Zero(t, m.ClientID())
}

func TestSessionDropReturnsToDisconnected(t *testing.T) {
	g := &gatedFetch{}
	m, s := newTestMachine(g.fetch)

	disconnected := 0
	m.OnDisconnected(func() { disconnected++ })

	require.True(t, m.OnConnectClicked())
	g.release(t, 0, fetchResult{tok: testToken(1)})
	tickUntil(t, m, func() bool { return len(s.delivered) == 1 })
	s.events <- SessionEvent{Epoch: 1, Kind: SessionConnected, ClientID: 5}
	m.Tick()
	require.Equal(t, Connected, m.State())

	lost := errors.New("connection reset")
	s.events <- SessionEvent{Epoch: 1, Kind: SessionDisconnected, Err: lost}
	m.Tick()
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.LastError(), lost)
	assert.Zero(t, m.ClientID())
	assert.Equal(t, 1, disconnected)
}

func TestToggle(t *testing.T) {
	g := &gatedFetch{}
	m, _ := newTestMachine(g.fetch)

	m.Toggle()
	assert.Equal(t, Connecting, m.State())
	m.Toggle()
	assert.Equal(t, Disconnected, m.State())
}

func TestMachineRecordsMetrics(t *testing.T) {
	g := &gatedFetch{}
	s := newFakeSession()
	reg := prometheus.NewRegistry()
	m := NewMachine(context.Background(), NewTracker("auth", g.fetch), s, logging.Discard(), metrics.New(reg))

	require.True(t, m.OnConnectClicked())
	g.release(t, 0, fetchResult{err: &auth.FetchError{Kind: auth.ConnectFailed}})
	tickUntil(t, m, func() bool { return m.State() == Disconnected })

	const want = `
# HELP lightyear_client_token_fetches_total Token fetches by outcome.
# TYPE lightyear_client_token_fetches_total counter
lightyear_client_token_fetches_total{outcome="connect_failed"} 1
# HELP lightyear_client_state_transitions_total Connection state transitions by target state.
# TYPE lightyear_client_state_transitions_total counter
lightyear_client_state_transitions_total{to="connecting"} 1
lightyear_client_state_transitions_total{to="disconnected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want),
		"lightyear_client_token_fetches_total", "lightyear_client_state_transitions_total"))
}

// A real fetch against an auth endpoint that hangs up without a token.
func TestConnectAgainstClosingEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	f := &auth.Fetcher{
		DialTimeout:   time.Second,
		ReadTimeout:   time.Second,
		TrailingGrace: 50 * time.Millisecond,
		Logger:        logging.Discard(),
	}
	s := newFakeSession()
	m := NewMachine(context.Background(), NewTracker(ln.Addr().String(), f.Fetch), s, logging.Discard(), nil)

	require.True(t, m.OnConnectClicked())
	tickUntil(t, m, func() bool { return m.State() == Disconnected })
	assert.Empty(t, s.delivered)
	assert.Equal(t, auth.ProtocolViolation, auth.KindOf(m.LastError()))
}
