package session

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/connect"
	"github.com/xthreen/lightyear/internal/ledger"
	"github.com/xthreen/lightyear/internal/logging"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

const testProtocol = 0x1122334455667788

type harness struct {
	srv    *Server
	ledger *ledger.Ledger
	gen    *netcode.Generator
	addr   netip.AddrPort
	reg    *prometheus.Registry
}

// newHarness starts a session server on loopback with a fresh key and ledger.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithClock(t, time.Now)
}

func newHarnessWithClock(t *testing.T, now func() time.Time) *harness {
	t.Helper()
	key, err := netcode.GenerateKey()
	require.NoError(t, err)
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := netip.MustParseAddrPort(ln.Addr().String())

	reg := prometheus.NewRegistry()
	srv := NewServer(testProtocol, key, addr, l, nil, metrics.New(reg), logging.Discard())
	srv.SetGatherer(reg)
	srv.Now = now
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	hs := httptest.NewUnstartedServer(mux)
	hs.Listener.Close()
	hs.Listener = ln
	hs.Start()
	t.Cleanup(hs.Close)

	return &harness{
		srv:    srv,
		ledger: l,
		addr:   addr,
		reg:    reg,
		gen: &netcode.Generator{
			ProtocolID:      testProtocol,
			PrivateKey:      key,
			ServerAddresses: []netip.AddrPort{addr},
			TTL:             30 * time.Second,
			TimeoutSeconds:  5,
		},
	}
}

// issue mints a token and records its grant, as the auth service would.
func (h *harness) issue(t *testing.T, clientID uint64) netcode.ConnectToken {
	t.Helper()
	id := uuid.New()
	tok, err := h.gen.Generate(clientID, auth.GrantUserData(id))
	require.NoError(t, err)
	require.NoError(t, h.ledger.Issue(context.Background(), ledger.Grant{
		ID:        id.String(),
		ClientID:  clientID,
		IssuedAt:  time.Unix(int64(tok.CreateTimestamp), 0),
		ExpiresAt: time.Unix(int64(tok.ExpireTimestamp), 0),
	}))
	return tok
}

func nextEvent(t *testing.T, c *Client) connect.SessionEvent {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no session event")
		return connect.SessionEvent{}
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient(time.Second, logging.Discard())
	t.Cleanup(c.Close)
	return c
}

func TestSessionAccepted(t *testing.T) {
	h := newHarness(t)
	c := newTestClient(t)

	c.Deliver(1, h.issue(t, 42))
	ev := nextEvent(t, c)
	require.Equal(t, connect.SessionConnected, ev.Kind, "err: %v", ev.Err)
	assert.Equal(t, uint64(1), ev.Epoch)
	assert.Equal(t, uint64(42), ev.ClientID)

	require.Eventually(t, func() bool { return h.srv.Registry().Count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(42), h.srv.Registry().All()[0].ClientID)

	c.Disconnect()
	assert.Eventually(t, func() bool { return h.srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionReplayRejected(t *testing.T) {
	h := newHarness(t)
	tok := h.issue(t, 42)

	first := newTestClient(t)
	first.Deliver(1, tok)
	require.Equal(t, connect.SessionConnected, nextEvent(t, first).Kind)

	second := newTestClient(t)
	second.Deliver(1, tok)
	ev := nextEvent(t, second)
	require.Equal(t, connect.SessionDisconnected, ev.Kind)
	var rej *RejectedError
	require.ErrorAs(t, ev.Err, &rej)
	assert.Equal(t, ReasonReplayed, rej.Reason)
}

func TestSessionRejections(t *testing.T) {
	h := newHarness(t)

	otherKey, err := netcode.GenerateKey()
	require.NoError(t, err)
	wrongKey := *h.gen
	wrongKey.PrivateKey = otherKey

	// Sealed for another server, but pointing the client at this one.
	foreign, err := (&netcode.Generator{
		ProtocolID:      testProtocol,
		PrivateKey:      h.gen.PrivateKey,
		ServerAddresses: []netip.AddrPort{netip.MustParseAddrPort("10.0.0.1:5000")},
		TTL:             30 * time.Second,
		TimeoutSeconds:  5,
	}).Generate(9, nil)
	require.NoError(t, err)
	foreign.ServerAddresses = []netip.AddrPort{h.addr}

	unknownGrant, err := h.gen.Generate(9, auth.GrantUserData(uuid.New()))
	require.NoError(t, err)

	noGrant, err := h.gen.Generate(9, nil)
	require.NoError(t, err)

	badKeyTok, err := wrongKey.Generate(9, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		tok    netcode.ConnectToken
		reason string
	}{
		{"wrong key", badKeyTok, ReasonInvalid},
		{"other server", foreign, ReasonWrongServer},
		{"unknown grant", unknownGrant, ReasonUnknown},
		{"no grant", noGrant, ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			c.Deliver(3, tt.tok)
			ev := nextEvent(t, c)
			require.Equal(t, connect.SessionDisconnected, ev.Kind)
			assert.Equal(t, uint64(3), ev.Epoch)
			var rej *RejectedError
			require.ErrorAs(t, ev.Err, &rej)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
	assert.Zero(t, h.srv.Registry().Count())
}

func TestSessionExpiredToken(t *testing.T) {
	h := newHarnessWithClock(t, func() time.Time { return time.Now().Add(time.Hour) })
	tok := h.issue(t, 5)

	c := newTestClient(t)
	c.Deliver(1, tok)
	ev := nextEvent(t, c)
	require.Equal(t, connect.SessionDisconnected, ev.Kind)
	var rej *RejectedError
	require.ErrorAs(t, ev.Err, &rej)
	assert.Equal(t, ReasonExpired, rej.Reason)
}

func TestClientNoServers(t *testing.T) {
	c := newTestClient(t)
	c.Deliver(4, netcode.ConnectToken{})
	ev := nextEvent(t, c)
	assert.Equal(t, connect.SessionDisconnected, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrNoServers)
}

func TestClientDisconnectIsSilent(t *testing.T) {
	h := newHarness(t)
	c := newTestClient(t)

	c.Deliver(1, h.issue(t, 8))
	require.Equal(t, connect.SessionConnected, nextEvent(t, c).Kind)
	c.Close()

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event after local disconnect: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	h := newHarness(t)
	base := "http://" + h.addr.String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Sessions)

	c := newTestClient(t)
	c.Deliver(1, h.issue(t, 11))
	require.Equal(t, connect.SessionConnected, nextEvent(t, c).Kind)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lightyear_session_requests_total{result="accepted"} 1`)
}

// The whole path: auth service, fetch, state machine, session server.
func TestMachineConnectsThroughRealServices(t *testing.T) {
	h := newHarness(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	issuer := auth.NewIssuer(h.gen, h.ledger, nil, logging.Discard())
	done := make(chan error, 1)
	go func() { done <- issuer.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f := &auth.Fetcher{
		DialTimeout:   time.Second,
		ReadTimeout:   time.Second,
		TrailingGrace: 50 * time.Millisecond,
		Logger:        logging.Discard(),
	}
	client := newTestClient(t)
	m := connect.NewMachine(context.Background(), connect.NewTracker(ln.Addr().String(), f.Fetch), client, logging.Discard(), nil)

	var cleared bool
	m.OnDisconnected(func() { cleared = true })

	require.True(t, m.OnConnectClicked())
	deadline := time.Now().Add(3 * time.Second)
	for m.State() != connect.Connected {
		require.True(t, time.Now().Before(deadline), "stuck in %s: %v", m.State(), m.LastError())
		m.Tick()
		time.Sleep(5 * time.Millisecond)
	}
	assert.NotZero(t, m.ClientID())
	assert.Eventually(t, func() bool { return h.srv.Registry().Count() == 1 }, time.Second, 10*time.Millisecond)

	require.True(t, m.OnDisconnectClicked())
	assert.True(t, cleared)
	assert.Eventually(t, func() bool { return h.srv.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
