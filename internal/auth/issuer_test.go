package auth

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xthreen/lightyear/internal/ledger"
	"github.com/xthreen/lightyear/internal/logging"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

func startIssuer(t *testing.T, gen *netcode.Generator, grants GrantRecorder, m *metrics.Metrics) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	iss := NewIssuer(gen, grants, m, logging.Discard())
	go func() { done <- iss.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func TestIssuerServesParseableTokens(t *testing.T) {
	gen := testGenerator(t)
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	defer l.Close()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	addr := startIssuer(t, gen, l, m)

	f := testFetcher()
	var clients []uint64
	for i := 0; i < 3; i++ {
		tok, err := f.Fetch(context.Background(), addr)
		require.NoError(t, err)

		p, err := tok.Request().Open(gen.PrivateKey, gen.ProtocolID, time.Now())
		require.NoError(t, err)
		clients = append(clients, p.ClientID)

		grant, err := GrantFromUserData(p.UserData)
		require.NoError(t, err)
		g, err := l.Redeem(context.Background(), grant.String(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, p.ClientID, g.ClientID)
	}

	assert.NotEqual(t, clients[0], clients[1])
	const want = `
# HELP lightyear_auth_tokens_issued_total Connect tokens written to clients.
# TYPE lightyear_auth_tokens_issued_total counter
lightyear_auth_tokens_issued_total 3
`
	assert.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(want), "lightyear_auth_tokens_issued_total") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestIssuerWithoutLedger(t *testing.T) {
	addr := startIssuer(t, testGenerator(t), nil, nil)
	_, err := testFetcher().Fetch(context.Background(), addr)
	assert.NoError(t, err)
}

func TestGrantUserDataRoundTrip(t *testing.T) {
	id := uuid.New()
	var ud [netcode.UserDataBytes]byte
	copy(ud[:], GrantUserData(id))

	got, err := GrantFromUserData(ud)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = GrantFromUserData([netcode.UserDataBytes]byte{})
	assert.Error(t, err)
}
