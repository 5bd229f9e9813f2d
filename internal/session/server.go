package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/xthreen/lightyear/internal/auth"
	"github.com/xthreen/lightyear/internal/ledger"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

const (
	requestTimeout = 5 * time.Second
	writeTimeout   = 10 * time.Second
)

// Redeemer spends a grant exactly once. *ledger.Ledger satisfies it.
type Redeemer interface {
	Redeem(ctx context.Context, id string, now time.Time) (ledger.Grant, error)
}

// Server accepts connect tokens over a websocket and holds one connection
// per admitted client.
type Server struct {
	protocolID uint64
	key        [netcode.KeyBytes]byte
	public     netip.AddrPort
	grants     Redeemer
	registry   *Registry
	metrics    *metrics.Metrics
	logger     *slog.Logger
	gatherer   prometheus.Gatherer
	started    time.Time
	upgrader   websocket.Upgrader

	// Now is the clock used for expiry checks.
	Now func() time.Time
}

// NewServer builds a session server. grants may be nil, in which case tokens
// are admitted without replay protection.
func NewServer(protocolID uint64, key [netcode.KeyBytes]byte, public netip.AddrPort, grants Redeemer, registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Server{
		protocolID: protocolID,
		key:        key,
		public:     public,
		grants:     grants,
		registry:   registry,
		metrics:    m,
		logger:     logger,
		started:    time.Now(),
		upgrader:   websocket.Upgrader{ReadBufferSize: netcode.ConnectionRequestBytes + 64},
		Now:        time.Now,
	}
}

// SetGatherer enables /metrics. Must be called before SetupRoutes.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(Path, s.handleSession)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(s.gatherer))
	}
}

// ListenAndServe serves the routes on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: requestTimeout}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("session server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("session upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(netcode.ConnectionRequestBytes)

	log := s.logger.With("remote", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		log.Debug("no connection request", "err", err)
		s.metrics.SessionRequest(ReasonMalformed)
		return
	}
	if mt != websocket.BinaryMessage {
		s.reject(conn, log, ReasonMalformed, errors.New("connection request must be binary"))
		return
	}

	priv, reason, err := s.admit(r.Context(), data)
	if err != nil {
		s.reject(conn, log, reason, err)
		return
	}

	entry, err := s.registry.Add(priv.ClientID, r.RemoteAddr, s.Now())
	if err != nil {
		s.reject(conn, log, ReasonDuplicate, err)
		return
	}
	defer s.registry.Remove(entry.ID)

	log = log.With("session_id", entry.ID, "client_id", priv.ClientID)
	accepted := Message{Type: MsgAccepted, Payload: AcceptedPayload{
		SessionID:      entry.ID,
		ClientID:       priv.ClientID,
		TimeoutSeconds: priv.TimeoutSeconds,
	}}
	s.metrics.SessionRequest("accepted")
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	if err := s.write(conn, accepted); err != nil {
		log.Warn("write accepted failed", "err", err)
		return
	}
	log.Info("session accepted")

	err = s.hold(conn, priv.TimeoutSeconds)
	log.Info("session closed", "err", err)
}

// admit validates a raw connection request and spends its grant.
func (s *Server) admit(ctx context.Context, data []byte) (netcode.PrivateData, string, error) {
	req, err := netcode.ParseConnectionRequest(data)
	if err != nil {
		return netcode.PrivateData{}, ReasonMalformed, err
	}
	now := s.Now()
	priv, err := req.Open(s.key, s.protocolID, now)
	if err != nil {
		var te *netcode.TokenError
		if errors.As(err, &te) && te.Code == netcode.ErrCodeExpired {
			return netcode.PrivateData{}, ReasonExpired, err
		}
		return netcode.PrivateData{}, ReasonInvalid, err
	}
	if s.public.IsValid() && !slices.Contains(priv.ServerAddresses, s.public) {
		return netcode.PrivateData{}, ReasonWrongServer, errors.New("token not issued for this server")
	}
	if s.grants == nil {
		return priv, "", nil
	}

	grant, err := auth.GrantFromUserData(priv.UserData)
	if err != nil {
		return netcode.PrivateData{}, ReasonUnknown, err
	}
	g, err := s.grants.Redeem(ctx, grant.String(), now)
	switch {
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		return netcode.PrivateData{}, ReasonReplayed, err
	case errors.Is(err, ledger.ErrExpired):
		return netcode.PrivateData{}, ReasonExpired, err
	case errors.Is(err, ledger.ErrUnknownGrant):
		return netcode.PrivateData{}, ReasonUnknown, err
	case err != nil:
		return netcode.PrivateData{}, ReasonInternal, err
	}
	if g.ClientID != priv.ClientID {
		return netcode.PrivateData{}, ReasonInvalid, errors.New("grant issued to a different client")
	}
	return priv, "", nil
}

func (s *Server) reject(conn *websocket.Conn, log *slog.Logger, reason string, err error) {
	s.metrics.SessionRequest(reason)
	log.Warn("session rejected", "reason", reason, "err", err)
	if werr := s.write(conn, Message{Type: MsgRejected, Payload: RejectedPayload{Reason: reason}}); werr != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func (s *Server) write(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// hold keeps the connection open until the client goes away or stays silent
// for longer than the token timeout. Pings from the client extend it.
func (s *Server) hold(conn *websocket.Conn, timeoutSeconds int32) error {
	timeout := time.Duration(timeoutSeconds) * time.Second
	extend := func() {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
	}
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		extend()
	}
}

type healthResponse struct {
	Status     string  `json:"status"`
	Sessions   int     `json:"sessions"`
	UptimeSecs int64   `json:"uptimeSeconds"`
	RSSBytes   uint64  `json:"rssBytes,omitempty"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	Threads    int32   `json:"threads,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Sessions:   s.registry.Count(),
		UptimeSecs: int64(time.Since(s.started).Seconds()),
	}
	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			resp.CPUPercent = cpu
		}
		if n, err := p.NumThreadsWithContext(r.Context()); err == nil {
			resp.Threads = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
