package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xthreen/lightyear/internal/ledger"
	"github.com/xthreen/lightyear/internal/metrics"
	"github.com/xthreen/lightyear/internal/netcode"
)

const issueWriteTimeout = 5 * time.Second

// GrantRecorder persists issued grants so the session server can enforce
// single use.
type GrantRecorder interface {
	Issue(ctx context.Context, g ledger.Grant) error
}

// Issuer is the auth endpoint: every accepted TCP connection receives one
// freshly minted token and is closed.
type Issuer struct {
	gen     *netcode.Generator
	grants  GrantRecorder
	metrics *metrics.Metrics
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewIssuer wires an issuer. grants and m may be nil.
func NewIssuer(gen *netcode.Generator, grants GrantRecorder, m *metrics.Metrics, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		gen:     gen,
		grants:  grants,
		metrics: m,
		logger:  logger.With("component", "auth"),
	}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Issuer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("auth listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then waits for in-flight
// connections to finish.
func (s *Issuer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("auth listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("auth accept error", "err", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Issuer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	raw, grant, err := s.mint(ctx)
	if err != nil {
		s.metrics.IssueError()
		s.logger.Error("mint token", "remote", remote, "err", err)
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(issueWriteTimeout))
	if _, err := conn.Write(raw); err != nil {
		s.metrics.IssueError()
		s.logger.Warn("write token", "remote", remote, "err", err)
		return
	}
	s.metrics.TokenIssued()
	s.logger.Info("issued token", "remote", remote, "client_id", grant.ClientID, "grant", grant.ID)
}

// mint creates a token for a new client id and records its grant.
func (s *Issuer) mint(ctx context.Context) ([]byte, ledger.Grant, error) {
	clientID, err := randomClientID()
	if err != nil {
		return nil, ledger.Grant{}, err
	}
	grantID := uuid.New()

	tok, err := s.gen.Generate(clientID, GrantUserData(grantID))
	if err != nil {
		return nil, ledger.Grant{}, fmt.Errorf("generate: %w", err)
	}
	raw, err := tok.MarshalBinary()
	if err != nil {
		return nil, ledger.Grant{}, fmt.Errorf("marshal: %w", err)
	}

	g := ledger.Grant{
		ID:        grantID.String(),
		ClientID:  clientID,
		IssuedAt:  time.Unix(int64(tok.CreateTimestamp), 0),
		ExpiresAt: time.Unix(int64(tok.ExpireTimestamp), 0),
	}
	if s.grants != nil {
		if err := s.grants.Issue(ctx, g); err != nil {
			return nil, ledger.Grant{}, fmt.Errorf("record grant: %w", err)
		}
	}
	return raw, g, nil
}

func randomClientID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("client id: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
