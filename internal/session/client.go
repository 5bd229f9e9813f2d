package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xthreen/lightyear/internal/connect"
	"github.com/xthreen/lightyear/internal/netcode"
)

const (
	defaultDialTimeout = 3 * time.Second
	minPingInterval    = 100 * time.Millisecond
)

var ErrNoServers = errors.New("connect token lists no servers")

// Client is the connect.Session that carries a token to the session server
// over a websocket. Each Deliver runs one connection on its own goroutine and
// reports back through Events, tagged with the epoch it was delivered with.
type Client struct {
	dialTimeout time.Duration
	logger      *slog.Logger
	events      chan connect.SessionEvent

	mu     sync.Mutex
	cancel context.CancelFunc // stops the active connection
	wg     sync.WaitGroup
}

func NewClient(dialTimeout time.Duration, logger *slog.Logger) *Client {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		dialTimeout: dialTimeout,
		logger:      logger,
		events:      make(chan connect.SessionEvent, 16),
	}
}

func (c *Client) Events() <-chan connect.SessionEvent { return c.events }

// Deliver starts a connection with token, replacing any connection already
// running.
func (c *Client) Deliver(epoch uint64, token netcode.ConnectToken) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.run(ctx, epoch, token)
		if ctx.Err() != nil {
			// Torn down locally; the machine already knows.
			return
		}
		select {
		case c.events <- connect.SessionEvent{Epoch: epoch, Kind: connect.SessionDisconnected, Err: err}:
		case <-ctx.Done():
		}
	}()
}

// Disconnect closes the active connection, if any. It does not wait.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Close disconnects and waits for the connection goroutine to exit.
func (c *Client) Close() {
	c.Disconnect()
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context, epoch uint64, token netcode.ConnectToken) error {
	req, err := token.Request().MarshalBinary()
	if err != nil {
		return err
	}
	addrs := token.Addresses()
	if len(addrs) == 0 {
		return ErrNoServers
	}

	log := c.logger.With("epoch", epoch)
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}

	var conn *websocket.Conn
	var dialErr error
	for _, addr := range addrs {
		u := url.URL{Scheme: "ws", Host: addr.String(), Path: Path}
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		conn, _, dialErr = dialer.DialContext(dialCtx, u.String(), nil)
		cancel()
		if dialErr == nil {
			log.Debug("session server connected", "addr", addr)
			break
		}
		log.Warn("session dial failed", "addr", addr, "err", dialErr)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if conn == nil {
		return fmt.Errorf("dial session server: %w", dialErr)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// No write mutex yet: the ping loop has not started.
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
		return fmt.Errorf("send connection request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(requestTimeout))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("read handshake reply: %w", err)
	}
	switch env.Type {
	case MsgAccepted:
	case MsgRejected:
		var p RejectedPayload
		json.Unmarshal(env.Payload, &p)
		return &RejectedError{Reason: p.Reason}
	default:
		return fmt.Errorf("unexpected handshake reply %q", env.Type)
	}
	var accepted AcceptedPayload
	if err := json.Unmarshal(env.Payload, &accepted); err != nil {
		return fmt.Errorf("decode accepted: %w", err)
	}
	log.Info("session accepted", "session_id", accepted.SessionID, "client_id", accepted.ClientID)

	select {
	case c.events <- connect.SessionEvent{Epoch: epoch, Kind: connect.SessionConnected, ClientID: accepted.ClientID}:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.hold(ctx, conn, time.Duration(accepted.TimeoutSeconds)*time.Second)
}

// hold pings at a third of the timeout and reads until the connection drops.
func (c *Client) hold(ctx context.Context, conn *websocket.Conn, timeout time.Duration) error {
	if timeout <= 0 {
		conn.SetReadDeadline(time.Time{})
	} else {
		conn.SetReadDeadline(time.Now().Add(timeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(timeout))
			return nil
		})
		pingCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go pingLoop(pingCtx, conn, max(timeout/3, minPingInterval))
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// pingLoop is the only writer once hold has started.
func pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
