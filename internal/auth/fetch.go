package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/xthreen/lightyear/internal/netcode"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultReadTimeout = 5 * time.Second
)

// Fetcher retrieves one connect token from an auth endpoint. The endpoint
// writes exactly netcode.ConnectTokenBytes and closes; there is no framing.
type Fetcher struct {
	DialTimeout time.Duration
	// ReadTimeout bounds the wait for the token bytes once connected.
	ReadTimeout time.Duration
	// TrailingGrace is how long to watch for bytes past the token. Zero skips
	// the check.
	TrailingGrace time.Duration
	Logger        *slog.Logger
}

// Fetch dials endpoint and reads one token. It blocks, so callers run it off
// the tick goroutine. Every failure is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (netcode.ConnectToken, error) {
	log := f.logger().With("endpoint", endpoint)

	d := net.Dialer{Timeout: orDefault(f.DialTimeout, defaultDialTimeout)}
	conn, err := d.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return netcode.ConnectToken{}, &FetchError{Kind: Cancelled, Endpoint: endpoint, Err: ctx.Err()}
		}
		return netcode.ConnectToken{}, &FetchError{Kind: ConnectFailed, Endpoint: endpoint, Err: err}
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(orDefault(f.ReadTimeout, defaultReadTimeout))); err != nil {
		return netcode.ConnectToken{}, &FetchError{Kind: ConnectFailed, Endpoint: endpoint, Err: err}
	}
	// Cancellation unblocks a pending read by expiring the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	// One logical read: the token may arrive over several segments, but
	// anything short of the full size is a failure, never a partial token.
	buf := make([]byte, netcode.ConnectTokenBytes)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		if ctx.Err() != nil {
			return netcode.ConnectToken{}, &FetchError{Kind: Cancelled, Endpoint: endpoint, Err: ctx.Err()}
		}
		return netcode.ConnectToken{}, &FetchError{
			Kind:     ProtocolViolation,
			Endpoint: endpoint,
			Err:      fmt.Errorf("read %d of %d token bytes: %w", n, netcode.ConnectTokenBytes, err),
		}
	}
	log.Debug("received token bytes", "bytes", n)

	if err := f.checkTrailing(ctx, conn); err != nil {
		return netcode.ConnectToken{}, &FetchError{Kind: ProtocolViolation, Endpoint: endpoint, Err: err}
	}

	tok, err := netcode.ParseConnectToken(buf)
	if err != nil {
		return netcode.ConnectToken{}, &FetchError{Kind: ProtocolViolation, Endpoint: endpoint, Err: err}
	}
	return tok, nil
}

var errTrailingBytes = errors.New("unexpected bytes after token")

// checkTrailing fails if the server keeps writing past the token. EOF or a
// quiet socket within the grace period both count as a clean end.
func (f *Fetcher) checkTrailing(ctx context.Context, conn net.Conn) error {
	if f.TrailingGrace <= 0 || ctx.Err() != nil {
		return nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(f.TrailingGrace)); err != nil {
		return nil
	}
	var one [1]byte
	if n, _ := conn.Read(one[:]); n > 0 {
		return errTrailingBytes
	}
	return nil
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
