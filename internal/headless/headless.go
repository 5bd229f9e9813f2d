// Package headless drives a connect.Machine from a plain ticker, for running
// the client without a terminal UI.
package headless

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xthreen/lightyear/internal/connect"
)

// ErrDisconnected is returned by Run when ExitOnDisconnect is set and the
// attempt ends without an underlying error.
var ErrDisconnected = errors.New("disconnected")

type Runner struct {
	Machine  *connect.Machine
	Interval time.Duration
	Logger   *slog.Logger

	// ExitOnDisconnect makes Run return once the machine falls back to
	// Disconnected after connecting was started.
	ExitOnDisconnect bool
}

// Run clicks connect once and then ticks until ctx is done. On return the
// machine is Disconnected.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	dropped := make(chan struct{}, 1)
	r.Machine.OnTransition(func(t connect.Transition) {
		logger.Info("state change", "from", t.From, "to", t.To, "epoch", t.Epoch, "err", t.Err)
	})
	r.Machine.OnDisconnected(func() {
		select {
		case dropped <- struct{}{}:
		default:
		}
	})

	r.Machine.OnConnectClicked()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Machine.OnDisconnectClicked()
			return nil
		case <-ticker.C:
			r.Machine.Tick()
		}

		if !r.ExitOnDisconnect {
			continue
		}
		select {
		case <-dropped:
			if err := r.Machine.LastError(); err != nil {
				return err
			}
			return ErrDisconnected
		default:
		}
	}
}
