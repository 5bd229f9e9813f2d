package connect

import (
	"context"

	"github.com/xthreen/lightyear/internal/netcode"
)

// FetchFunc performs one token fetch against endpoint. It should return
// promptly once ctx is cancelled.
type FetchFunc func(ctx context.Context, endpoint string) (netcode.ConnectToken, error)

// Task is the handle to one in-flight fetch. The fetch goroutine writes the
// result once and then closes done; the fields are read only after done is
// observed closed, so the channel is the only synchronization.
type Task struct {
	done   chan struct{}
	token  netcode.ConnectToken
	err    error
	cancel context.CancelFunc
}

func spawn(parent context.Context, endpoint string, fetch FetchFunc) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.token, t.err = fetch(ctx, endpoint)
	}()
	return t
}

// Finished reports, without blocking, whether the fetch has returned.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when the fetch returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the fetch outcome. Only meaningful once Finished is true.
func (t *Task) Result() (netcode.ConnectToken, error) {
	return t.token, t.err
}

// Cancel asks the fetch to stop. The result, if any, is still written to the
// handle; callers that cancel simply stop looking at it.
func (t *Task) Cancel() {
	t.cancel()
}
