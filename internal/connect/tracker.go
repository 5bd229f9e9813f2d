package connect

import (
	"context"
	"errors"

	"github.com/xthreen/lightyear/internal/netcode"
)

// ErrFetchInFlight is returned by StartFetch when the slot is occupied.
var ErrFetchInFlight = errors.New("token fetch already in flight")

// PollStatus is the outcome of one Tracker.Poll.
type PollStatus int

const (
	PollIdle PollStatus = iota
	PollPending
	PollReady
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollPending:
		return "pending"
	case PollReady:
		return "ready"
	case PollFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type PollResult struct {
	Status PollStatus
	Token  netcode.ConnectToken
	Err    error
}

// Tracker holds at most one pending fetch against a fixed auth endpoint. It
// is not safe for concurrent use; the tick goroutine owns it.
type Tracker struct {
	endpoint string
	fetch    FetchFunc
	task     *Task
}

func NewTracker(endpoint string, fetch FetchFunc) *Tracker {
	return &Tracker{endpoint: endpoint, fetch: fetch}
}

// Endpoint is the auth endpoint every fetch targets.
func (t *Tracker) Endpoint() string { return t.endpoint }

// Pending reports whether a fetch occupies the slot.
func (t *Tracker) Pending() bool { return t.task != nil }

// StartFetch spawns a fetch into the empty slot. It never spawns a second
// fetch: an occupied slot yields ErrFetchInFlight.
func (t *Tracker) StartFetch(ctx context.Context) error {
	if t.task != nil {
		return ErrFetchInFlight
	}
	t.task = spawn(ctx, t.endpoint, t.fetch)
	return nil
}

// Poll checks the slot once without blocking. A finished fetch is removed from
// the slot and its token or error returned; the slot is then free.
func (t *Tracker) Poll() PollResult {
	if t.task == nil {
		return PollResult{Status: PollIdle}
	}
	if !t.task.Finished() {
		return PollResult{Status: PollPending}
	}

	task := t.task
	t.task = nil
	tok, err := task.Result()
	if err != nil {
		return PollResult{Status: PollFailed, Err: err}
	}
	return PollResult{Status: PollReady, Token: tok}
}

// Abandon cancels and forgets the pending fetch. Its eventual result is never
// observed. Reports whether there was anything to abandon.
func (t *Tracker) Abandon() bool {
	if t.task == nil {
		return false
	}
	t.task.Cancel()
	t.task = nil
	return true
}
