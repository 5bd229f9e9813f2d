package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrDuplicateClient = errors.New("client already connected")

// Entry is one live session.
type Entry struct {
	ID          string
	ClientID    uint64
	RemoteAddr  string
	ConnectedAt time.Time
}

// Registry tracks live sessions by session id, with at most one session per
// client id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	clients  map[uint64]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Entry),
		clients:  make(map[uint64]string),
	}
}

// Add registers a session for clientID and returns it with a fresh ULID.
func (r *Registry) Add(clientID uint64, remoteAddr string, now time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[clientID]; ok {
		return Entry{}, ErrDuplicateClient
	}
	e := &Entry{
		ID:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		ClientID:    clientID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: now,
	}
	r.sessions[e.ID] = e
	r.clients[clientID] = e.ID
	return *e, nil
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// All returns a copy of every live session, oldest first.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		result = append(result, *e)
	}
	// ULIDs sort by creation time.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		delete(r.clients, e.ClientID)
		delete(r.sessions, id)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
