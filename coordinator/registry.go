package coordinator

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/dair/core"
)

// Conn is the outbound half of a client connection. Send must not block:
// it queues the envelope or fails.
type Conn interface {
	Send(env Envelope) error
	Close() error
}

type registryEntry struct {
	session core.Session
	conn    Conn
}

// Registry tracks live sessions and which wallet each one signed up as.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*registryEntry
	hooks    []func(core.Session)
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*registryEntry),
		now:      time.Now,
	}
}

// OnRemove installs a hook invoked synchronously after a session is removed.
func (r *Registry) OnRemove(fn func(core.Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Admit registers a new unauthenticated session for conn.
func (r *Registry) Admit(conn Conn) core.SessionID {
	now := r.now()
	id := core.SessionID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &registryEntry{
		session: core.Session{ID: id, CreatedAt: now, LastActive: now},
		conn:    conn,
	}
	return id
}

// Authenticate binds identity to the session. It is a one-way transition.
func (r *Registry) Authenticate(id core.SessionID, identity core.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrSessionNotFound)
	}
	if e.session.Authenticated() {
		return fmt.Errorf("session %s is %s: %w", id, e.session.Identity, core.ErrAlreadyAuthenticated)
	}
	e.session.Identity = identity
	e.session.LastActive = r.now()
	return nil
}

// Remove destroys the session, closes its connection and runs the removal
// hooks before returning. It reports false for an unknown session.
func (r *Registry) Remove(id core.SessionID) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	if !ok {
		return false
	}
	_ = e.conn.Close()
	for _, hook := range hooks {
		hook(e.session)
	}
	return true
}

// ResolveByIdentity returns the most recently active live session
// authenticated as identity.
func (r *Registry) ResolveByIdentity(identity core.Identity) (core.SessionID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best  *registryEntry
		found bool
	)
	for _, e := range r.sessions {
		if e.session.Identity != identity {
			continue
		}
		if !found || e.session.LastActive.After(best.session.LastActive) {
			best, found = e, true
		}
	}
	if !found {
		return "", fmt.Errorf("identity %s: %w", identity, core.ErrNotFound)
	}
	return best.session.ID, nil
}

// Touch records activity on the session.
func (r *Registry) Touch(id core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.session.LastActive = r.now()
	}
}

func (r *Registry) Get(id core.SessionID) (core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return core.Session{}, false
	}
	return e.session, true
}

// Authenticated returns a snapshot of the signed-up sessions ordered by id.
func (r *Registry) Authenticated() []core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		if e.session.Authenticated() {
			out = append(out, e.session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Send queues env on the session's connection.
func (r *Registry) Send(id core.SessionID, env Envelope) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrSessionNotFound)
	}
	return e.conn.Send(env)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
