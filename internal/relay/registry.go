package relay

import (
	"sort"
	"sync"
	"sync/atomic"

	"ArbRelay/internal/domain/models"
	"ArbRelay/internal/domain/repository"
)

// Registry maps each user to at most one live agent link. A newer registration for the
// same user supersedes the older one.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Link
	users  []string // sorted, for deterministic round robin
	next   atomic.Uint64

	metrics repository.Metrics
}

func NewRegistry(m repository.Metrics) *Registry {
	return &Registry{byUser: make(map[string]Link), metrics: m}
}

// Register installs link and returns the link it replaced, if any. The caller closes it.
func (r *Registry) Register(link Link) Link {
	r.mu.Lock()
	prev := r.byUser[link.UserID()]
	r.byUser[link.UserID()] = link
	if prev == nil {
		r.insertUserLocked(link.UserID())
	}
	n := len(r.byUser)
	r.mu.Unlock()

	r.metrics.SetConnectedAgents(n)
	return prev
}

// Unregister removes link only if it is still the user's current link, so a superseded
// connection closing late cannot evict its replacement.
func (r *Registry) Unregister(link Link) bool {
	r.mu.Lock()
	cur, ok := r.byUser[link.UserID()]
	if !ok || cur.ID() != link.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, link.UserID())
	r.removeUserLocked(link.UserID())
	n := len(r.byUser)
	r.mu.Unlock()

	r.metrics.SetConnectedAgents(n)
	return true
}

func (r *Registry) Lookup(userID string) (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byUser[userID]
	return l, ok
}

// Any returns some live link, rotating across users on successive calls.
func (r *Registry) Any() (Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.users) == 0 {
		return nil, false
	}
	i := r.next.Add(1) - 1
	return r.byUser[r.users[i%uint64(len(r.users))]], true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) Registrations() []models.AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.AgentRegistration, 0, len(r.users))
	for _, u := range r.users {
		l := r.byUser[u]
		out = append(out, models.AgentRegistration{
			UserID:       u,
			ConnID:       l.ID(),
			RemoteAddr:   l.RemoteAddr(),
			RegisteredAt: l.RegisteredAt(),
			LastSeen:     l.LastSeen(),
		})
	}
	return out
}

func (r *Registry) insertUserLocked(u string) {
	i := sort.SearchStrings(r.users, u)
	r.users = append(r.users, "")
	copy(r.users[i+1:], r.users[i:])
	r.users[i] = u
}

func (r *Registry) removeUserLocked(u string) {
	i := sort.SearchStrings(r.users, u)
	if i < len(r.users) && r.users[i] == u {
		r.users = append(r.users[:i], r.users[i+1:]...)
	}
}
