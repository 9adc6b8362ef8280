package service

import (
	"sync"

	"zapbridge/internal/model"
)

// Registry is the process-wide tenant→session map. At most one session exists
// per tenant at any instant: Put tears down any previous entry before the new
// one becomes visible. Only the owning tenant's event callbacks mutate an
// entry; the registry itself only guards the map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*model.Session)}
}

func (r *Registry) Get(tenantID string) (*model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Put installs a session for the tenant. If an entry already exists it is
// removed first and handed to teardown, which runs before the swap so two
// sockets never race on the same credentials.
func (r *Registry) Put(sess *model.Session, teardown func(old *model.Session)) {
	r.mu.Lock()
	old := r.sessions[sess.TenantID]
	delete(r.sessions, sess.TenantID)
	r.mu.Unlock()

	if old != nil && old != sess && teardown != nil {
		teardown(old)
	}

	r.mu.Lock()
	r.sessions[sess.TenantID] = sess
	r.mu.Unlock()
}

// Delete removes and returns the tenant's session, if any.
func (r *Registry) Delete(tenantID string) (*model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	if ok {
		delete(r.sessions, tenantID)
	}
	return s, ok
}

// Snapshot returns a copy of the map. The global-block teardown iterates this
// copy so mutating the registry mid-iteration is safe.
func (r *Registry) Snapshot() map[string]*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*model.Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
