package remote

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/forge/internal/config"
)

// Registry caches connected SSH clients so session creation and the
// HTTP facade share one connection per host. Clients are keyed by
// user@host:port; the directory part of a target is per-workspace.
type Registry struct {
	keyPath string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry using keyPath as the default private
// key for new connections.
func NewRegistry(keyPath string) *Registry {
	return &Registry{keyPath: keyPath, clients: make(map[string]*Client)}
}

func hostKey(t config.SSHTarget) string {
	return fmt.Sprintf("%s@%s:%d", t.User, t.Host, t.Port)
}

// Connect returns the cached client for the target's host, dialing when
// absent.
func (r *Registry) Connect(target config.SSHTarget) (*Client, error) {
	key := hostKey(target)
	r.mu.Lock()
	if c, ok := r.clients[key]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := Dial(target, r.keyPath)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[key]; ok {
		// Lost a dial race; keep the first connection.
		go c.Close()
		return existing, nil
	}
	r.clients[key] = c
	return c, nil
}

// Get returns a cached client without dialing.
func (r *Registry) Get(target config.SSHTarget) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[hostKey(target)]
	return c, ok
}

// Close disconnects every cached client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.clients {
		_ = c.Close()
		delete(r.clients, key)
	}
}
