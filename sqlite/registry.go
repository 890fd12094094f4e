package sqlite

import (
	"sync"

	"github.com/pkg/errors"
	"go.seqlite.dev/core/codecs"
)

// Registry is an explicit, process-wide set of Managers, keyed by canonical
// database path. A Registry is typically created once at application
// startup and injected wherever database access is needed; it guarantees
// that each database has at most one Manager, and thus at most one live
// native connection, at any time.
type Registry struct {
	// Codecs resolves declared column types to value codecs, applied to
	// fetched values by Managers whose Connector sets DetectTypes. If nil,
	// DetectTypes has no effect. Set Codecs before the first Open.
	Codecs *codecs.Registry

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Open returns the Manager of the database at the Connector's path,
// building it on first use. An existing Manager keeps its current
// parameters: the Connector of a later Open is consulted only for its
// path. Use Manager.SetConnector to change parameters of a live Manager.
func (r *Registry) Open(connector Connector) (*Manager, error) {
	if err := connector.normalize(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[connector.Path]; ok {
		return m, nil
	}
	var m = newManager(r, connector)
	r.managers[connector.Path] = m
	return m, nil
}

// Shutdown releases every outstanding reference of every Manager, draining
// and closing each in turn. It is intended for application teardown, after
// which the Registry is empty and may be reused.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	var managers = make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	var firstErr error
	for _, m := range managers {
		for m.Refs() > 0 {
			if err := m.Stop(); err != nil && firstErr == nil {
				firstErr = errors.WithMessagef(err, "stopping manager of %s", m.Database())
			}
		}
		r.evict(m.Database())
	}
	return firstErr
}

// evict drops the Manager keyed under |path|, if any.
func (r *Registry) evict(path string) {
	r.mu.Lock()
	delete(r.managers, path)
	r.mu.Unlock()
}

// rekey moves a Manager from |from| to |to|, failing if |to| is already
// claimed by another Manager: a database path must never have two.
func (r *Registry) rekey(m *Manager, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if other, ok := r.managers[to]; ok && other != m {
		return errors.Errorf("database %s already has a manager", to)
	}
	delete(r.managers, from)
	r.managers[to] = m
	return nil
}
