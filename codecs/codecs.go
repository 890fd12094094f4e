// Package codecs converts column values between their stored database
// representation and richer in-memory forms, keyed by declared column
// type. SQLite stores only blobs, text, integers, reals, and NULL; a Codec
// bound to a declared type such as JSON or UUID makes columns of that type
// round-trip richer values transparently.
package codecs

import (
	"database/sql/driver"
	"strings"
	"sync"
)

// Codec converts values of one declared column type. Load and Dump are
// inverses: a value dumped, stored, and fetched must load back to an
// equivalent value.
type Codec interface {
	// Load converts |stored|, a value as fetched by the driver, into its
	// in-memory form.
	Load(stored interface{}) (interface{}, error)
	// Dump converts |value| into a form the driver can bind and store.
	Dump(value interface{}) (driver.Value, error)
}

// Func adapts a pair of conversion functions into a Codec.
type Func struct {
	LoadFunc func(interface{}) (interface{}, error)
	DumpFunc func(interface{}) (driver.Value, error)
}

// Load invokes LoadFunc.
func (f Func) Load(stored interface{}) (interface{}, error) { return f.LoadFunc(stored) }

// Dump invokes DumpFunc.
func (f Func) Dump(value interface{}) (driver.Value, error) { return f.DumpFunc(value) }

// Registry maps declared column typenames to Codecs. Lookups are
// case-insensitive, mirroring SQLite's treatment of type declarations.
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Codec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Codec)}
}

// Register binds |codec| to each of |typenames|, replacing prior bindings.
func (r *Registry) Register(codec Codec, typenames ...string) {
	r.mu.Lock()
	for _, n := range typenames {
		r.byName[strings.ToUpper(n)] = codec
	}
	r.mu.Unlock()
}

// Deregister removes the bindings of each of |typenames|.
func (r *Registry) Deregister(typenames ...string) {
	r.mu.Lock()
	for _, n := range typenames {
		delete(r.byName, strings.ToUpper(n))
	}
	r.mu.Unlock()
}

// Lookup returns the Codec bound to |typename|, if any.
func (r *Registry) Lookup(typename string) (Codec, bool) {
	r.mu.RLock()
	var c, ok = r.byName[strings.ToUpper(typename)]
	r.mu.RUnlock()
	return c, ok
}
