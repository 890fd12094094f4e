package table

import (
	"context"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
)

// Generator produces a value for a column which an inserted record omits.
type Generator func(ctx context.Context) (interface{}, error)

// Generators is a named registry of Generator functions. Columns reference
// generators by name and the binding resolves at each use, so a table
// definition read back from the database re-binds generators registered
// under the same names. Generators is safe for concurrent use.
type Generators struct {
	mu     sync.RWMutex
	byName map[string]Generator
}

// NewGenerators returns an empty Generators.
func NewGenerators() *Generators {
	return &Generators{byName: make(map[string]Generator)}
}

// Register registers |gen| under |name|, displacing a prior registration.
// Names are case-insensitive.
func (g *Generators) Register(name string, gen Generator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName[strings.ToLower(name)] = gen
}

// Deregister removes the generator registered under |name|.
func (g *Generators) Deregister(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byName, strings.ToLower(name))
}

// Lookup returns the generator registered under |name|.
func (g *Generators) Lookup(name string) (Generator, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var gen, ok = g.byName[strings.ToLower(name)]
	return gen, ok
}

// DefaultGenerators returns a Generators holding the builtin generators:
//
//   - "uuid": a random RFC 4122 UUID in canonical text form.
//   - "petname": a readable adjective-animal pair, such as "casual-moose".
//   - "now": the current UTC time.
func DefaultGenerators() *Generators {
	var g = NewGenerators()

	g.Register("uuid", func(context.Context) (interface{}, error) {
		return uuid.NewString(), nil
	})
	g.Register("petname", func(context.Context) (interface{}, error) {
		return petname.Generate(2, "-"), nil
	})
	g.Register("now", func(context.Context) (interface{}, error) {
		return time.Now().UTC(), nil
	})
	return g
}
