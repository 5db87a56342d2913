package directory

import (
	"fmt"
	"sync"

	"github.com/ReportDeck/reportdeck/internal/domain/query"
)

// Factory is a constructor function that creates a Backend for a source.
type Factory func(cfg Config) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[query.Source]Factory)
)

// Register makes a backend factory available for a source. It is called
// from an init() function in each adapter package.
func Register(source query.Source, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[source]; exists {
		panic(fmt.Sprintf("directory: duplicate registration for %q", source))
	}
	factories[source] = factory
}

// New creates a Backend for the given source using the registered factory.
func New(source query.Source, cfg Config) (Backend, error) {
	mu.RLock()
	factory, ok := factories[source]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("directory: no backend registered for %q", source)
	}
	return factory(cfg)
}

// Available returns the sources with a registered backend factory.
func Available() []query.Source {
	mu.RLock()
	defer mu.RUnlock()

	sources := make([]query.Source, 0, len(factories))
	for s := range factories {
		sources = append(sources, s)
	}
	return sources
}
