// Package service contains the credential, cache, and query execution
// services and the lazy singleton registry that wires them.
package service

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/ReportDeck/reportdeck/internal/domain"
)

// Registry memoizes lazily-constructed singletons. It is an arena owned
// by the process wiring, never a package-level global, and detects a
// factory that transitively requests its own key.
type Registry struct {
	mu        sync.Mutex
	instances map[string]any
	inflight  map[string]*construction
}

// construction tracks one in-progress factory call. gid identifies the
// constructing goroutine so re-entrant requests for the same key fail
// fast instead of deadlocking.
type construction struct {
	done chan struct{}
	gid  uint64
	val  any
	err  error
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]any),
		inflight:  make(map[string]*construction),
	}
}

// GetOrCreate returns the memoized instance for key, constructing it
// with factory on first use. Under concurrency the first caller wins;
// later callers wait for the in-flight construction rather than
// double-constructing. A factory that requests its own key returns
// ErrCircularDependency.
func (r *Registry) GetOrCreate(key string, factory func() (any, error)) (any, error) {
	gid := goroutineID()

	r.mu.Lock()
	if v, ok := r.instances[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	if c, ok := r.inflight[key]; ok {
		if c.gid == gid {
			r.mu.Unlock()
			return nil, fmt.Errorf("service %q requested during its own construction: %w", key, domain.ErrCircularDependency)
		}
		r.mu.Unlock()
		<-c.done
		return c.val, c.err
	}

	c := &construction{done: make(chan struct{}), gid: gid}
	r.inflight[key] = c
	r.mu.Unlock()

	val, err := factory()

	r.mu.Lock()
	delete(r.inflight, key)
	if err == nil {
		r.instances[key] = val
	}
	r.mu.Unlock()

	c.val, c.err = val, err
	close(c.done)
	return val, err
}

// Clear discards the memoized instance for key, for test isolation.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	delete(r.instances, key)
	r.mu.Unlock()
}

// ClearAll discards every memoized instance.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.instances = make(map[string]any)
	r.mu.Unlock()
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine N [..."). Used only for re-entrancy detection; never for
// identity beyond that.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
