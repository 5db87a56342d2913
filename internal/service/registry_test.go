package service

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ReportDeck/reportdeck/internal/domain"
)

func TestRegistryMemoizes(t *testing.T) {
	r := NewRegistry()
	calls := 0

	for range 3 {
		v, err := r.GetOrCreate("svc", func() (any, error) {
			calls++
			return "instance", nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if v != "instance" {
			t.Fatalf("unexpected instance: %v", v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 factory call, got %d", calls)
	}
}

func TestRegistryFactoryErrorNotMemoized(t *testing.T) {
	r := NewRegistry()
	calls := 0

	_, err := r.GetOrCreate("svc", func() (any, error) {
		calls++
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	v, err := r.GetOrCreate("svc", func() (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != "ok" || calls != 2 {
		t.Fatalf("failed construction should not be memoized (calls=%d, v=%v)", calls, v)
	}
}

func TestRegistryCircularDependency(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetOrCreate("a", func() (any, error) {
		return r.GetOrCreate("a", func() (any, error) {
			return "never", nil
		})
	})
	if !errors.Is(err, domain.ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency, got %v", err)
	}
}

func TestRegistryIndirectCycle(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetOrCreate("a", func() (any, error) {
		return r.GetOrCreate("b", func() (any, error) {
			return r.GetOrCreate("a", func() (any, error) {
				return "never", nil
			})
		})
	})
	if !errors.Is(err, domain.ErrCircularDependency) {
		t.Fatalf("expected ErrCircularDependency through b, got %v", err)
	}
}

func TestRegistryConcurrentSingleConstruction(t *testing.T) {
	r := NewRegistry()
	var constructions atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := r.GetOrCreate("shared", func() (any, error) {
				constructions.Add(1)
				<-release
				return "built", nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = v
		}()
	}

	close(release)
	wg.Wait()

	if got := constructions.Load(); got != 1 {
		t.Fatalf("expected exactly one construction, got %d", got)
	}
	for i, v := range results {
		if v != "built" {
			t.Fatalf("caller %d got %v", i, v)
		}
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	calls := 0
	factory := func() (any, error) {
		calls++
		return fmt.Sprintf("instance-%d", calls), nil
	}

	_, _ = r.GetOrCreate("svc", factory)
	r.Clear("svc")
	v, _ := r.GetOrCreate("svc", factory)

	if calls != 2 || v != "instance-2" {
		t.Fatalf("expected reconstruction after Clear (calls=%d, v=%v)", calls, v)
	}

	r.ClearAll()
	_, _ = r.GetOrCreate("svc", factory)
	if calls != 3 {
		t.Fatalf("expected reconstruction after ClearAll, got %d calls", calls)
	}
}
