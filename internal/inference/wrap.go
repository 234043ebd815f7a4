package inference

import (
	"context"
	"errors"
	"sync"
)

// Serialized allows one call at a time, for backends that own an exclusive
// resource such as a single accelerator.
type Serialized struct {
	mu    sync.Mutex
	inner Backend
}

func NewSerialized(inner Backend) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Summarize(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.inner.Summarize(ctx, req)
}

func (s *Serialized) Close() error { return Close(s.inner) }

// Loader builds a backend instance.
type Loader func(ctx context.Context) (Backend, error)

// Lazy builds its backend on first use and rebuilds it after maxUses calls,
// which bounds resource growth in long-lived workers. A retired instance is
// closed once its in-flight calls return. maxUses <= 0 never recycles.
type Lazy struct {
	load    Loader
	maxUses int

	mu      sync.Mutex
	current *generation
	loads   int
}

type generation struct {
	backend  Backend
	uses     int
	inflight int
	retired  bool
}

func NewLazy(load Loader, maxUses int) *Lazy {
	return &Lazy{load: load, maxUses: maxUses}
}

func (l *Lazy) Summarize(ctx context.Context, req Request) (string, error) {
	gen, err := l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer l.release(gen)
	return gen.backend.Summarize(ctx, req)
}

func (l *Lazy) acquire(ctx context.Context) (*generation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		b, err := l.load(ctx)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errors.New("backend loader returned nil")
		}
		l.current = &generation{backend: b}
		l.loads++
	}
	gen := l.current
	gen.uses++
	gen.inflight++
	if l.maxUses > 0 && gen.uses >= l.maxUses {
		gen.retired = true
		l.current = nil
	}
	return gen, nil
}

func (l *Lazy) release(gen *generation) {
	l.mu.Lock()
	gen.inflight--
	idle := gen.retired && gen.inflight == 0
	l.mu.Unlock()
	if idle {
		_ = Close(gen.backend)
	}
}

// Loads reports how many backend instances have been built.
func (l *Lazy) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// Close retires the current instance.
func (l *Lazy) Close() error {
	l.mu.Lock()
	gen := l.current
	l.current = nil
	if gen == nil {
		l.mu.Unlock()
		return nil
	}
	gen.retired = true
	idle := gen.inflight == 0
	l.mu.Unlock()
	if idle {
		return Close(gen.backend)
	}
	return nil
}
