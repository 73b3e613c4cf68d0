package match

import (
	"sync"

	"github.com/samber/lo"
)

type identified interface {
	comparable
	ID() string
}

// registry is a lock-guarded id index preserving insertion order.
type registry[T identified] struct {
	mu    sync.RWMutex
	byID  map[string]T
	order []T
}

func newRegistry[T identified]() *registry[T] {
	return &registry[T]{byID: make(map[string]T)}
}

func (r *registry[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[v.ID()]; ok {
		return
	}
	r.byID[v.ID()] = v
	r.order = append(r.order, v)
}

// Remove deletes v. Only the caller that gets true owns v's teardown.
func (r *registry[T]) Remove(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[v.ID()]
	if !ok || cur != v {
		return false
	}
	delete(r.byID, v.ID())
	r.order = lo.Without(r.order, v)
	return true
}

func (r *registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	return v, ok
}

func (r *registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), r.order...)
}

// Drain empties the registry and returns what it held, in insertion order.
func (r *registry[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.order
	r.order = nil
	r.byID = make(map[string]T)
	return out
}
