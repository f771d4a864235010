package session

import (
	"maps"
	"slices"
	"sync"
)

// listeners is a set of callbacks keyed by registration order.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (l *listeners[T]) add(fn func(T)) (remove func()) {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, id := range slices.Sorted(maps.Keys(l.fns)) {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	l.fns = nil
	l.mu.Unlock()
}
