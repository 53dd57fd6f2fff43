package logdata

import (
	"cmp"
	"slices"
	"sync"

	"github.com/tinytelemetry/sflogs/internal/logging"
)

// Notifier fans one value out to every subscriber, in subscription order.
// After Close, Emit and Subscribe are silent no-ops.
type Notifier[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
	closed bool
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// NewNotifier creates an open notifier with no subscribers.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{}
}

// Subscribe registers fn and returns a handle that removes it. The handle
// may be called more than once.
func (n *Notifier[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || fn == nil {
		return func() {}
	}
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier[T]) remove(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to the current subscribers and reports whether the
// notifier was still open. Subscribers run on the caller's goroutine without
// any lock held, so they may call back into the engine. A panicking
// subscriber is logged and skipped.
func (n *Notifier[T]) Emit(v T) bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	subs := append([]subscription[T](nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		deliver(s.fn, v)
	}
	return true
}

func deliver[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("logdata: subscriber panicked")
		}
	}()
	fn(v)
}

// Len returns the number of live subscriptions.
func (n *Notifier[T]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close drops every subscription. It is idempotent.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.subs = nil
}

// ordered delivers versioned values through a Notifier in version order.
// A value older than the last delivered one is dropped. A value published
// while another goroutine is delivering is queued, and that goroutine
// delivers it once the current value has reached every subscriber.
type ordered[T any] struct {
	n *Notifier[T]

	mu       sync.Mutex
	pending  []versioned[T]
	last     uint64
	draining bool
}

type versioned[T any] struct {
	seq uint64
	v   T
}

func newOrdered[T any](n *Notifier[T]) *ordered[T] {
	return &ordered[T]{n: n}
}

// publish hands v, stamped with seq, to the subscribers. It returns once v
// is delivered or queued behind a delivery in progress.
func (o *ordered[T]) publish(seq uint64, v T) {
	o.mu.Lock()
	if seq <= o.last {
		o.mu.Unlock()
		return
	}
	i, _ := slices.BinarySearchFunc(o.pending, seq, func(e versioned[T], s uint64) int {
		return cmp.Compare(e.seq, s)
	})
	o.pending = slices.Insert(o.pending, i, versioned[T]{seq: seq, v: v})
	if o.draining {
		o.mu.Unlock()
		return
	}

	o.draining = true
	for len(o.pending) > 0 {
		next := o.pending[0]
		o.pending = slices.Delete(o.pending, 0, 1)
		if next.seq <= o.last {
			continue
		}
		o.last = next.seq
		o.mu.Unlock()
		o.n.Emit(next.v)
		o.mu.Lock()
	}
	o.draining = false
	o.mu.Unlock()
}
