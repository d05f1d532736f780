// Package pubsub implements the generic handler registries the rest of
// the runtime specialises: a plain Subscriber (§3 "Subscriber /
// Desubscriber"), a keyed variant used by the broadcaster, the
// Distributor (§4.5), and the Broadcaster (§4.6).
package pubsub

import (
	"sync"

	"github.com/libbitcoin/network/internal/errcode"
)

// Handler is invoked once per notification. Returning false
// unsubscribes the handler; true keeps it registered for future
// notifications.
type Handler[V any] func(code errcode.Code, value V) bool

// Subscriber is an unkeyed registry of Handlers sharing a value type V.
type Subscriber[V any] struct {
	mu       sync.Mutex
	handlers []Handler[V]
	stopped  bool
	stopCode errcode.Code
}

// NewSubscriber constructs an empty, running Subscriber.
func NewSubscriber[V any]() *Subscriber[V] {
	return &Subscriber[V]{}
}

// Subscribe registers handler. Returns errcode.SubscriberStopped if the
// registry has already been stopped — the handler is never invoked.
func (s *Subscriber[V]) Subscribe(handler Handler[V]) errcode.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errcode.SubscriberStopped
	}
	s.handlers = append(s.handlers, handler)
	return errcode.Success
}

// Notify invokes every subscribed handler with (code, value) in
// subscription order, dropping handlers that return false.
func (s *Subscriber[V]) Notify(code errcode.Code, value V) {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	kept := handlers[:0]
	for _, h := range handlers {
		if h(code, value) {
			kept = append(kept, h)
		}
	}

	s.mu.Lock()
	if !s.stopped {
		s.handlers = append(kept, s.handlers...)
	}
	s.mu.Unlock()
}

// Stop notifies every handler exactly once with code and a zero value,
// then refuses further subscription. Idempotent: only the first call's
// code is ever observed (P3) — later calls are no-ops.
func (s *Subscriber[V]) Stop(code errcode.Code) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.stopCode = code
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	var zero V
	for _, h := range handlers {
		h(code, zero)
	}
}

// Stopped reports whether Stop has already been called, and with what
// code.
func (s *Subscriber[V]) Stopped() (bool, errcode.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.stopCode
}

// Count returns the number of currently subscribed handlers.
func (s *Subscriber[V]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Keyed is a registry of Handlers indexed by a comparable key, used by
// the Broadcaster to support NotifyOne/Unsubscribe by channel
// identifier.
type Keyed[K comparable, V any] struct {
	mu       sync.Mutex
	handlers map[K]Handler[V]
	order    []K
	stopped  bool
}

// NewKeyed constructs an empty, running Keyed registry.
func NewKeyed[K comparable, V any]() *Keyed[K, V] {
	return &Keyed[K, V]{handlers: make(map[K]Handler[V])}
}

// Subscribe registers handler under key. Returns
// errcode.SubscriberExists if key is already registered, or
// errcode.SubscriberStopped if the registry has been stopped.
func (k *Keyed[K, V]) Subscribe(key K, handler Handler[V]) errcode.Code {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.stopped {
		return errcode.SubscriberStopped
	}
	if _, exists := k.handlers[key]; exists {
		return errcode.SubscriberExists
	}
	k.handlers[key] = handler
	k.order = append(k.order, key)
	return errcode.Success
}

// Notify invokes every subscribed handler with (code, value), dropping
// handlers that return false.
func (k *Keyed[K, V]) Notify(code errcode.Code, value V) {
	k.mu.Lock()
	order := append([]K(nil), k.order...)
	k.mu.Unlock()

	for _, key := range order {
		k.mu.Lock()
		h, ok := k.handlers[key]
		k.mu.Unlock()
		if !ok {
			continue
		}
		if !h(code, value) {
			k.remove(key)
		}
	}
}

// NotifyOne invokes only the handler registered under key, if any.
func (k *Keyed[K, V]) NotifyOne(key K, code errcode.Code, value V) {
	k.mu.Lock()
	h, ok := k.handlers[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	if !h(code, value) {
		k.remove(key)
	}
}

// Unsubscribe notifies the handler registered under key with
// errcode.Desubscribed, then removes it. A no-op if key is absent.
func (k *Keyed[K, V]) Unsubscribe(key K) {
	k.mu.Lock()
	h, ok := k.handlers[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	var zero V
	h(errcode.Desubscribed, zero)
	k.remove(key)
}

func (k *Keyed[K, V]) remove(key K) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.handlers, key)
	for i, existing := range k.order {
		if existing == key {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

// Stop notifies every handler once with (code, zero value) and refuses
// further subscription. Idempotent.
func (k *Keyed[K, V]) Stop(code errcode.Code) {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return
	}
	k.stopped = true
	handlers := k.handlers
	k.handlers = make(map[K]Handler[V])
	order := k.order
	k.order = nil
	k.mu.Unlock()

	var zero V
	for _, key := range order {
		if h, ok := handlers[key]; ok {
			h(code, zero)
		}
	}
}

// Count returns the number of currently subscribed keys.
func (k *Keyed[K, V]) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.handlers)
}
