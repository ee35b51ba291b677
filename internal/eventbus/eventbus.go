package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handler processes events of type T.
type Handler[T any] func(context.Context, T)

type subscriber struct {
	token uint64
	fn    func(context.Context, any)
}

// Bus is a small synchronous in-process event dispatcher. Publishing runs
// every handler registered for the event's dynamic type on the publishing
// goroutine; handlers must be quick and must not block.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[reflect.Type][]subscriber
}

// New creates an empty Bus.
func New() *Bus { return &Bus{subs: make(map[reflect.Type][]subscriber)} }

func (b *Bus) subscribe(t reflect.Type, fn func(context.Context, any)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	token := b.next
	b.subs[t] = append(b.subs[t], subscriber{token: token, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[t]
		for i, s := range list {
			if s.token == token {
				b.subs[t] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[t]) == 0 {
			delete(b.subs, t)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e any) {
	if b == nil {
		return
	}
	t := reflect.TypeOf(e)
	b.mu.RLock()
	list := b.subs[t]
	if len(list) == 0 {
		b.mu.RUnlock()
		return
	}
	copied := append([]subscriber(nil), list...)
	b.mu.RUnlock()
	for _, s := range copied {
		s.fn(ctx, e)
	}
}

var global atomic.Pointer[Bus]

// Use installs b as the process-wide bus. Passing nil disables publishing.
func Use(b *Bus) { global.Store(b) }

// Subscribe registers h with the process-wide bus for events of type T and
// returns a function that removes the registration.
func Subscribe[T any](h Handler[T]) (unsubscribe func()) {
	b := global.Load()
	if b == nil {
		return func() {}
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	return b.subscribe(t, func(ctx context.Context, v any) { h(ctx, v.(T)) })
}

// Publish sends e through the process-wide bus.
func Publish[T any](ctx context.Context, e T) {
	if b := global.Load(); b != nil {
		b.dispatch(ctx, e)
	}
}
