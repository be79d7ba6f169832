package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

type subscription struct {
	id      uint64
	kinds   map[Kind]struct{}
	handler Handler
}

type pending struct {
	rec  Record
	subs []*subscription
}

// Bus delivers records to the handlers subscribed to the record's kind, in
// subscription order. Delivery is serialised: at most one handler runs at a
// time per bus, and records are delivered in the order they were emitted.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     []*subscription
	log      zerolog.Logger
	queue    []pending
	draining bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the sink that handler faults are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// New constructs an isolated bus.
func New(opts ...Option) *Bus {
	b := &Bus{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus for callers that do not construct
// their own.
func Default() *Bus {
	defaultOnce.Do(func() { defaultBus = New() })
	return defaultBus
}

// SetLogger replaces the fault sink.
func (b *Bus) SetLogger(l zerolog.Logger) {
	b.mu.Lock()
	b.log = l
	b.mu.Unlock()
}

// Subscribe registers h for records of kind k.
func (b *Bus) Subscribe(k Kind, h Handler) Unsubscribe {
	return b.SubscribeMany([]Kind{k}, h)
}

// SubscribeMany registers h once for every kind in kinds. The handler is
// invoked at most once per emitted record.
func (b *Bus) SubscribeMany(kinds []Kind, h Handler) Unsubscribe {
	if h == nil || len(kinds) == 0 {
		return func() {}
	}
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[Normalize(k)] = struct{}{}
	}
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, kinds: set, handler: h}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// copy-on-write: snapshots taken by in-progress emits keep the old slice
			next := make([]*subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			next = append(next, b.subs[i+1:]...)
			b.subs = next
			return
		}
	}
}

// Len reports the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers rec to every handler subscribed to its kind at the moment
// Emit is called. Handler failures are logged and never reach the caller.
//
// The goroutine that finds the bus idle drains the queue; an Emit made while
// another delivery is in progress (re-entrantly from a handler, or from
// another goroutine) is queued behind it and returns without waiting.
// Subscription changes made by handlers apply to later emits only.
func (b *Bus) Emit(rec Record) {
	rec.Kind = Normalize(rec.Kind)

	b.mu.Lock()
	b.queue = append(b.queue, pending{rec: rec, subs: b.subs})
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		p := b.queue[0]
		b.queue[0] = pending{}
		b.queue = b.queue[1:]
		log := b.log
		b.mu.Unlock()

		for _, s := range p.subs {
			if _, ok := s.kinds[p.rec.Kind]; !ok {
				continue
			}
			deliver(log, s.handler, p.rec)
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

func deliver(log zerolog.Logger, h Handler, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(rec.Kind)).
				Str("event_id", rec.ID).
				Err(fmt.Errorf("panic: %v", r)).
				Msg("event handler panicked")
		}
	}()
	rec.Payload = clonePayload(rec.Payload)
	if err := h(rec); err != nil {
		log.Error().
			Str("event", string(rec.Kind)).
			Str("event_id", rec.ID).
			Err(err).
			Msg("event handler failed")
	}
}
