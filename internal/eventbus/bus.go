// Package eventbus is the in-process fanout used for notification lifecycle
// events, navigation requests and the HTTP event stream.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one signal. Publish never blocks; a subscriber whose buffer is
// full misses the event and its drop counter grows.
//
// Data should stay small and JSON-serializable; the stream endpoint encodes it.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Stats is implemented by buses created with New.
type Stats interface {
	Published() uint64
	Dropped() uint64
	Subscribers() int
}

const defaultBuffer = 8

func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Unsubscribe closes under the write lock, so sends under RLock never
	// hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Published() uint64 { return b.published.Load() }
func (b *memBus) Dropped() uint64   { return b.dropped.Load() }

func (b *memBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// MatchType reports whether typ is selected by any of the comma separated
// prefixes in filter. An empty filter matches everything.
func MatchType(filter, typ string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}
