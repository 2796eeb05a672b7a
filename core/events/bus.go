package events

import (
	"sync"

	"escrowledger/core/types"
)

// Sink receives every event synchronously on the emitting goroutine.
type Sink interface {
	Handle(*types.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(*types.Event)

// Handle implements Sink.
func (f SinkFunc) Handle(evt *types.Event) { f(evt) }

// Bus fans events out to synchronous sinks and buffered subscribers. A
// subscriber whose buffer is full misses the event; sinks never do.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	subs    map[uint64]chan *types.Event
	nextID  uint64
	dropped uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan *types.Event)}
}

// AddSink registers a synchronous sink.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Subscribe registers a buffered subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *types.Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit implements Emitter.
func (b *Bus) Emit(evt Event) {
	typed := ToTyped(evt)
	if typed == nil {
		return
	}
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Handle(typed.Clone())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- typed.Clone():
		default:
			b.dropped++
		}
	}
}

// Dropped reports how many subscriber deliveries were skipped because a
// buffer was full.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
