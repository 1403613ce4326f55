package event

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 1024

// Handler consumes events on its own goroutine.
type Handler func(Event)

// Bus numbers events, keeps the full log and fans events out to
// subscribers. Publish never blocks on a subscriber: a subscriber whose
// queue is full is dropped, and a subscriber that panics is stopped.
type Bus struct {
	mu     sync.Mutex
	seq    int64
	log    []Event
	subs   map[int]*subscriber
	nextID int
	closed bool
	buffer int
	wg     sync.WaitGroup

	now func() time.Time
}

type subscriber struct {
	id     int
	name   string
	ch     chan Event
	closed bool
}

// NewBus creates a bus. bufferSize <= 0 selects DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: bufferSize,
		now:    time.Now,
	}
}

// Publish appends an event to the log and queues it for every subscriber.
// Events published after Close are still logged but not delivered.
func (b *Bus) Publish(p Payload) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev := Event{Seq: b.seq, Time: b.now().UTC(), Payload: p}
	b.log = append(b.log, ev)
	if b.closed {
		return ev
	}
	for id, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("event subscriber dropped: queue full", "subscriber", s.name, "seq", ev.Seq)
			b.removeLocked(id)
		}
	}
	return ev
}

// Subscribe registers fn under name and returns a function that removes it.
// fn runs on a dedicated goroutine and sees events in publish order.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	b.nextID++
	s := &subscriber{id: b.nextID, name: name, ch: make(chan Event, b.buffer)}
	b.subs[s.id] = s

	b.wg.Add(1)
	go b.run(s, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(s.id)
	}
}

func (b *Bus) run(s *subscriber, fn Handler) {
	defer b.wg.Done()
	failed := false
	for ev := range s.ch {
		if failed {
			continue
		}
		if err := deliver(fn, ev); err != nil {
			slog.Error("event subscriber stopped", "subscriber", s.name, "seq", ev.Seq, "error", err)
			failed = true
			b.mu.Lock()
			b.removeLocked(s.id)
			b.mu.Unlock()
		}
	}
}

func deliver(fn Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn(ev)
	return nil
}

func (b *Bus) removeLocked(id int) {
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Events returns a copy of the event log.
func (b *Bus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.log))
	copy(out, b.log)
	return out
}

// LastSeq returns the sequence number of the newest event, 0 if none.
func (b *Bus) LastSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops delivery and waits for subscribers to finish their queued
// events. It must not be called from a Handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id := range b.subs {
			b.removeLocked(id)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}
