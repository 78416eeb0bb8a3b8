// Package logbus is the in-process event stream behind the dashboard
// websocket. It keeps a bounded history and fans messages out to
// subscribers without ever blocking a publisher.
package logbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type subscriber struct {
	ch    chan Message
	types map[string]struct{}
}

func (s *subscriber) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type Bus struct {
	mu      sync.RWMutex
	history []Message
	cap     int
	subs    map[*subscriber]struct{}
	closed  bool
	dropped atomic.Uint64
	now     func() time.Time
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:     capacity,
		history: make([]Message, 0, capacity),
		subs:    make(map[*subscriber]struct{}),
		now:     time.Now,
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
	b.history = nil
}

// Snapshot returns the retained history, oldest first, limited to types
// when any are given.
func (b *Bus) Snapshot(types ...string) []Message {
	filter := typeSet(types)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, len(b.history))
	for _, m := range b.history {
		if len(filter) > 0 {
			if _, ok := filter[m.Type]; !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// Subscribe registers a receiver for future messages. With types given only
// those message types are delivered. A receiver that falls behind loses
// messages rather than stalling publishers; Dropped counts them.
func (b *Bus) Subscribe(buffer int, types ...string) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{ch: make(chan Message, buffer), types: typeSet(types)}
	b.mu.Lock()
	if b.closed {
		close(s.ch)
		b.mu.Unlock()
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}
	return s.ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{Type: typ, Time: b.now().UnixMilli(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if len(b.history) == b.cap {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.cap-1]
	}
	b.history = append(b.history, msg)
	for s := range b.subs {
		if !s.wants(typ) {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports messages discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.Publish(TypeLog, LogData{Level: level, Msg: message, Fields: fields})
}

func typeSet(types []string) map[string]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}
