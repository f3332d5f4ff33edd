package realtime

import (
	"context"
	"sync"
)

// Leaver detaches one shared channel from the transport.
type Leaver interface {
	Leave() error
}

// LeaveFunc adapts a function to Leaver.
type LeaveFunc func() error

func (f LeaveFunc) Leave() error { return f() }

// Transport moves events between processes. The manager joins each
// channel once no matter how many local subscribers it has.
type Transport interface {
	Join(ctx context.Context, channel string, deliver func(Event)) (Leaver, error)
	Publish(ctx context.Context, channel string, ev Event) error
	Close() error
}

// MemoryTransport delivers events inside a single process.
type MemoryTransport struct {
	mu      sync.RWMutex
	members map[string]map[int]func(Event)
	nextID  int
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{members: make(map[string]map[int]func(Event))}
}

func (t *MemoryTransport) Join(_ context.Context, channel string, deliver func(Event)) (Leaver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	if t.members[channel] == nil {
		t.members[channel] = make(map[int]func(Event))
	}
	t.members[channel][id] = deliver

	return LeaveFunc(func() error {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.members[channel], id)
		if len(t.members[channel]) == 0 {
			delete(t.members, channel)
		}
		return nil
	}), nil
}

func (t *MemoryTransport) Publish(_ context.Context, channel string, ev Event) error {
	t.mu.RLock()
	targets := make([]func(Event), 0, len(t.members[channel]))
	for _, d := range t.members[channel] {
		targets = append(targets, d)
	}
	t.mu.RUnlock()

	for _, deliver := range targets {
		deliver(ev)
	}
	return nil
}

// Joined returns how many joins are active on channel.
func (t *MemoryTransport) Joined(channel string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members[channel])
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.members = make(map[string]map[int]func(Event))
	t.mu.Unlock()
	return nil
}
