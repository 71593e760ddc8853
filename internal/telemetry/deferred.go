package telemetry

import (
	"context"
	"sync"
)

type pendingKey struct{}

type pendingEvent struct {
	client     Client
	name       string
	properties map[string]string
}

// Pending holds events tracked inside a ledger transaction until the
// transaction commits.
type Pending struct {
	mu     sync.Mutex
	events []pendingEvent
}

// Defer returns a context whose Track calls are held in the returned Pending.
// A Pending nested inside another shadows it.
func Defer(ctx context.Context) (context.Context, *Pending) {
	p := &Pending{}
	return context.WithValue(ctx, pendingKey{}, p), p
}

// Track sends an event to c, or holds it when ctx carries a Pending.
func Track(ctx context.Context, c Client, name string, properties map[string]string) {
	if p, ok := ctx.Value(pendingKey{}).(*Pending); ok && p != nil {
		p.mu.Lock()
		p.events = append(p.events, pendingEvent{client: c, name: name, properties: properties})
		p.mu.Unlock()
		return
	}
	c.TrackEvent(name, properties)
}

// Flush emits the held events in order and empties p.
func (p *Pending) Flush() {
	p.mu.Lock()
	events := p.events
	p.events = nil
	p.mu.Unlock()
	for _, e := range events {
		e.client.TrackEvent(e.name, e.properties)
	}
}
