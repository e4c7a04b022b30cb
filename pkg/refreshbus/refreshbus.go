// Package refreshbus implements the broadcast primitive that carries
// invalidation commands from operators and embedding programs to every
// Response Cache instance sharing a Bus.
package refreshbus

import "sync"

// CommandKind distinguishes the two refresh command variants.
type CommandKind int

const (
	// ClearAll requests that every Ready entry be removed.
	ClearAll CommandKind = iota
	// ClearMatching requests that every Ready entry whose key matches
	// Pattern (under pkg/pattern's grammar) be removed.
	ClearMatching
	// Lagged is delivered to a subscriber that fell behind; a recipient
	// must treat it exactly like ClearAll.
	Lagged
)

// Command is a message published on the Bus.
type Command struct {
	Kind    CommandKind
	Pattern string
}

// subscriberBacklog bounds how many commands a slow subscriber may
// queue before it is force-converted to a ClearAll.
const subscriberBacklog = 16

// Bus is a clone-cheap broadcast source: every value derived from New
// (and every subscription taken from it) targets the same underlying
// stream. It is safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Command
	next int
}

// New creates a Bus with no subscribers.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Command)}
}

// Trigger publishes a ClearAll command to every current subscriber.
func (b *Bus) Trigger() {
	b.publish(Command{Kind: ClearAll})
}

// TriggerByKeyMatch publishes a ClearMatching command for pattern to
// every current subscriber.
func (b *Bus) TriggerByKeyMatch(pattern string) {
	b.publish(Command{Kind: ClearMatching, Pattern: pattern})
}

// Subscribe returns a receive channel that will observe every command
// published after this call. If the receiver falls behind by more than
// the bus's bounded backlog, it observes a Lagged command instead of
// the commands it missed - a safe, conservative stand-in for whatever
// was dropped. Callers must keep draining the channel; Unsubscribe
// removes it when no longer needed.
func (b *Bus) Subscribe() (<-chan Command, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Command, subscriberBacklog)
	b.subs[id] = ch
	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (b *Bus) publish(cmd Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- cmd:
		default:
			// Subscriber's backlog is full: drain it and force a
			// conservative ClearAll rather than blocking the publisher
			// or growing the queue unboundedly.
			b.drainLocked(ch)
			ch <- Command{Kind: Lagged}
		}
	}
}

func (b *Bus) drainLocked(ch chan Command) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
