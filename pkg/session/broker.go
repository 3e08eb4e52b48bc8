package session

import "sync"

// Subscription is one consumer's view of the published events.
// C is closed on Close and, unless the subscription came from Watch,
// after the session's terminal event.
type Subscription struct {
	C <-chan Event

	id     uint64
	broker *broker
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s.id)
}

// broker fans events out to subscribers without ever blocking the publisher.
type broker struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	size   int
}

type subscriber struct {
	ch         chan Event
	persistent bool // Survives terminal events
}

func newBroker(size int) *broker {
	return &broker{subs: make(map[uint64]*subscriber), size: size}
}

func (b *broker) subscribe(persistent bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, b.size)
	b.subs[b.nextID] = &subscriber{ch: ch, persistent: persistent}
	return &Subscription{C: ch, id: b.nextID, broker: b}
}

func (b *broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// publish delivers ev to every subscriber with room and returns how many
// subscribers missed it.
func (b *broker) publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	missed := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			missed++
		}
	}
	return missed
}

// finish delivers a terminal event and closes every per-session
// subscriber. A full subscriber loses its oldest pending event so the
// terminal one fits.
func (b *broker) finish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
		if !sub.persistent {
			close(sub.ch)
			delete(b.subs, id)
		}
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
