package store

import (
	"fmt"

	"github.com/rerun-io/chunkstore/storeerr"
)

// Subscriber observes a store's ordered event stream to maintain
// derived state. Implementations must not call back into the store
// with mutating operations from inside OnEvents; read-only access is
// fine.
type Subscriber interface {
	OnEvents(events []Event)
}

// SubscriberFactory produces a per-store Subscriber instance. The same
// factory value can be registered with many stores; each store gets
// its own independent instance, created lazily on first delivery.
type SubscriberFactory func() Subscriber

// SubscriberHandle identifies a subscriber registered with one store.
type SubscriberHandle struct {
	id uint64
}

type subscriberSlot struct {
	handle   SubscriberHandle
	factory  SubscriberFactory
	instance Subscriber
	poisoned bool
}

// RegisterSubscriber registers factory with this store. The
// subscriber is instantiated lazily, on the first event delivery that
// follows registration, and then receives every subsequent batch.
func (s *ChunkStore) RegisterSubscriber(factory SubscriberFactory) SubscriberHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubscriberID++
	handle := SubscriberHandle{id: s.nextSubscriberID}
	s.subscribers = append(s.subscribers, &subscriberSlot{handle: handle, factory: factory})
	return handle
}

// Incidents drains the recorded subscriber-panic incidents since the
// last call.
func (s *ChunkStore) Incidents() []storeerr.SubscriberIncident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.incidents
	s.incidents = nil
	return out
}

// deliver fans events out to every non-poisoned subscriber, in
// emission order, under the caller's write lock. A subscriber panic is
// recovered, the subscriber is poisoned (no further deliveries), and
// the incident is recorded out-of-band; the write itself is never
// rolled back.
func (s *ChunkStore) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, slot := range s.subscribers {
		if slot.poisoned {
			continue
		}
		if slot.instance == nil {
			slot.instance = slot.factory()
		}
		s.deliverOne(slot, events)
	}
}

func (s *ChunkStore) deliverOne(slot *subscriberSlot, events []Event) {
	defer func() {
		if r := recover(); r != nil {
			slot.poisoned = true
			s.incidents = append(s.incidents, storeerr.SubscriberIncident{
				Subscriber: fmt.Sprintf("subscriber#%d", slot.handle.id),
				Recovered:  r,
			})
			s.logger.Error().
				Uint64("subscriber_id", slot.handle.id).
				Interface("recovered", r).
				Msg("subscriber panicked handling chunk store events; isolating it")
		}
	}()
	slot.instance.OnEvents(events)
}
