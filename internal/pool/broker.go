package pool

import "sync"

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// Broker fans job events out to per-job subscribers. It is an Observer:
// attach it to a pool and subscribe by job id. The stream of a job closes
// after its terminal event.
//
// Closed topics are retained as markers so that late subscribers get a closed
// channel instead of blocking forever. Forget drops a marker once nobody can
// ask for that job again.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

var _ Observer = (*Broker)(nil)

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given job and an
// unsubscribe function. If the job already finished, the returned channel is
// immediately closed.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[jobID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

// Observe publishes job events to subscribers and closes the topic on the
// terminal event. Non-job events are ignored.
func (b *Broker) Observe(e Event) {
	if e.JobID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[e.JobID]
	if !ok {
		if !e.Terminal() {
			return
		}
		t = &eventTopic{subs: make(map[int]chan Event)}
		b.topics[e.JobID] = t
	}
	if t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
			// Drop for slow subscribers to avoid blocking workers.
		}
	}

	if e.Terminal() {
		t.closed = true
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}

// Forget drops all state for jobID.
func (b *Broker) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
	delete(b.topics, jobID)
}
